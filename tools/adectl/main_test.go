package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"adeguard/models"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, cmd *cobra.Command, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.Bytes()
}

func TestAnalyzeCommand(t *testing.T) {
	out := run(t, newAnalyzeCmd(), "--age", "70", "--no-explain", "Patient developed severe headache and high fever after vaccination")

	var result models.ReportResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, models.SeveritySevere, result.SeverityAnalysis.PredictedSeverity)
	assert.Nil(t, result.Explainability)
	assert.Contains(t, result.SeverityAnalysis.RiskFactors, "elderly patient")
}

func TestBatchCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.json")
	body := `[{"symptom_text":"mild tiredness for one day"},{"symptom_text":"bad"}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	out := run(t, newBatchCmd(), "--workers", "1", path)

	var result models.BatchResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, 1, result.SuccessfulReports)
	assert.Equal(t, 1, result.FailedReports)
}

func TestRulesCommand(t *testing.T) {
	out := run(t, newRulesCmd())
	assert.Contains(t, string(out), "version: rules-v1.0")
}
