package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"adeguard/analysis"
	"adeguard/batch"
	"adeguard/models"
	"adeguard/pipeline"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "adectl",
		Short:        "Analyse adverse event reports from the command line",
		SilenceUsage: true,
	}

	root.AddCommand(newAnalyzeCmd(), newBatchCmd(), newRulesCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newPipeline(rulesPath string, opts pipeline.Options) (*pipeline.Pipeline, error) {
	store, err := analysis.NewRuleStore(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return pipeline.New(
		analysis.NewRuleBasedExtractor(store),
		analysis.NewRuleBasedClassifier(store),
		analysis.NewRuleBasedClusterAnalyzer(store),
		analysis.NewRuleBasedExplainer(),
		opts,
	), nil
}

func newAnalyzeCmd() *cobra.Command {
	var (
		rulesPath    string
		age          int
		noClustering bool
		noExplain    bool
		threshold    float64
	)

	cmd := &cobra.Command{
		Use:   "analyze <text>",
		Short: "Analyse a single report and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(rulesPath, pipeline.Options{})
			if err != nil {
				return err
			}

			report := models.NewReportRequest(args[0])
			report.IncludeClustering = !noClustering
			report.IncludeExplainability = !noExplain
			if cmd.Flags().Changed("age") {
				report.PatientAge = &age
			}
			if cmd.Flags().Changed("threshold") {
				report.ConfidenceThreshold = &threshold
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			result, err := p.Process(ctx, report)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "rules YAML file (built-in tables when empty)")
	cmd.Flags().IntVar(&age, "age", 0, "patient age in years")
	cmd.Flags().BoolVar(&noClustering, "no-clustering", false, "skip cluster analysis")
	cmd.Flags().BoolVar(&noExplain, "no-explain", false, "skip the explanation stage")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "entity confidence threshold")

	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		rulesPath string
		failFast  bool
		workers   int
		maxSize   int
	)

	cmd := &cobra.Command{
		Use:   "batch <reports.json>",
		Short: "Analyse a JSON array of reports and print the batch result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read reports: %w", err)
			}
			var reports []models.ReportRequest
			if err := json.Unmarshal(data, &reports); err != nil {
				return fmt.Errorf("decode reports: %w", err)
			}

			p, err := newPipeline(rulesPath, pipeline.Options{})
			if err != nil {
				return err
			}
			coordinator := batch.NewCoordinator(p, batch.Config{MaxBatchSize: maxSize, Workers: workers})

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			result, err := coordinator.ProcessBatch(ctx, reports, batch.Options{
				SubmittedBy:             "adectl",
				Priority:                models.PriorityNormal,
				FailFast:                failFast,
				ReturnIndividualResults: true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d/%d reports succeeded\n", result.SuccessfulReports, len(reports))
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "rules YAML file (built-in tables when empty)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failed report")
	cmd.Flags().IntVar(&workers, "workers", batch.DefaultWorkers, "reports analysed concurrently")
	cmd.Flags().IntVar(&maxSize, "max-size", batch.DefaultMaxBatchSize, "largest accepted batch")

	return cmd
}

func newRulesCmd() *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the effective rule tables as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := analysis.NewRuleStore(rulesPath)
			if err != nil {
				return fmt.Errorf("load rules: %w", err)
			}
			out, err := store.Get().Rules().YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "rules YAML file (built-in tables when empty)")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
