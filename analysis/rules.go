package analysis

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"adeguard/models"

	"gopkg.in/yaml.v3"
)

// EntityRule tags every occurrence of Terms with Label.
type EntityRule struct {
	Label      models.EntityLabel `yaml:"label"`
	Confidence float64            `yaml:"confidence"`
	Terms      []string           `yaml:"terms"`
}

// SeverityRule assigns Severity when any keyword is present. Rules are
// evaluated in order and the first match wins.
type SeverityRule struct {
	Severity      models.Severity             `yaml:"severity"`
	Keywords      []string                    `yaml:"keywords"`
	Probabilities map[models.Severity]float64 `yaml:"probabilities"`
}

// ReferenceCase is a previously seen report that belongs to a cluster.
type ReferenceCase struct {
	AgeGroup string `yaml:"age_group"`
	Severity string `yaml:"severity"`
}

// ClusterRule describes one cluster and the keywords that select it.
type ClusterRule struct {
	ID             int             `yaml:"id"`
	Label          string          `yaml:"label"`
	Keywords       []string        `yaml:"keywords"`
	CommonSymptoms []string        `yaml:"common_symptoms"`
	ReferenceCases []ReferenceCase `yaml:"reference_cases"`
}

// Rules is the complete keyword configuration of the rule-based stages.
type Rules struct {
	Version         string         `yaml:"version"`
	NERThreshold    float64        `yaml:"ner_threshold"`
	Entities        []EntityRule   `yaml:"entities"`
	Severity        []SeverityRule `yaml:"severity"`
	DefaultSeverity SeverityRule   `yaml:"default_severity"`
	Clusters        []ClusterRule  `yaml:"clusters"`
	DefaultCluster  ClusterRule    `yaml:"default_cluster"`
}

// DefaultRules returns the built-in rule tables.
func DefaultRules() *Rules {
	return &Rules{
		Version:      "rules-v1.0",
		NERThreshold: 0.8,
		Entities: []EntityRule{
			{Label: models.LabelADE, Confidence: 0.93, Terms: []string{
				"headache", "fever", "high fever", "rash", "hives", "nausea", "vomiting", "diarrhea",
				"chills", "muscle aches", "muscle pain", "joint pain", "swelling", "injection site pain",
				"difficulty breathing", "shortness of breath", "chest pain", "seizure", "seizures",
				"anaphylaxis", "anaphylactic shock", "cardiac arrest", "myocarditis", "pericarditis",
				"syncope", "fainting", "paralysis", "guillain-barre syndrome", "thrombosis", "blood clot",
				"high temperature", "palpitations", "itching", "allergic reaction",
			}},
			{Label: models.LabelADE, Confidence: 0.74, Terms: []string{
				"tiredness", "fatigue", "dizziness", "soreness", "malaise", "sore arm", "drowsiness",
			}},
			{Label: models.LabelDrug, Confidence: 0.9, Terms: []string{
				"vaccine", "vaccination", "pfizer", "moderna", "janssen", "astrazeneca", "comirnaty",
				"spikevax", "gardasil", "shingrix", "flu shot", "booster", "ibuprofen", "acetaminophen",
				"paracetamol", "aspirin", "amoxicillin", "penicillin", "epinephrine",
			}},
			{Label: models.LabelModifier, Confidence: 0.85, Terms: []string{
				"severe", "severely", "mild", "moderate", "high", "acute", "persistent", "intense",
				"extreme", "sudden", "chronic", "slight",
			}},
		},
		Severity: []SeverityRule{
			{
				Severity: models.SeverityLifeThreatening,
				Keywords: []string{"death", "died", "die", "life-threatening", "life threatening", "anaphylaxis", "anaphylactic shock", "cardiac arrest"},
				Probabilities: map[models.Severity]float64{
					models.SeverityMild: 0, models.SeverityModerate: 0.05, models.SeveritySevere: 0.05, models.SeverityLifeThreatening: 0.9,
				},
			},
			{
				Severity: models.SeveritySevere,
				Keywords: []string{"hospitalized", "hospitalised", "hospitalization", "emergency", "severe", "intensive care", "icu"},
				Probabilities: map[models.Severity]float64{
					models.SeverityMild: 0.05, models.SeverityModerate: 0.15, models.SeveritySevere: 0.8, models.SeverityLifeThreatening: 0,
				},
			},
			{
				Severity: models.SeverityModerate,
				Keywords: []string{"fever", "high temperature", "vomiting", "difficulty breathing"},
				Probabilities: map[models.Severity]float64{
					models.SeverityMild: 0.2, models.SeverityModerate: 0.7, models.SeveritySevere: 0.1, models.SeverityLifeThreatening: 0,
				},
			},
		},
		DefaultSeverity: SeverityRule{
			Severity: models.SeverityMild,
			Probabilities: map[models.Severity]float64{
				models.SeverityMild: 0.75, models.SeverityModerate: 0.2, models.SeveritySevere: 0.05, models.SeverityLifeThreatening: 0,
			},
		},
		Clusters: []ClusterRule{
			{
				ID:             2,
				Label:          "Severe systemic reactions",
				Keywords:       []string{"severe", "life-threatening", "hospitalized", "anaphylaxis", "seizure"},
				CommonSymptoms: []string{"anaphylaxis", "difficulty breathing", "seizure"},
				ReferenceCases: []ReferenceCase{
					{AgeGroup: "elderly", Severity: "severe"},
					{AgeGroup: "adult", Severity: "severe"},
					{AgeGroup: "elderly", Severity: "life_threatening"},
				},
			},
			{
				ID:             1,
				Label:          "Moderate allergic responses",
				Keywords:       []string{"moderate", "fever", "rash", "hives", "swelling"},
				CommonSymptoms: []string{"fever", "rash", "swelling"},
				ReferenceCases: []ReferenceCase{
					{AgeGroup: "child", Severity: "moderate"},
					{AgeGroup: "teen", Severity: "moderate"},
					{AgeGroup: "adult", Severity: "moderate"},
					{AgeGroup: "adult", Severity: "mild"},
				},
			},
		},
		DefaultCluster: ClusterRule{
			ID:             0,
			Label:          "Mild post-vaccination reactions",
			CommonSymptoms: []string{"injection site pain", "tiredness", "headache"},
			ReferenceCases: []ReferenceCase{
				{AgeGroup: "adult", Severity: "mild"},
				{AgeGroup: "adult", Severity: "mild"},
				{AgeGroup: "teen", Severity: "mild"},
				{AgeGroup: "elderly", Severity: "moderate"},
			},
		},
	}
}

// LoadRules reads rule tables from a YAML file. Sections missing from the
// file keep their built-in values.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rule tables over the defaults and validates them.
func ParseRules(data []byte) (*Rules, error) {
	rules := DefaultRules()
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate checks that the rule tables are usable.
func (r *Rules) Validate() error {
	if r.NERThreshold < 0 || r.NERThreshold > 1 {
		return fmt.Errorf("ner_threshold %v out of range", r.NERThreshold)
	}
	for _, e := range r.Entities {
		switch e.Label {
		case models.LabelADE, models.LabelDrug, models.LabelModifier:
		default:
			return fmt.Errorf("unknown entity label %q", e.Label)
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return fmt.Errorf("entity confidence %v out of range for %s", e.Confidence, e.Label)
		}
	}
	all := append(append([]SeverityRule{}, r.Severity...), r.DefaultSeverity)
	for _, s := range all {
		if _, ok := models.ParseSeverity(string(s.Severity)); !ok || s.Severity == models.SeverityUnknown {
			return fmt.Errorf("invalid severity %q", s.Severity)
		}
		sum := 0.0
		for label, p := range s.Probabilities {
			if label.Rank() == 0 {
				return fmt.Errorf("probability for undefined severity %q", label)
			}
			if p < 0 {
				return fmt.Errorf("negative probability for %s", label)
			}
			sum += p
		}
		if sum <= 0 {
			return fmt.Errorf("severity rule %s has no probability mass", s.Severity)
		}
	}
	return nil
}

// YAML renders the rules in the format LoadRules accepts.
func (r *Rules) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// matcher finds whole-word, case-insensitive occurrences of a term.
type matcher struct {
	term string
	re   *regexp.Regexp
}

func newMatcher(term string) matcher {
	term = strings.ToLower(strings.TrimSpace(term))
	return matcher{term: term, re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)}
}

func newMatchers(terms []string) []matcher {
	out := make([]matcher, 0, len(terms))
	for _, t := range terms {
		if strings.TrimSpace(t) == "" {
			continue
		}
		out = append(out, newMatcher(t))
	}
	// longest first so multi-word terms win over their parts
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].term) > len(out[j].term) })
	return out
}

// normalizeProbabilities returns a full distribution over the defined
// severities that sums to one.
func normalizeProbabilities(in map[models.Severity]float64) map[models.Severity]float64 {
	sum := 0.0
	for _, label := range models.DefinedSeverities {
		sum += in[label]
	}
	out := make(map[models.Severity]float64, len(models.DefinedSeverities))
	for _, label := range models.DefinedSeverities {
		out[label] = in[label] / sum
	}
	// fold rounding residue into the largest class
	residue := 1.0
	for _, label := range models.DefinedSeverities {
		residue -= out[label]
	}
	if math.Abs(residue) > 0 {
		top := models.DefinedSeverities[0]
		for _, label := range models.DefinedSeverities {
			if out[label] > out[top] {
				top = label
			}
		}
		out[top] += residue
	}
	return out
}

// RuleSet is a compiled, immutable form of Rules.
type RuleSet struct {
	rules    *Rules
	entities []compiledEntityRule
	severity []compiledSeverityRule
	fallback compiledSeverityRule
	clusters []compiledClusterRule
	cluster0 compiledClusterRule
}

type compiledEntityRule struct {
	label      models.EntityLabel
	confidence float64
	matchers   []matcher
}

type compiledSeverityRule struct {
	severity      models.Severity
	probabilities map[models.Severity]float64
	matchers      []matcher
}

type compiledClusterRule struct {
	rule     ClusterRule
	matchers []matcher
}

// Compile validates r and prepares its matchers.
func Compile(r *Rules) (*RuleSet, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	rs := &RuleSet{rules: r}
	for _, e := range r.Entities {
		rs.entities = append(rs.entities, compiledEntityRule{label: e.Label, confidence: e.Confidence, matchers: newMatchers(e.Terms)})
	}
	for _, s := range r.Severity {
		rs.severity = append(rs.severity, compileSeverity(s))
	}
	rs.fallback = compileSeverity(r.DefaultSeverity)
	for _, c := range r.Clusters {
		rs.clusters = append(rs.clusters, compiledClusterRule{rule: c, matchers: newMatchers(c.Keywords)})
	}
	rs.cluster0 = compiledClusterRule{rule: r.DefaultCluster}
	return rs, nil
}

// MustCompile is Compile for rule tables known to be valid.
func MustCompile(r *Rules) *RuleSet {
	rs, err := Compile(r)
	if err != nil {
		panic(err)
	}
	return rs
}

func compileSeverity(s SeverityRule) compiledSeverityRule {
	return compiledSeverityRule{
		severity:      s.Severity,
		probabilities: normalizeProbabilities(s.Probabilities),
		matchers:      newMatchers(s.Keywords),
	}
}

// Rules returns the source tables.
func (rs *RuleSet) Rules() *Rules {
	return rs.rules
}

// RuleStore holds the active RuleSet and allows it to be swapped while
// stages are in use.
type RuleStore struct {
	current atomic.Pointer[RuleSet]
	path    string

	mu          sync.Mutex
	nerOverride *float64
}

// NewRuleStore loads rules from path, or the defaults when path is empty.
func NewRuleStore(path string) (*RuleStore, error) {
	s := &RuleStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticRuleStore wraps an already compiled RuleSet.
func NewStaticRuleStore(rs *RuleSet) *RuleStore {
	s := &RuleStore{}
	s.current.Store(rs)
	return s
}

// Get returns the active RuleSet.
func (s *RuleStore) Get() *RuleSet {
	return s.current.Load()
}

// Path is the file rules are loaded from, empty for the built-in tables.
func (s *RuleStore) Path() string {
	return s.path
}

// OverrideNERThreshold pins the extractor threshold regardless of the rules
// file and recompiles the active rules.
func (s *RuleStore) OverrideNERThreshold(threshold float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.nerOverride
	s.nerOverride = &threshold
	if err := s.reload(); err != nil {
		s.nerOverride = previous
		return err
	}
	return nil
}

// Reload re-reads the rules file and swaps the active RuleSet. On error the
// previous RuleSet stays active.
func (s *RuleStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

func (s *RuleStore) reload() error {
	rules := DefaultRules()
	if s.path != "" {
		loaded, err := LoadRules(s.path)
		if err != nil {
			return err
		}
		rules = loaded
	}
	if s.nerOverride != nil {
		rules.NERThreshold = *s.nerOverride
	}
	rs, err := Compile(rules)
	if err != nil {
		return err
	}
	s.current.Store(rs)
	return nil
}
