package aggregate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/trumpfiles/internal/database"
)

// ErrUnknownMetric is returned when a metric name is not one of the scoring dimensions.
var ErrUnknownMetric = errors.New("unknown metric")

// Metric identifies one of the fixed 0-10 scoring dimensions of an entry.
type Metric int

const (
	Danger Metric = iota
	Lawlessness
	Insanity
	Absurdity
	Authoritarianism
	CredibilityRisk
	RecencyIntensity
	ImpactScope
)

// AllMetrics lists every scoring dimension in schema order.
var AllMetrics = []Metric{
	Danger, Lawlessness, Insanity, Absurdity, Authoritarianism,
	CredibilityRisk, RecencyIntensity, ImpactScope,
}

var metricNames = [...]string{
	Danger:           "danger",
	Lawlessness:      "lawlessness",
	Insanity:         "insanity",
	Absurdity:        "absurdity",
	Authoritarianism: "authoritarianism",
	CredibilityRisk:  "credibility_risk",
	RecencyIntensity: "recency_intensity",
	ImpactScope:      "impact_scope",
}

// String returns the snake_case column name of the metric.
func (m Metric) String() string {
	if m < 0 || int(m) >= len(metricNames) {
		return fmt.Sprintf("Metric(%d)", int(m))
	}
	return metricNames[m]
}

// Label returns the display name, e.g. "Credibility Risk".
func (m Metric) Label() string {
	words := strings.Split(m.String(), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// AvgKey returns the JSON key used for this metric's averages, e.g. "avg_danger".
func (m Metric) AvgKey() string {
	return "avg_" + m.String()
}

// MarshalText encodes the metric by name.
func (m Metric) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a metric name, rejecting unknown names.
func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMetric resolves a metric name. Matching ignores case and surrounding
// space, and accepts the older "_score" column suffix ("danger_score").
func ParseMetric(name string) (Metric, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimSuffix(key, "_score")
	for i, n := range metricNames {
		if n == key {
			return Metric(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
}

// ParseMetrics resolves a list of metric names, failing on the first unknown one.
func ParseMetrics(names []string) ([]Metric, error) {
	out := make([]Metric, 0, len(names))
	for _, n := range names {
		m, err := ParseMetric(n)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Value returns the metric's value on e and whether it was present.
func (m Metric) Value(e database.Entry) (float64, bool) {
	var p *float64
	switch m {
	case Danger:
		p = e.Danger
	case Lawlessness:
		p = e.Lawlessness
	case Insanity:
		p = e.Insanity
	case Absurdity:
		p = e.Absurdity
	case Authoritarianism:
		p = e.Authoritarianism
	case CredibilityRisk:
		p = e.CredibilityRisk
	case RecencyIntensity:
		p = e.RecencyIntensity
	case ImpactScope:
		p = e.ImpactScope
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// MissingPolicy decides how absent scores enter an average.
type MissingPolicy int

const (
	// ZeroFill counts an absent score as 0 and keeps it in the denominator.
	// This reproduces the published charts but drags averages down on sparse data.
	ZeroFill MissingPolicy = iota
	// SkipMissing leaves absent scores out of both sum and denominator.
	SkipMissing
)

// ParseMissingPolicy maps "zero" (or "") and "skip" to a policy.
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zero":
		return ZeroFill, nil
	case "skip":
		return SkipMissing, nil
	}
	return 0, fmt.Errorf("unknown missing-score policy %q (want zero or skip)", s)
}

func (p MissingPolicy) String() string {
	if p == SkipMissing {
		return "skip"
	}
	return "zero"
}
