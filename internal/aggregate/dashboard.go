package aggregate

import (
	"math"

	"github.com/TobiSchelling/trumpfiles/internal/database"
)

// HighScoreThreshold marks an entry as scoring high on a metric.
const HighScoreThreshold = 7

// Summary holds the headline numbers shown above the charts. HighOnBoth
// counts entries with danger and absurdity both at or above HighScoreThreshold.
type Summary struct {
	Total        int     `json:"total"`
	AvgDanger    float64 `json:"avgDanger"`
	AvgAbsurdity float64 `json:"avgAbsurdity"`
	MaxDanger    float64 `json:"maxDanger"`
	HighOnBoth   int     `json:"highOnBoth"`
}

// Bucket counts entries whose score floors to Score.
type Bucket struct {
	Score int `json:"score"`
	Count int `json:"count"`
}

// Options selects the metrics of each dataset in a Dashboard.
type Options struct {
	Timeline []Metric
	Profile  []Metric
	CrossTab [2]Metric
	// EraBefore and EraFrom bound the era comparison: years < EraBefore
	// against years >= EraFrom.
	EraBefore int
	EraFrom   int
}

// DefaultOptions mirrors the published dashboard.
func DefaultOptions() Options {
	return Options{
		Timeline:  DefaultTimelineMetrics,
		Profile:   DefaultProfile,
		CrossTab:  DefaultCrossTab,
		EraBefore: 2016,
		EraFrom:   2020,
	}
}

// Dashboard bundles every dataset computed from one entry snapshot.
type Dashboard struct {
	Summary       Summary             `json:"summary"`
	Categories    []Slice             `json:"categories"`
	Phases        []Slice             `json:"phases"`
	Timeline      []YearBucket        `json:"timeline"`
	Profile       []ProfilePoint      `json:"profile"`
	TopDimension  *ProfilePoint       `json:"topDimension,omitempty"`
	CrossTab      []CrossTabRow       `json:"crossTab"`
	CrossMetrics  [2]Metric           `json:"crossMetrics"`
	Histograms    map[string][]Bucket `json:"histograms"`
	EraShift      *float64            `json:"eraShift,omitempty"`
	MissingScores string              `json:"missingScores"`
}

// Dashboard computes every dataset for one snapshot.
func (eng Engine) Dashboard(entries []database.Entry, opts Options) Dashboard {
	d := Dashboard{
		Summary:       eng.Summarize(entries),
		Categories:    eng.CategoryDistribution(entries),
		Phases:        eng.PhaseDistribution(entries),
		Timeline:      eng.Timeline(entries, opts.Timeline...),
		Profile:       eng.Profile(entries, opts.Profile...),
		CrossTab:      eng.CrossTab(entries, opts.CrossTab[0], opts.CrossTab[1]),
		CrossMetrics:  opts.CrossTab,
		Histograms:    make(map[string][]Bucket, 2),
		MissingScores: eng.Missing.String(),
	}
	if len(entries) > 0 {
		if top, ok := TopDimension(d.Profile); ok {
			d.TopDimension = &top
		}
	}
	for _, m := range opts.CrossTab {
		d.Histograms[m.String()] = eng.Histogram(entries, m)
	}
	if opts.EraBefore != 0 && opts.EraFrom != 0 {
		if shift, ok := eng.EraShift(entries, opts.CrossTab[0], opts.EraBefore, opts.EraFrom); ok {
			d.EraShift = &shift
		}
	}
	return d
}

// Summarize computes the headline numbers. Averages are rounded to one decimal.
func (eng Engine) Summarize(entries []database.Entry) Summary {
	s := Summary{Total: len(entries)}
	var danger, absurdity mean
	for _, e := range entries {
		d, dok := Danger.Value(e)
		a, aok := Absurdity.Value(e)
		danger.add(d, dok)
		absurdity.add(a, aok)
		if d > s.MaxDanger {
			s.MaxDanger = d
		}
		if d >= HighScoreThreshold && a >= HighScoreThreshold {
			s.HighOnBoth++
		}
	}
	s.AvgDanger = round(danger.value(eng.Missing), 1)
	s.AvgAbsurdity = round(absurdity.value(eng.Missing), 1)
	return s
}

// Histogram counts entries per integer score 0..10 (floor of the value).
// Under ZeroFill an absent score counts in bucket 0; under SkipMissing it is left out.
func (eng Engine) Histogram(entries []database.Entry, m Metric) []Bucket {
	out := make([]Bucket, 11)
	for i := range out {
		out[i].Score = i
	}
	for _, e := range entries {
		v, ok := m.Value(e)
		if !ok && eng.Missing == SkipMissing {
			continue
		}
		i := int(math.Floor(v))
		if i < 0 {
			i = 0
		}
		if i > 10 {
			i = 10
		}
		out[i].Count++
	}
	return out
}

// TopDimension returns the profile point with the highest value; earlier
// points win ties.
func TopDimension(profile []ProfilePoint) (ProfilePoint, bool) {
	if len(profile) == 0 {
		return ProfilePoint{}, false
	}
	top := profile[0]
	for _, p := range profile[1:] {
		if p.Value > top.Value {
			top = p
		}
	}
	return top, true
}

// EraShift returns mean(m over years >= from) - mean(m over years < before),
// rounded to one decimal. ok is false when either era has no dated entries.
func (eng Engine) EraShift(entries []database.Entry, m Metric, before, from int) (float64, bool) {
	var early, late mean
	for _, e := range entries {
		year, known := YearOf(e)
		if !known {
			continue
		}
		v, ok := m.Value(e)
		switch {
		case year < before:
			early.add(v, ok)
		case year >= from:
			late.add(v, ok)
		}
	}
	if early.members == 0 || late.members == 0 {
		return 0, false
	}
	return round(late.value(eng.Missing)-early.value(eng.Missing), 1), true
}
