// Package aggregate derives chart datasets from a snapshot of catalog entries.
//
// Every function is pure: the input slice is only read, empty input yields
// empty (or zero-valued) output, and repeated calls on the same input return
// identical results. Absent scores never cause an error; how they enter an
// average is decided by the Engine's MissingPolicy.
package aggregate

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/TobiSchelling/trumpfiles/internal/database"
)

// UnknownLabel groups entries whose category, phase or year is absent.
const UnknownLabel = "Unknown"

var (
	// DefaultTimelineMetrics are averaged per year when no metrics are given.
	DefaultTimelineMetrics = []Metric{Danger, Absurdity}
	// DefaultProfile is the radar chart's dimension list.
	DefaultProfile = []Metric{Danger, Lawlessness, Insanity, Absurdity, Authoritarianism}
	// DefaultCrossTab is the category comparison pair.
	DefaultCrossTab = [2]Metric{Danger, Absurdity}
)

// Engine computes the datasets. The zero value uses ZeroFill.
type Engine struct {
	Missing MissingPolicy
}

// Slice is one wedge of a distribution chart.
type Slice struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// MetricAverage is the mean of one metric over a group.
type MetricAverage struct {
	Metric Metric
	Value  float64
}

// YearBucket summarises the entries that started in one calendar year.
type YearBucket struct {
	Year     string
	Count    int
	Averages []MetricAverage
}

// Average returns the bucket's average for m, or 0 if m was not tracked.
func (b YearBucket) Average(m Metric) float64 {
	return lookup(b.Averages, m)
}

// ProfilePoint is one axis of the dimensional profile.
type ProfilePoint struct {
	Dimension string  `json:"dimension"`
	Metric    Metric  `json:"metric"`
	Value     float64 `json:"value"`
}

// CrossTabRow compares two metric averages within one category.
type CrossTabRow struct {
	Category string
	Count    int
	Averages [2]MetricAverage
}

// Average returns the row's average for m, or 0 if m was not tracked.
func (r CrossTabRow) Average(m Metric) float64 {
	return lookup(r.Averages[:], m)
}

// CategoryDistribution counts entries per category. Categories appear in
// first-seen order and the values sum to len(entries).
func CategoryDistribution(entries []database.Entry) []Slice {
	return Engine{}.CategoryDistribution(entries)
}

// PhaseDistribution counts entries per phase.
func PhaseDistribution(entries []database.Entry) []Slice {
	return Engine{}.PhaseDistribution(entries)
}

// Timeline groups entries by start year using zero-filled averages.
func Timeline(entries []database.Entry, metrics ...Metric) []YearBucket {
	return Engine{}.Timeline(entries, metrics...)
}

// Profile averages each dimension over all entries using zero-filled averages.
func Profile(entries []database.Entry, dims ...Metric) []ProfilePoint {
	return Engine{}.Profile(entries, dims...)
}

// CrossTab averages two metrics per category using zero-filled averages.
func CrossTab(entries []database.Entry, a, b Metric) []CrossTabRow {
	return Engine{}.CrossTab(entries, a, b)
}

func (eng Engine) CategoryDistribution(entries []database.Entry) []Slice {
	return countBy(entries, func(e database.Entry) string { return e.Category })
}

func (eng Engine) PhaseDistribution(entries []database.Entry) []Slice {
	return countBy(entries, func(e database.Entry) string { return e.Phase })
}

// Timeline groups entries by the year of date_start. Entries without a
// parseable start date land in the "Unknown" bucket, which always sorts last.
func (eng Engine) Timeline(entries []database.Entry, metrics ...Metric) []YearBucket {
	if len(metrics) == 0 {
		metrics = DefaultTimelineMetrics
	}

	type group struct {
		year  int
		known bool
		acc   []mean
		count int
	}
	index := make(map[int]int)
	var groups []*group

	for _, e := range entries {
		year, known := YearOf(e)
		key := year
		if !known {
			key = math.MinInt
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, &group{year: year, known: known, acc: make([]mean, len(metrics))})
		}
		g := groups[i]
		g.count++
		for j, m := range metrics {
			g.acc[j].add(m.Value(e))
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.known != b.known {
			return a.known
		}
		return a.year < b.year
	})

	out := make([]YearBucket, 0, len(groups))
	for _, g := range groups {
		label := UnknownLabel
		if g.known {
			label = strconv.Itoa(g.year)
		}
		b := YearBucket{Year: label, Count: g.count, Averages: make([]MetricAverage, len(metrics))}
		for j, m := range metrics {
			b.Averages[j] = MetricAverage{Metric: m, Value: round(g.acc[j].value(eng.Missing), 1)}
		}
		out = append(out, b)
	}
	return out
}

// Profile returns one point per dimension with the mean over all entries,
// rounded to two decimals. With no entries every value is 0.
func (eng Engine) Profile(entries []database.Entry, dims ...Metric) []ProfilePoint {
	if len(dims) == 0 {
		dims = DefaultProfile
	}
	out := make([]ProfilePoint, 0, len(dims))
	for _, d := range dims {
		var acc mean
		for _, e := range entries {
			acc.add(d.Value(e))
		}
		out = append(out, ProfilePoint{
			Dimension: d.Label(),
			Metric:    d,
			Value:     round(acc.value(eng.Missing), 2),
		})
	}
	return out
}

// CrossTab averages metrics a and b per category, rounded to one decimal.
// Rows appear in first-seen category order.
func (eng Engine) CrossTab(entries []database.Entry, a, b Metric) []CrossTabRow {
	type group struct {
		name  string
		count int
		acc   [2]mean
	}
	index := make(map[string]int)
	var groups []*group

	for _, e := range entries {
		name := labelOr(e.Category)
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, &group{name: name})
		}
		g := groups[i]
		g.count++
		g.acc[0].add(a.Value(e))
		g.acc[1].add(b.Value(e))
	}

	out := make([]CrossTabRow, 0, len(groups))
	for _, g := range groups {
		out = append(out, CrossTabRow{
			Category: g.name,
			Count:    g.count,
			Averages: [2]MetricAverage{
				{Metric: a, Value: round(g.acc[0].value(eng.Missing), 1)},
				{Metric: b, Value: round(g.acc[1].value(eng.Missing), 1)},
			},
		})
	}
	return out
}

// YearOf returns the calendar year of the entry's start date.
func YearOf(e database.Entry) (int, bool) {
	if e.DateStart == nil {
		return 0, false
	}
	s := *e.DateStart
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Year(), true
		}
	}
	if len(s) >= 4 {
		if y, err := strconv.Atoi(s[:4]); err == nil {
			return y, true
		}
	}
	return 0, false
}

func countBy(entries []database.Entry, key func(database.Entry) string) []Slice {
	index := make(map[string]int)
	out := make([]Slice, 0)
	for _, e := range entries {
		name := labelOr(key(e))
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, Slice{Name: name})
		}
		out[i].Value++
	}
	return out
}

// mean accumulates a metric over a group.
type mean struct {
	sum     float64
	members int
	present int
}

func (m *mean) add(v float64, ok bool) {
	m.members++
	if ok {
		m.sum += v
		m.present++
	}
}

func (m mean) value(policy MissingPolicy) float64 {
	n := m.members
	if policy == SkipMissing {
		n = m.present
	}
	if n == 0 {
		return 0
	}
	return m.sum / float64(n)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func labelOr(s string) string {
	if s == "" {
		return UnknownLabel
	}
	return s
}

func lookup(avgs []MetricAverage, m Metric) float64 {
	for _, a := range avgs {
		if a.Metric == m {
			return a.Value
		}
	}
	return 0
}
