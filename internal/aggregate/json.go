package aggregate

import (
	"bytes"
	"encoding/json"
)

// MarshalJSON flattens the averages into avg_<metric> keys:
// {"year":"2020","count":2,"avg_danger":6}.
func (b YearBucket) MarshalJSON() ([]byte, error) {
	fields := []field{{"year", b.Year}, {"count", b.Count}}
	for _, a := range b.Averages {
		fields = append(fields, field{a.Metric.AvgKey(), a.Value})
	}
	return marshalObject(fields)
}

// MarshalJSON flattens the pair of averages:
// {"category":"A","count":2,"avg_danger":6,"avg_absurdity":3.5}.
func (r CrossTabRow) MarshalJSON() ([]byte, error) {
	fields := []field{{"category", r.Category}, {"count", r.Count}}
	for _, a := range r.Averages {
		fields = append(fields, field{a.Metric.AvgKey(), a.Value})
	}
	return marshalObject(fields)
}

type field struct {
	key   string
	value any
}

// marshalObject writes fields in order. A repeated key keeps its first value.
func marshalObject(fields []field) ([]byte, error) {
	var buf bytes.Buffer
	seen := make(map[string]bool, len(fields))
	buf.WriteByte('{')
	for _, f := range fields {
		if seen[f.key] {
			continue
		}
		seen[f.key] = true
		if len(seen) > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
