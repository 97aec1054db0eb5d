package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/TobiSchelling/trumpfiles/internal/aggregate"
	"github.com/TobiSchelling/trumpfiles/internal/database"
)

// RequiredFields must be present on every imported entry.
var RequiredFields = []string{"entry_number", "title", "category", "phase", "synopsis"}

// ValidationError describes one problem in an import file. Line is the
// 1-based position of the entry in the array, or 0 for file-level problems.
type ValidationError struct {
	Line    int    `json:"line,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	if v.Line > 0 {
		return fmt.Sprintf("entry %d: %s", v.Line, v.Message)
	}
	return v.Message
}

// ValidationErrors is the full list of problems found in one import file.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(v), strings.Join(msgs, "; "))
}

// ParseImport decodes a JSON array of entries and validates it. Any problem
// rejects the whole file; the returned error is then a ValidationErrors.
// Score fields may use either the current names ("danger") or the older
// "_score" suffixed names ("danger_score").
func ParseImport(data []byte) ([]database.Entry, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ValidationErrors{{Field: "json", Message: "Invalid JSON format: expected an array of entries"}}
	}

	var errs ValidationErrors
	entries := make([]database.Entry, 0, len(raw))
	seen := make(map[int]int)
	var dups []int

	for i, obj := range raw {
		line := i + 1
		before := len(errs)

		for _, f := range RequiredFields {
			if _, ok := obj[f]; !ok {
				errs = append(errs, ValidationError{Line: line, Field: f, Message: fmt.Sprintf("Missing required field %q", f)})
			}
		}

		if !normalizeKeys(obj) {
			errs = append(errs, ValidationError{Line: line, Field: "scores", Message: "scores must be an object"})
			continue
		}
		for _, m := range aggregate.AllMetrics {
			v, ok := obj[m.String()]
			if !ok || isNull(v) {
				continue
			}
			var f float64
			if err := json.Unmarshal(v, &f); err != nil || f < 0 || f > 10 {
				errs = append(errs, ValidationError{Line: line, Field: m.String(),
					Message: fmt.Sprintf("%s must be a number between 0 and 10", m)})
			}
		}

		if len(errs) > before {
			continue
		}

		normalized, err := json.Marshal(obj)
		if err != nil {
			errs = append(errs, ValidationError{Line: line, Field: "json", Message: err.Error()})
			continue
		}
		var e database.Entry
		dec := json.NewDecoder(bytes.NewReader(normalized))
		if err := dec.Decode(&e); err != nil {
			errs = append(errs, ValidationError{Line: line, Field: "json", Message: fmt.Sprintf("Invalid field type: %v", err)})
			continue
		}
		if e.EntryNumber <= 0 {
			errs = append(errs, ValidationError{Line: line, Field: "entry_number", Message: "entry_number must be a positive integer"})
			continue
		}
		if strings.TrimSpace(e.Title) == "" {
			errs = append(errs, ValidationError{Line: line, Field: "title", Message: "title must not be empty"})
			continue
		}

		if prev, ok := seen[e.EntryNumber]; ok {
			if prev == 1 {
				dups = append(dups, e.EntryNumber)
			}
			seen[e.EntryNumber]++
			continue
		}
		seen[e.EntryNumber] = 1
		entries = append(entries, e)
	}

	if len(dups) > 0 {
		sort.Ints(dups)
		strs := make([]string, len(dups))
		for i, d := range dups {
			strs[i] = fmt.Sprint(d)
		}
		errs = append(errs, ValidationError{Field: "entry_number",
			Message: "Duplicate entry numbers found: " + strings.Join(strs, ", ")})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return entries, nil
}

// normalizeKeys renames "danger_score" style keys to "danger" unless the
// new name is already present. The view exposes "all_keywords"; it is folded
// into "keywords" the same way. Keys of a nested "scores" object are lifted
// to the top level, where top-level keys win. It reports false when "scores"
// is present but not an object.
func normalizeKeys(obj map[string]json.RawMessage) bool {
	if v, ok := obj["scores"]; ok {
		delete(obj, "scores")
		if !isNull(v) {
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(v, &nested); err != nil {
				return false
			}
			for k, nv := range nested {
				if _, exists := obj[k]; !exists {
					obj[k] = nv
				}
			}
		}
	}
	for _, m := range aggregate.AllMetrics {
		old := m.String() + "_score"
		if v, ok := obj[old]; ok {
			if _, exists := obj[m.String()]; !exists {
				obj[m.String()] = v
			}
			delete(obj, old)
		}
	}
	if v, ok := obj["all_keywords"]; ok {
		if _, exists := obj["keywords"]; !exists {
			obj["keywords"] = v
		}
		delete(obj, "all_keywords")
	}
	// Postgres numeric columns arrive as JSON strings ("71.50").
	for _, k := range []string{"fucked_up_score", "fucked_up_rank"} {
		var s string
		if v, ok := obj[k]; ok && json.Unmarshal(v, &s) == nil {
			s = strings.TrimSpace(s)
			if s == "" {
				obj[k] = json.RawMessage("null")
			} else if json.Valid([]byte(s)) {
				obj[k] = json.RawMessage(s)
			}
		}
	}
	return true
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
