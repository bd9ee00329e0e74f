package model

import "regexp"

// RequiredField describes one piece of information a data-collection stage
// must obtain from the user.
type RequiredField struct {
	Key             string   `json:"key"`
	Type            string   `json:"type"` // "string", "number", "boolean"
	ValidationRegex string   `json:"validationRegex,omitempty"`
	Options         []string `json:"options,omitempty"`
	IsRequired      bool     `json:"isRequired"`
}

// RetrievedField is one extracted value with the model's confidence.
type RetrievedField struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// confidenceFloor is the minimum extraction confidence for a field to count
// as retrieved.
const confidenceFloor = 0.5

// Validates reports whether the value passes the field's regex, if any.
// An invalid pattern fails closed.
func (f *RequiredField) Validates(value string) bool {
	if f.ValidationRegex == "" {
		return true
	}
	re, err := regexp.Compile(f.ValidationRegex)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// Retrieved reports whether an extracted field satisfies the requirement:
// non-empty value, confidence above the floor, and pattern-valid.
func (f *RequiredField) Retrieved(got RetrievedField) bool {
	if got.Value == "" || got.Confidence <= confidenceFloor {
		return false
	}
	return f.Validates(got.Value)
}

// FilterSatisfied returns the required fields not yet covered by captured.
func FilterSatisfied(required []RequiredField, captured []RetrievedField) []RequiredField {
	have := make(map[string]bool, len(captured))
	for _, c := range captured {
		have[c.Key] = true
	}
	var remaining []RequiredField
	for _, r := range required {
		if !have[r.Key] {
			remaining = append(remaining, r)
		}
	}
	return remaining
}

// ClassifyFields partitions extraction results against the required list.
// Fields with confidence above the floor and a pattern-valid, non-empty value
// are retrieved; everything else, including fields extraction never returned,
// is missing. Extracted keys outside the required list are dropped.
func ClassifyFields(required []RequiredField, extracted []RetrievedField) (retrieved []RetrievedField, missing []RequiredField) {
	byKey := make(map[string]*RequiredField, len(required))
	for i := range required {
		byKey[required[i].Key] = &required[i]
	}
	for _, got := range extracted {
		req, ok := byKey[got.Key]
		if !ok {
			continue
		}
		if req.Retrieved(got) {
			retrieved = append(retrieved, got)
		}
	}
	missing = FilterSatisfied(required, retrieved)
	return retrieved, missing
}

// MergeFields appends newly retrieved fields, replacing earlier captures of
// the same key.
func MergeFields(existing, fresh []RetrievedField) []RetrievedField {
	merged := make([]RetrievedField, 0, len(existing)+len(fresh))
	replaced := make(map[string]bool, len(fresh))
	for _, f := range fresh {
		replaced[f.Key] = true
	}
	for _, f := range existing {
		if !replaced[f.Key] {
			merged = append(merged, f)
		}
	}
	return append(merged, fresh...)
}
