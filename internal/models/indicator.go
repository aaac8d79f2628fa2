package models

import "strings"

// IndicatorStatus classifies a measurement against its reference range.
type IndicatorStatus string

const (
	IndicatorNormal IndicatorStatus = "normal"
	IndicatorHigh   IndicatorStatus = "high"
	IndicatorLow    IndicatorStatus = "low"
)

// Indicator is one extracted structured measurement from a document.
type Indicator struct {
	Name           string          `json:"name" msgpack:"name"`
	Value          string          `json:"value" msgpack:"value"`
	Unit           string          `json:"unit,omitempty" msgpack:"unit"`
	ReferenceRange string          `json:"reference_range,omitempty" msgpack:"reference_range"`
	Method         string          `json:"method,omitempty" msgpack:"method"`
	Status         IndicatorStatus `json:"status,omitempty" msgpack:"status"`
	Note           string          `json:"note,omitempty" msgpack:"note"`
}

// Valid reports whether the indicator carries the two required fields.
// Indicators missing either are discarded before persistence.
func (in Indicator) Valid() bool {
	return strings.TrimSpace(in.Name) != "" && strings.TrimSpace(in.Value) != ""
}

// DedupKey is the identity used for first-wins deduplication across
// pages: lower-cased name joined with the raw value.
func (in Indicator) DedupKey() string {
	return strings.ToLower(strings.TrimSpace(in.Name)) + "_" + strings.TrimSpace(in.Value)
}
