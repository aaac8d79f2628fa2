package extract

import (
	"encoding/json"
	"strings"

	"github.com/vitalstream/backend/internal/fault"
	"github.com/vitalstream/backend/internal/models"
)

// ReportMeta is the per-document metadata the engine reports alongside
// the indicator list.
type ReportMeta struct {
	Date    string `json:"date"`
	Lab     string `json:"lab"`
	Summary string `json:"summary"`
}

// pageResult is the parsed output of one extraction unit.
type pageResult struct {
	Indicators []models.Indicator `json:"indicators"`
	Report     ReportMeta         `json:"report"`
}

// parsePageResult parses the engine's JSON output. Engines wrap the
// object in prose or code fences often enough that we cut from the
// first '{' to the last '}' before decoding.
func parsePageResult(text string) (pageResult, error) {
	var res pageResult

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return res, fault.New(fault.Extraction, "engine output contains no JSON object")
	}

	if err := json.Unmarshal([]byte(text[start:end+1]), &res); err != nil {
		return res, fault.Wrap(fault.Extraction, err, "failed to parse engine output")
	}
	return res, nil
}
