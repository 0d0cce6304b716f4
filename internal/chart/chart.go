// Package chart detects chart intent in user messages and extracts chart
// payloads from model replies.
package chart

import (
	"encoding/json"
	"strings"
)

// DefaultMaxDataPoints bounds the total number of numeric points accepted
// in a single chart payload.
const DefaultMaxDataPoints = 1000

// Chart kinds accepted in payloads.
var validTypes = map[string]bool{
	"line":    true,
	"bar":     true,
	"pie":     true,
	"scatter": true,
	"area":    true,
}

// intentKeywords is the fixed bilingual trigger vocabulary. Matching is a
// case-insensitive substring check, not a classifier.
var intentKeywords = []string{
	// Russian
	"график",
	"диаграмма",
	"гистограмма",
	"построй",
	"нарисуй",
	"покажи график",
	"визуализируй",
	"статистика",
	// English
	"chart",
	"graph",
	"plot",
	"diagram",
	"histogram",
	"visualize",
	"visualise",
	"draw a chart",
	"show chart",
}

// Payload is a validated chart description embedded in a reply.
type Payload struct {
	Type    string          `json:"type"`
	Data    Data            `json:"data"`
	Options json.RawMessage `json:"options,omitempty"`
}

// Data holds the chart categories and series.
type Data struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset is one named series of values.
type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// DetectIntent reports whether the message asks for a chart.
func DetectIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range intentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Instruction returns the prompt fragment appended when chart intent is
// detected. It asks the model for a fenced chart block the extractor can
// find.
func Instruction() string {
	return "\n\nIf the answer benefits from a chart, include exactly one fenced code block " +
		"tagged `chart` containing strict JSON of the form " +
		`{"type":"line|bar|pie|scatter|area","data":{"labels":["..."],"datasets":[{"label":"...","data":[1,2,3]}]},"options":{}}` +
		". Put any explanation outside the block."
}

// Extract finds a chart payload in reply text. It returns the validated
// payload (nil when absent or invalid) and the reply text with the chart
// block removed. A malformed or oversized payload is treated as "no
// chart", never as an error.
func Extract(reply string, maxDataPoints int) (*Payload, string) {
	if maxDataPoints <= 0 {
		maxDataPoints = DefaultMaxDataPoints
	}

	raw, remainder, found := findChartBlock(reply)
	if !found {
		return nil, reply
	}

	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, reply
	}
	if !p.valid(maxDataPoints) {
		return nil, reply
	}

	return &p, strings.TrimSpace(remainder)
}

// valid checks the payload against the fixed type set and size bound.
func (p *Payload) valid(maxDataPoints int) bool {
	if !validTypes[p.Type] {
		return false
	}
	if len(p.Data.Labels) == 0 || len(p.Data.Datasets) == 0 {
		return false
	}

	total := 0
	for _, ds := range p.Data.Datasets {
		if len(ds.Data) == 0 {
			return false
		}
		total += len(ds.Data)
	}
	return total <= maxDataPoints
}

// findChartBlock locates the chart JSON in reply text: a fenced block
// tagged `chart` or `json`, or a reply that is a single bare JSON object.
func findChartBlock(reply string) (raw, remainder string, found bool) {
	for _, tag := range []string{"```chart", "```json"} {
		start := strings.Index(reply, tag)
		if start < 0 {
			continue
		}
		bodyStart := start + len(tag)
		end := strings.Index(reply[bodyStart:], "```")
		if end < 0 {
			continue
		}
		raw = strings.TrimSpace(reply[bodyStart : bodyStart+end])
		remainder = reply[:start] + reply[bodyStart+end+3:]
		return raw, remainder, true
	}

	trimmed := strings.TrimSpace(reply)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed, "", true
	}

	return "", reply, false
}
