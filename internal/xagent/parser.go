package xagent

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DefaultFallbackLines is the number of trailing lines used as the answer when
// the output carries no structured result.
const DefaultFallbackLines = 5

// MissingAnswerPolicy decides what happens when a structured line decodes but
// carries no usable answer ({}, {"answer": ""}, {"answer": null}).
type MissingAnswerPolicy string

const (
	// MissingAnswerFallback falls through to the textual fallback.
	MissingAnswerFallback MissingAnswerPolicy = "fallback"
	// MissingAnswerEmpty accepts the object and leaves the answer empty.
	MissingAnswerEmpty MissingAnswerPolicy = "empty"
)

// Valid reports whether p is a known policy.
func (p MissingAnswerPolicy) Valid() bool {
	return p == MissingAnswerFallback || p == MissingAnswerEmpty
}

// ParseOptions tunes ParseOutput. The zero value uses DefaultFallbackLines and the fallback policy.
type ParseOptions struct {
	FallbackLines int
	MissingAnswer MissingAnswerPolicy
	RepairJSON    bool // retry undecodable candidate lines through jsonrepair
}

// Result is the structured outcome of one XAgent run.
type Result struct {
	RawOutput string   `json:"raw_output"`
	Answer    string   `json:"answer"`
	Steps     []string `json:"steps"`
	Success   bool     `json:"success"`

	// Structured reports whether the answer came from a structured line.
	Structured bool `json:"structured"`
}

// ParseOutput extracts a Result from the captured stdout of XAgent.
//
// Lines are scanned from the end; the first line wrapped in braces that decodes
// as a JSON object supplies "answer" and "steps". Without a structured answer the
// last FallbackLines lines (or the whole output, if shorter) become the answer.
func ParseOutput(output string, opts ParseOptions) Result {
	fallbackLines := opts.FallbackLines
	if fallbackLines <= 0 {
		fallbackLines = DefaultFallbackLines
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	res := Result{
		RawOutput: output,
		Steps:     []string{},
		Success:   true,
	}

	found, answered := false, false
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		obj, ok := decodeObject(line, opts.RepairJSON)
		if !ok {
			continue
		}
		if raw, ok := obj["answer"]; ok {
			res.Answer = renderValue(raw)
			answered = !falsy(raw)
		}
		if raw, ok := obj["steps"]; ok {
			res.Steps = renderSteps(raw)
		}
		found = true
		break
	}

	if found && (answered || opts.MissingAnswer == MissingAnswerEmpty) {
		res.Structured = true
		return res
	}

	if len(lines) > fallbackLines {
		res.Answer = strings.Join(lines[len(lines)-fallbackLines:], "\n")
	} else {
		res.Answer = output
	}
	return res
}

func decodeObject(line string, repair bool) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &obj); err == nil && obj != nil {
		return obj, true
	}
	if !repair {
		return nil, false
	}
	fixed, err := jsonrepair.JSONRepair(line)
	if err != nil {
		return nil, false
	}
	obj = nil
	if err := json.Unmarshal([]byte(fixed), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// falsy reports whether raw is null, false, zero, or an empty string, array or object.
func falsy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "false", `""`:
		return true
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case float64:
		return val == 0
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// renderValue turns a JSON value into answer text: strings verbatim, null empty,
// anything else as compact JSON.
func renderValue(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

func renderSteps(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{}
	}
	steps := make([]string, 0, len(items))
	for _, item := range items {
		steps = append(steps, renderValue(item))
	}
	return steps
}
