package xagent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Option is a single "--key value" pair passed to XAgent.
// A nil Value means the option is absent and is left off the command line.
type Option struct {
	Key   string
	Value any
}

// Options is an ordered set of options. Order is preserved so the generated
// command line is deterministic.
type Options []Option

// OptionsFromMap converts an unordered map into Options sorted by key.
func OptionsFromMap(m map[string]any) Options {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	opts := make(Options, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, Option{Key: k, Value: m[k]})
	}
	return opts
}

// Get returns the value stored for key.
func (o Options) Get(key string) (any, bool) {
	for _, opt := range o {
		if opt.Key == key {
			return opt.Value, true
		}
	}
	return nil, false
}

// With returns a copy of o with key set to value. An existing key keeps its position.
func (o Options) With(key string, value any) Options {
	out := make(Options, len(o), len(o)+1)
	copy(out, o)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Option{Key: key, Value: value})
}

// Merge overlays over on base. Values from over win; keys keep the position they
// first appear at (base order, then new keys from over).
func Merge(base, over Options) Options {
	out := make(Options, len(base), len(base)+len(over))
	copy(out, base)
	for _, opt := range over {
		out = out.With(opt.Key, opt.Value)
	}
	return out
}

// Map returns the options as a map. Absent values are kept as nil.
func (o Options) Map() map[string]any {
	m := make(map[string]any, len(o))
	for _, opt := range o {
		m[opt.Key] = opt.Value
	}
	return m
}

// UnmarshalJSON decodes a JSON object keeping key order.
func (o *Options) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*o = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("options must be a JSON object")
	}

	var opts Options
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("option %q: %w", key, err)
		}
		switch value.(type) {
		case map[string]any, []any:
			return fmt.Errorf("option %q must be a scalar", key)
		}
		opts = opts.With(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = opts
	return nil
}

// MarshalJSON encodes the options as a JSON object in order.
func (o Options) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, opt := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(opt.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(opt.Value)
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

// UnmarshalYAML decodes a YAML mapping keeping key order.
func (o *Options) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: options must be a mapping", node.Line)
	}
	var opts Options
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		if valNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: option %q must be a scalar", valNode.Line, keyNode.Value)
		}
		var value any
		if err := valNode.Decode(&value); err != nil {
			return fmt.Errorf("line %d: option %q: %w", valNode.Line, keyNode.Value, err)
		}
		opts = opts.With(keyNode.Value, value)
	}
	*o = opts
	return nil
}

// FormatValue renders an option value the way the Python entry script prints it.
// The boolean result is false for absent (nil) values.
func FormatValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		if val {
			return "True", true
		}
		return "False", true
	case int:
		return strconv.Itoa(val), true
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", val), true
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val), true
	case float32:
		return formatFloat(float64(val)), true
	case float64:
		return formatFloat(val), true
	case json.Number:
		return val.String(), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e16 || abs < 1e-4) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
