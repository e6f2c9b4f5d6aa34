package optimization

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Configuration is an immutable assignment of values to hyper-parameters.
// The zero value is an empty configuration.
type Configuration struct {
	names  []string
	values map[string]any
}

// NewConfiguration copies values into a new Configuration.
func NewConfiguration(values map[string]any) Configuration {
	c := Configuration{
		names:  make([]string, 0, len(values)),
		values: make(map[string]any, len(values)),
	}
	for name, v := range values {
		c.names = append(c.names, name)
		c.values[name] = v
	}
	sort.Strings(c.names)
	return c
}

// Names returns the parameter names in sorted order.
func (c Configuration) Names() []string {
	return append([]string(nil), c.names...)
}

// Len returns the number of parameters.
func (c Configuration) Len() int { return len(c.names) }

// Get returns the raw value for name.
func (c Configuration) Get(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Float returns the value for name as a float64.
func (c Configuration) Float(name string) (float64, error) {
	v, ok := c.values[name]
	if !ok {
		return 0, NewErrorf(KindUnknownParameter, "parameter %q not set", name)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("parameter %q is %T, not numeric", name, v)
	}
	return f, nil
}

// Int returns the value for name rounded to the nearest int.
func (c Configuration) Int(name string) (int, error) {
	f, err := c.Float(name)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return int(f - 0.5), nil
	}
	return int(f + 0.5), nil
}

// String returns the value for name formatted as a string.
func (c Configuration) String(name string) (string, error) {
	v, ok := c.values[name]
	if !ok {
		return "", NewErrorf(KindUnknownParameter, "parameter %q not set", name)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return formatValue(v), nil
}

// Map returns a copy of the underlying values.
func (c Configuration) Map() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Key is a canonical encoding used to detect repeated configurations.
// Numbers compare by value, so int 3 and float64 3 share a key.
func (c Configuration) Key() string {
	var b strings.Builder
	for i, name := range c.names {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(formatValue(c.values[name]))
	}
	return b.String()
}

// Equal reports whether both configurations assign the same values.
func (c Configuration) Equal(other Configuration) bool {
	return c.Key() == other.Key()
}

func (c Configuration) MarshalJSON() ([]byte, error) {
	if c.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.values)
}

func (c *Configuration) UnmarshalJSON(data []byte) error {
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*c = NewConfiguration(values)
	return nil
}

func formatValue(v any) string {
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprint(v)
}
