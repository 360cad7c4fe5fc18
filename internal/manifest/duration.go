package manifest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Interval is an optional duration written either as a Go duration string
// ("60s", "1m30s") or as a number of seconds (60, 0.5). A null or absent
// interval keeps the agent's own; zero makes it message-driven only.
type Interval struct {
	Set      bool
	Duration time.Duration
}

// Seconds returns an Interval of the given length.
func Seconds(d time.Duration) Interval { return Interval{Set: true, Duration: d} }

func parseInterval(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", raw)
	}
	return d, nil
}

// UnmarshalJSON accepts null, a number of seconds or a duration string.
func (iv *Interval) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*iv = Interval{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = str
	}
	d, err := parseInterval(s)
	if err != nil {
		return err
	}
	*iv = Interval{Set: true, Duration: d}
	return nil
}

// MarshalJSON writes the interval as a duration string, or null when unset.
func (iv Interval) MarshalJSON() ([]byte, error) {
	if !iv.Set {
		return []byte("null"), nil
	}
	return json.Marshal(iv.Duration.String())
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (iv *Interval) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: interval must be a scalar", value.Line)
	}
	if value.ShortTag() == "!!null" {
		*iv = Interval{}
		return nil
	}
	d, err := parseInterval(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*iv = Interval{Set: true, Duration: d}
	return nil
}

// MarshalYAML writes the interval as a duration string, or null when unset.
func (iv Interval) MarshalYAML() (interface{}, error) {
	if !iv.Set {
		return nil, nil
	}
	return iv.Duration.String(), nil
}
