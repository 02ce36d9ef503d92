package sensors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Selection is either every sensor of a source or an explicit id list.
type Selection struct {
	All bool
	IDs []string
}

// SelectAll selects every known sensor.
func SelectAll() Selection { return Selection{All: true} }

// SelectSensors selects the given sensor ids.
func SelectSensors(ids ...string) Selection { return Selection{IDs: ids} }

// Resolve applies the selection to the known descriptors. Unknown ids in an
// explicit list are dropped; order follows the descriptors.
func (s Selection) Resolve(known []SensorDescriptor) []SensorDescriptor {
	if s.All {
		return known
	}
	want := make(map[string]bool, len(s.IDs))
	for _, id := range s.IDs {
		want[id] = true
	}
	var out []SensorDescriptor
	for _, d := range known {
		if want[d.SensorID] {
			out = append(out, d)
		}
	}
	return out
}

// UnmarshalJSON accepts "all", a single id, or a list of string or numeric ids.
func (s *Selection) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = SelectAll()
		return nil
	}

	if b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		if strings.EqualFold(one, "all") || one == "" {
			*s = SelectAll()
			return nil
		}
		*s = SelectSensors(one)
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("sensors must be \"all\" or a list of ids: %w", err)
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			ids = append(ids, t)
		case json.Number:
			ids = append(ids, t.String())
		default:
			return fmt.Errorf("invalid sensor id %v", v)
		}
	}
	*s = SelectSensors(ids...)
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (s Selection) MarshalJSON() ([]byte, error) {
	if s.All {
		return json.Marshal("all")
	}
	return json.Marshal(s.IDs)
}
