package sensors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Registry maps source ids to adapters. It is built once at startup and is
// read-only afterwards.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry registers adapters under their IDs. Duplicate ids are rejected.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.ID()]; dup {
			return nil, fmt.Errorf("duplicate source id %q", a.ID())
		}
		r.adapters[a.ID()] = a
		r.order = append(r.order, a.ID())
	}
	sort.Strings(r.order)
	return r, nil
}

// Lookup returns the adapter for sourceID or ErrUnknownSource.
func (r *Registry) Lookup(sourceID string) (Adapter, error) {
	a, ok := r.adapters[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}
	return a, nil
}

// Adapters returns all adapters ordered by id.
func (r *Registry) Adapters() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id])
	}
	return out
}

// SourceInfo describes a source's capabilities and availability.
type SourceInfo struct {
	ID          string        `json:"id"`
	Mode        string        `json:"mode"`
	MaxInterval time.Duration `json:"maxIntervalNs,omitempty"`
	Available   bool          `json:"available"`
	Reason      string        `json:"reason,omitempty"`
	Sensors     int           `json:"sensors"`
}

// Describe lists every source with its availability. A source whose sensor
// listing fails with a ConfigError is reported unavailable, never as an error.
func (r *Registry) Describe(ctx context.Context) []SourceInfo {
	infos := make([]SourceInfo, 0, len(r.order))
	for _, a := range r.Adapters() {
		info := SourceInfo{
			ID:          a.ID(),
			Mode:        a.Mode().String(),
			MaxInterval: a.MaxInterval(),
		}
		descs, err := a.ListSensors(ctx)
		var cfgErr *ConfigError
		switch {
		case errors.As(err, &cfgErr):
			info.Reason = cfgErr.Reason
		case err != nil:
			info.Reason = err.Error()
		default:
			info.Available = true
			info.Sensors = len(descs)
		}
		infos = append(infos, info)
	}
	return infos
}
