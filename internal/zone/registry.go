/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Registry is the global zone table, grounded on tdns/global.go's
// `Zones = cmap.New[*ZoneData]()` — kept as the same concurrent-map-backed
// lookup structure since query threads and the control protocol both need
// lock-free reads across many zones concurrently with occasional
// inserts/deletes on reconfigure.
type Registry struct {
	zones cmap.ConcurrentMap[string, *Zone]
}

func NewRegistry() *Registry {
	return &Registry{zones: cmap.New[*Zone]()}
}

func (r *Registry) Add(z *Zone) {
	r.zones.Set(z.Name.Canonical, z)
}

func (r *Registry) Remove(name string) {
	r.zones.Remove(name)
}

func (r *Registry) Get(name string) (*Zone, bool) {
	return r.zones.Get(name)
}

// Find returns the zone whose origin is the longest suffix-match of name,
// the standard "which zone serves this query" lookup.
func (r *Registry) Find(name string) (*Zone, bool) {
	for {
		if z, ok := r.zones.Get(name); ok {
			return z, true
		}
		idx := indexOfFirstDot(name)
		if idx < 0 {
			return nil, false
		}
		name = name[idx+1:]
	}
}

func indexOfFirstDot(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// All returns every registered zone.
func (r *Registry) All() []*Zone {
	out := make([]*Zone, 0, r.zones.Count())
	for item := range r.zones.IterBuffered() {
		out = append(out, item.Val)
	}
	return out
}

func (r *Registry) Count() int { return r.zones.Count() }
