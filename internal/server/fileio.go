/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package server

import (
	"fmt"

	"github.com/nsd-project/nsd/internal/zone"
)

// ZoneFiler implements zone.FileWriter (spec §4.5 FLUSH), a thin wrapper
// around zone.WriteZoneFile keyed by the configured zone-file path per zone
// name, grounded on tdns/zone_updater.go's WriteZoneFile call site (flush
// writes to the same path the zone was loaded from).
type ZoneFiler struct {
	paths map[string]string
}

func NewZoneFiler() *ZoneFiler {
	return &ZoneFiler{paths: make(map[string]string)}
}

// SetPath records the on-disk zone file path for a zone, called once at
// startup when zones are loaded from config.
func (f *ZoneFiler) SetPath(zoneName, path string) {
	f.paths[zoneName] = path
}

func (f *ZoneFiler) Flush(z *zone.Zone) error {
	path, ok := f.paths[z.Name.Canonical]
	if !ok || path == "" {
		return nil
	}
	if err := zone.WriteZoneFile(z.Contents(), path); err != nil {
		return fmt.Errorf("flush zone %s: %w", z.Name, err)
	}
	return nil
}
