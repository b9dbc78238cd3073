package journal

import (
	"path/filepath"
	"testing"

	"github.com/nsd-project/nsd/internal/wire"
)

func mustRRSet(t *testing.T, rr string) *wire.RRSet {
	t.Helper()
	r, err := wire.ParseRR(rr)
	if err != nil {
		t.Fatalf("parse rr: %v", err)
	}
	s, err := wire.NewRRSet(r)
	if err != nil {
		t.Fatalf("new rrset: %v", err)
	}
	return s
}

// TestJournalRoundtrip implements spec §8 property 2: load(store(cs)) is an
// equal sequence.
func TestJournalRoundtrip(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(filepath.Join(dir, "example.jnl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	cs1 := NewChangeset(0, 1)
	cs1.Adds = append(cs1.Adds, mustRRSet(t, "a.example. 3600 IN A 192.0.2.1"))
	if err := f.AppendChangeset(cs1); err != nil {
		t.Fatalf("append cs1: %v", err)
	}

	cs2 := NewChangeset(1, 2)
	cs2.Removes = append(cs2.Removes, mustRRSet(t, "a.example. 3600 IN A 192.0.2.1"))
	cs2.Adds = append(cs2.Adds, mustRRSet(t, "a.example. 3600 IN A 192.0.2.2"))
	if err := f.AppendChangeset(cs2); err != nil {
		t.Fatalf("append cs2: %v", err)
	}

	loaded, err := f.LoadChangesets()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 changesets, got %d", len(loaded))
	}
	if loaded[0].SoaFrom != 0 || loaded[0].SoaTo != 1 {
		t.Fatalf("cs1 serials wrong: %+v", loaded[0])
	}
	if loaded[1].SoaFrom != 1 || loaded[1].SoaTo != 2 {
		t.Fatalf("cs2 serials wrong: %+v", loaded[1])
	}
	if len(loaded[1].Removes) != 1 || len(loaded[1].Adds) != 1 {
		t.Fatalf("cs2 removes/adds wrong: %+v", loaded[1])
	}
}

func TestJournalChainBreakRejected(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(filepath.Join(dir, "example.jnl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.AppendChangeset(NewChangeset(0, 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.AppendChangeset(NewChangeset(5, 6)); err == nil {
		t.Fatal("expected chain-break error")
	}
}

func TestSerialArithmetic(t *testing.T) {
	if !SerialLess(0, 1) {
		t.Fatal("0 < 1")
	}
	if !SerialGreater(1, 0) {
		t.Fatal("1 > 0")
	}
	// wraparound: very large serial is "less than" a small one when the gap
	// is within 2^31.
	if !SerialLess(1<<32-1, 0) {
		t.Fatal("expected wraparound serial to be less")
	}
}
