/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package dnssec

import (
	"crypto"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/nsd-project/nsd/internal/journal"
	"github.com/nsd-project/nsd/internal/wire"
	"github.com/nsd-project/nsd/internal/zone"
)

func mustName(t *testing.T, s string) wire.Name {
	t.Helper()
	n, err := wire.NewName(s)
	if err != nil {
		t.Fatalf("name %q: %v", s, err)
	}
	return n
}

func mustRRSet(t *testing.T, s string) *wire.RRSet {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	set, err := wire.NewRRSet(rr)
	if err != nil {
		t.Fatalf("rrset %q: %v", s, err)
	}
	return set
}

// testKeySet builds a single active KSK/ZSK-combined signing key backed by a
// real ECDSA key pair, grounded on keystore.LoadDnssecKeys's reconstruction
// of a dnssec.KeySet but generating fresh key material instead of round-
// tripping through sqlite/BIND presentation format.
func testKeySet(t *testing.T, origin wire.Name) *KeySet {
	t.Helper()
	dnskey := &dns.DNSKEY{
		Hdr:       dns.RR_Header{Name: origin.Original, Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET, Ttl: 3600},
		Flags:     257,
		Protocol:  3,
		Algorithm: dns.ECDSAP256SHA256,
	}
	priv, err := dnskey.Generate(256)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		t.Fatal("generated private key does not implement crypto.Signer")
	}
	return &KeySet{Keys: []*SigningKey{{DNSKEY: dnskey, Signer: signer, Active: true, KSK: true}}}
}

func baseContents(t *testing.T, origin wire.Name) *zone.Contents {
	t.Helper()
	c := zone.NewEmptyContents(origin)
	c.Apex.RRSets[dns.TypeSOA] = mustRRSet(t, "example. 3600 IN SOA ns1.example. hostmaster.example. 1 3600 600 604800 3600")
	c.Apex.RRSets[dns.TypeNS] = mustRRSet(t, "example. 3600 IN NS ns1.example.")

	aName := mustName(t, "a.example.")
	aNode := zone.NewNode(aName)
	aNode.RRSets[dns.TypeA] = mustRRSet(t, "a.example. 3600 IN A 192.0.2.1")
	c.Nodes[aName.Canonical] = aNode
	return c
}

// TestSignUpdateFullResignPublishesDNSKEYAndSignsExistingRRset is the
// scenario S4 end-to-end test: a forced full resign must both publish the
// zone's DNSKEY RRset at the apex and leave a fresh RRSIG attached to an
// RRset that already existed before the resign, once the changeset is
// applied to the zone.
func TestSignUpdateFullResignPublishesDNSKEYAndSignsExistingRRset(t *testing.T) {
	origin := mustName(t, "example.")
	old := baseContents(t, origin)
	ks := testKeySet(t, origin)

	s := NewSigner()
	s.SetKeys(origin.Canonical, ks)

	secCh, refreshAt, err := s.SignUpdate(old, old, true)
	if err != nil {
		t.Fatalf("SignUpdate: %v", err)
	}
	if secCh == nil || secCh.IsEmpty() {
		t.Fatal("expected a non-empty signing changeset on a forced full resign")
	}
	if refreshAt.IsZero() || !refreshAt.After(time.Now()) {
		t.Fatalf("expected refreshAt in the future, got %v", refreshAt)
	}

	nc, err := zone.Apply(old, []*journal.Changeset{secCh}, zone.ApplyOptions{OverwriteTTL: true})
	if err != nil {
		t.Fatalf("apply signing changeset: %v", err)
	}

	dnskeySet, ok := nc.Apex.GetRRset(dns.TypeDNSKEY)
	if !ok || dnskeySet.Len() == 0 {
		t.Fatal("expected apex DNSKEY RRset to be published after a full resign")
	}
	if len(dnskeySet.RRSIGs) == 0 {
		t.Fatal("expected the published DNSKEY RRset to carry its own RRSIG")
	}

	aSet, ok := nc.Nodes[mustName(t, "a.example.").Canonical].GetRRset(dns.TypeA)
	if !ok {
		t.Fatal("expected a.example. A RRset to survive the resign")
	}
	if len(aSet.RRSIGs) == 0 {
		t.Fatal("expected the pre-existing A RRset to carry a fresh RRSIG after resigning; Apply must merge incoming RRSIGs onto an already-published RRset rather than drop them")
	}
}

// TestSignUpdateIncrementalSignsOnlyTouchedRRset covers the incremental
// (non-forced) path: once the zone's DNSKEY is already published and
// unchanged, a SignUpdate call comparing two snapshots that differ by one
// newly-added owner name must sign only that owner's RRset, leaving
// untouched RRsets (and the already-current DNSKEY) alone. The NSEC chain is
// regenerated because a name was added, so a.example. may only receive a
// fresh NSEC record, never a re-signed RRset.
func TestSignUpdateIncrementalSignsOnlyTouchedRRset(t *testing.T) {
	origin := mustName(t, "example.")
	old := baseContents(t, origin)
	ks := testKeySet(t, origin)

	s := NewSigner()
	s.SetKeys(origin.Canonical, ks)

	// Seed a prior full resign so the zone already carries a published
	// DNSKEY matching ks, putting the next SignUpdate call on the
	// incremental path instead of forcing a full resign over a key change.
	seedCh, _, err := s.SignUpdate(old, old, true)
	if err != nil {
		t.Fatalf("seed SignUpdate: %v", err)
	}
	seeded, err := zone.Apply(old, []*journal.Changeset{seedCh}, zone.ApplyOptions{OverwriteTTL: true})
	if err != nil {
		t.Fatalf("apply seed changeset: %v", err)
	}

	// Simulate a DDNS UPDATE that adds a new owner name, the only thing
	// that differs between seeded and updated.
	updated := zone.NewWorkingCopy(seeded)
	bName := mustName(t, "b.example.")
	bNode := zone.NewNode(bName)
	bNode.RRSets[dns.TypeA] = mustRRSet(t, "b.example. 3600 IN A 192.0.2.2")
	updated.Nodes[bName.Canonical] = bNode

	secCh, _, err := s.SignUpdate(seeded, updated, false)
	if err != nil {
		t.Fatalf("incremental SignUpdate: %v", err)
	}
	if secCh == nil || secCh.IsEmpty() {
		t.Fatal("expected the incremental signer to sign the newly added RRset")
	}

	aCanon := mustName(t, "a.example.").Canonical
	for _, add := range secCh.Adds {
		if add.Type == dns.TypeDNSKEY {
			t.Fatal("incremental resign must not re-publish an already-current DNSKEY RRset")
		}
		if add.Name.Canonical == aCanon && add.Type != dns.TypeNSEC {
			t.Fatal("incremental resign must not re-sign a.example.'s RRsets, which were not part of the update")
		}
	}
}
