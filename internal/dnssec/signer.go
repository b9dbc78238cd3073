/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package dnssec

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/exp/rand"

	"github.com/nsd-project/nsd/internal/journal"
	"github.com/nsd-project/nsd/internal/wire"
	"github.com/nsd-project/nsd/internal/zone"
)

// DefaultSigValidity and the jitter window are grounded on tdns/sign.go's
// sigLifetime: a random 0-60s jitter is applied to inception/expiration to
// avoid every RRSIG in a zone expiring in lockstep.
const (
	DefaultSigValidity = 30 * 24 * time.Hour
	RefreshWindow      = 5 * 24 * time.Hour
)

// Signer implements zone.Signer, the spec §4.4 DNSSEC component.
type Signer struct {
	Keys map[string]*KeySet // zone name -> keys
}

func NewSigner() *Signer { return &Signer{Keys: make(map[string]*KeySet)} }

func (s *Signer) SetKeys(zoneName string, ks *KeySet) { s.Keys[zoneName] = ks }

// sigLifetime mirrors tdns/sign.go's sigLifetime: jittered inception (now -
// 60s - jitter, to tolerate clock skew) and expiration (now + validity +
// jitter).
func sigLifetime(t time.Time, validity time.Duration) (uint32, uint32) {
	jitter := time.Duration(rand.Intn(61)) * time.Second
	incep := uint32(t.Add(-jitter).Add(-60 * time.Second).Unix())
	expir := uint32(t.Add(validity).Add(jitter).Unix())
	return incep, expir
}

// SignUpdate implements spec §4.4: compares the DNSKEY RRset built from the
// configured keys with the one published in new, and whether old and new
// carry NSEC3 parameters, to choose full resign vs incremental; returns a changeset
// describing only signature-layer changes plus the next refresh_at.
// forceFull mirrors the control protocol's signzone command
// (zone.FlagForceResign): when true, a full resign runs regardless of what
// the old/new comparison would otherwise conclude.
func (s *Signer) SignUpdate(old, new *zone.Contents, forceFull bool) (*journal.Changeset, time.Time, error) {
	ks := s.Keys[new.Origin.Canonical]
	if !ks.HasKeys() {
		return nil, time.Time{}, nil
	}

	cs := journal.NewChangeset(new.Serial(), new.Serial())
	var minExpiry time.Time

	// The apex DNSKEY RRset is derived from the configured key set, not
	// from anything a DDNS/XFER change would ever touch, so it has to be
	// published (and kept in sync) by the signer itself — otherwise a key
	// rollover could never be observed, since nothing else in the zone
	// ever writes a DNSKEY record.
	desiredDNSKEY, err := buildDNSKEYSet(new.Origin, ks, apexTTL(new))
	if err != nil {
		return nil, time.Time{}, err
	}
	publishedDNSKEY, hasPublished := new.Apex.GetRRset(dns.TypeDNSKEY)
	keysChangedNow := desiredDNSKEY != nil && (!hasPublished || !dnskeySetsEqual(desiredDNSKEY, publishedDNSKEY))

	fullResign := forceFull || keysChangedNow || nsec3ParamsChanged(old, new)

	sign := func(n *zone.Node, rrtype uint16) error {
		set, ok := n.GetRRset(rrtype)
		if !ok || set.Len() == 0 || rrtype == dns.TypeRRSIG {
			return nil
		}
		newSet, expiry, err := s.signRRSet(new.Origin, set, ks)
		if err != nil {
			return err
		}
		if err := cs.AddRRSet(newSet); err != nil {
			return err
		}
		if minExpiry.IsZero() || expiry.Before(minExpiry) {
			minExpiry = expiry
		}
		return nil
	}

	if keysChangedNow {
		signedDNSKEY, expiry, err := s.signRRSet(new.Origin, desiredDNSKEY, ks)
		if err != nil {
			return nil, time.Time{}, err
		}
		if hasPublished {
			if err := cs.RemoveRRSet(publishedDNSKEY); err != nil {
				return nil, time.Time{}, err
			}
		}
		if err := cs.AddRRSet(signedDNSKEY); err != nil {
			return nil, time.Time{}, err
		}
		if minExpiry.IsZero() || expiry.Before(minExpiry) {
			minExpiry = expiry
		}
	}

	if fullResign {
		new.IterNodes(func(n *zone.Node) bool {
			for t := range n.RRSets {
				if t == dns.TypeDNSKEY && keysChangedNow {
					// already signed and added above; re-signing the
					// stale published set here would add a second,
					// conflicting Adds entry for the same owner/type.
					continue
				}
				if err := sign(n, t); err != nil {
					return false
				}
			}
			return true
		})
		if err := rebuildNsecChain(new, cs); err != nil {
			return nil, time.Time{}, err
		}
	} else {
		// Incremental: only RRsets whose owner/type changed between old and
		// new need a fresh RRSIG; each RRset that rrsetUnchanged reports
		// as differing from old is resigned on its own, matching
		// tdns/sign.go's NeedsResigning per-RRset granularity.
		new.IterNodes(func(n *zone.Node) bool {
			for t, set := range n.RRSets {
				if !rrsetUnchanged(old, n.Name.Canonical, t, set) {
					if err := sign(n, t); err != nil {
						return false
					}
				}
			}
			return true
		})
		if err := patchNsecNeighbors(old, new, cs); err != nil {
			return nil, time.Time{}, err
		}
	}

	refreshAt := time.Now().Add(DefaultSigValidity - RefreshWindow)
	if !minExpiry.IsZero() {
		candidate := minExpiry.Add(-RefreshWindow)
		if candidate.Before(refreshAt) {
			refreshAt = candidate
		}
	}
	return cs, refreshAt, nil
}

func (s *Signer) signRRSet(origin wire.Name, set *wire.RRSet, ks *KeySet) (*wire.RRSet, time.Time, error) {
	rrsig := &dns.RRSIG{
		Hdr:        dns.RR_Header{Name: set.Name.Original, Rrtype: dns.TypeRRSIG, Class: set.Class, Ttl: set.TTL},
		TypeCovered: set.Type,
		SignerName: origin.Original,
	}
	var chosen *SigningKey
	for _, k := range ks.ActiveKeys() {
		if k.KSK == (set.Type == dns.TypeDNSKEY) {
			chosen = k
			break
		}
	}
	if chosen == nil && len(ks.ActiveKeys()) > 0 {
		chosen = ks.ActiveKeys()[0]
	}
	if chosen == nil {
		return nil, time.Time{}, fmt.Errorf("dnssec: no active key to sign %s/%d", set.Name, set.Type)
	}
	rrsig.Algorithm = chosen.DNSKEY.Algorithm
	rrsig.KeyTag = chosen.DNSKEY.KeyTag()
	rrsig.Inception, rrsig.Expiration = sigLifetime(time.Now().UTC(), DefaultSigValidity)

	if err := rrsig.Sign(chosen.Signer, set.RRs); err != nil {
		return nil, time.Time{}, fmt.Errorf("dnssec: sign %s/%d: %w", set.Name, set.Type, err)
	}

	out := set.Clone()
	out.RRSIGs = []*dns.RRSIG{rrsig}
	expiry := time.Unix(int64(rrsig.Expiration), 0)
	return out, expiry, nil
}

// apexTTL returns the TTL new DNSKEY/signature-layer RRsets should carry,
// mirroring the apex SOA's TTL the way the teacher's sign.go derives
// default record TTLs from the zone's own SOA rather than a hardcoded
// constant.
func apexTTL(c *zone.Contents) uint32 {
	if soa, ok := c.Apex.GetRRset(dns.TypeSOA); ok && soa.Len() > 0 {
		return soa.TTL
	}
	return 3600
}

// buildDNSKEYSet constructs the apex DNSKEY RRset the configured key set
// should publish. Returns nil if ks has no active keys.
func buildDNSKEYSet(origin wire.Name, ks *KeySet, ttl uint32) (*wire.RRSet, error) {
	active := ks.ActiveKeys()
	if len(active) == 0 {
		return nil, nil
	}
	var set *wire.RRSet
	for _, k := range active {
		dk := *k.DNSKEY
		dk.Hdr = dns.RR_Header{Name: origin.Original, Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET, Ttl: ttl}
		if set == nil {
			ns, err := wire.NewRRSet(&dk)
			if err != nil {
				return nil, err
			}
			set = ns
			continue
		}
		if err := set.Add(&dk); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// dnskeySetsEqual reports whether a and b carry the same DNSKEY members,
// order-independent — the comparison the full-resign key-rollover check
// (spec §4.4) ultimately reduces to.
func dnskeySetsEqual(a, b *wire.RRSet) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Len() != b.Len() {
		return false
	}
	for _, rr := range a.RRs {
		found := false
		for _, other := range b.RRs {
			if dns.IsDuplicate(rr, other) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func nsec3ParamsChanged(old, new *zone.Contents) bool {
	return (old.Nsec3Params == nil) != (new.Nsec3Params == nil)
}

func rrsetUnchanged(old *zone.Contents, name string, t uint16, set *wire.RRSet) bool {
	n, ok := old.Nodes[name]
	if !ok {
		return false
	}
	oldSet, ok := n.GetRRset(t)
	if !ok {
		return false
	}
	if oldSet.Len() != set.Len() || oldSet.TTL != set.TTL {
		return false
	}
	for i, rr := range set.RRs {
		if i >= len(oldSet.RRs) || !dns.IsDuplicate(rr, oldSet.RRs[i]) {
			return false
		}
	}
	return true
}
