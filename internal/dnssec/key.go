/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package dnssec implements the DNSSEC signer (spec §4.4): incremental and
// full-resign signature generation, NSEC chain maintenance, and key
// storage. Grounded on tdns/sign.go and tdns/db.go.
package dnssec

import (
	"crypto"
	"fmt"

	"github.com/miekg/dns"
)

// SigningKey pairs a DNSKEY record with its private signer, grounded on the
// teacher's DnssecKeys/Sig0ActiveKeys shape (tdns/structs.go).
type SigningKey struct {
	DNSKEY *dns.DNSKEY
	Signer crypto.Signer
	Active bool
	KSK    bool
}

// KeySet is the collection of keys available for signing one zone.
type KeySet struct {
	Keys []*SigningKey
}

// ActiveKeys returns the subset of keys in active signing state.
func (ks *KeySet) ActiveKeys() []*SigningKey {
	var out []*SigningKey
	for _, k := range ks.Keys {
		if k.Active {
			out = append(out, k)
		}
	}
	return out
}

func (ks *KeySet) HasKeys() bool { return ks != nil && len(ks.Keys) > 0 }

// Fingerprint returns a stable description of the key set's key tags and
// algorithms. SignUpdate does not use it: its "keys changed" check for the
// full-resign decision compares DNSKEY RRsets (dnskeySetsEqual).
func (ks *KeySet) Fingerprint() string {
	out := ""
	for _, k := range ks.Keys {
		out += fmt.Sprintf("%d/%d;", k.DNSKEY.KeyTag(), k.DNSKEY.Algorithm)
	}
	return out
}
