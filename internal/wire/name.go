/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package wire implements the DNS name and message wire codec: parsing and
// building of domain names, resource records and full messages, plus TSIG
// signing and verification. It is a thin policy layer over miekg/dns rather
// than a byte-level reimplementation of RFC 1035.
package wire

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

const (
	MaxNameLength  = 255
	MaxLabelLength = 63
)

// Name is a domain name carrying its canonical (lowercased, fully qualified)
// form alongside the original. Equality and ordering operate on Canonical.
type Name struct {
	Original  string
	Canonical string
}

// NewName validates and wraps a presentation-format domain name.
func NewName(s string) (Name, error) {
	fqdn := dns.Fqdn(s)
	if len(fqdn) > MaxNameLength {
		return Name{}, fmt.Errorf("wire: name %q exceeds %d octets", s, MaxNameLength)
	}
	labels := dns.SplitDomainName(fqdn)
	for _, l := range labels {
		if len(l) > MaxLabelLength {
			return Name{}, fmt.Errorf("wire: label %q exceeds %d octets", l, MaxLabelLength)
		}
	}
	return Name{Original: fqdn, Canonical: strings.ToLower(fqdn)}, nil
}

func (n Name) String() string { return n.Original }

// Equal compares two names on their canonical form.
func (n Name) Equal(o Name) bool { return n.Canonical == o.Canonical }

// Compare implements DNSSEC canonical name ordering (RFC 4034 §6.1): compare
// label-by-label starting at the rightmost (root-adjacent) label.
func (n Name) Compare(o Name) int {
	al := dns.SplitDomainName(n.Canonical)
	bl := dns.SplitDomainName(o.Canonical)
	i, j := len(al)-1, len(bl)-1
	for i >= 0 && j >= 0 {
		if c := strings.Compare(al[i], bl[j]); c != 0 {
			return c
		}
		i--
		j--
	}
	switch {
	case i < 0 && j < 0:
		return 0
	case i < 0:
		return -1
	default:
		return 1
	}
}

// IsSubdomainOf reports whether n is equal to or a descendant of parent.
func (n Name) IsSubdomainOf(parent Name) bool {
	return dns.IsSubDomain(parent.Canonical, n.Canonical)
}
