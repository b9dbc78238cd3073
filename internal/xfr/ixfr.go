/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package xfr

import (
	"fmt"

	"github.com/miekg/dns"
)

// diffSequence is one (remove, add) differential section of an IXFR
// response, grounded on tdns/ixfr/ixfr.go's DiffSequence.
type diffSequence struct {
	StartSerial uint32
	EndSerial   uint32
	Removed     []dns.RR
	Added       []dns.RR
}

// ErrMalformedIxfr is returned when an IXFR response can't be parsed into a
// well-formed sequence of differentials — the trigger for AXFR fallback
// (spec §4.7).
var ErrMalformedIxfr = fmt.Errorf("xfr: malformed IXFR differential sequence")

// parseIxfrAnswer walks an IXFR answer section, grounded on
// tdns/ixfr/ixfr.go's IxfrFromResponse state-toggle algorithm (the first RR
// is always the closing/final SOA; pairs of SOA markers bracket alternating
// removed/added sections). If the second RR isn't itself a SOA, the master
// answered with a plain AXFR instead of a differential (isAxfr=true),
// signalling the caller to switch to the AXFR ingestion path without a
// second round-trip.
func parseIxfrAnswer(answer []dns.RR) (seqs []diffSequence, isAxfr bool, err error) {
	if len(answer) < 2 {
		return nil, false, ErrMalformedIxfr
	}
	if _, ok := answer[0].(*dns.SOA); !ok {
		return nil, false, ErrMalformedIxfr
	}
	if _, ok := answer[1].(*dns.SOA); !ok {
		return nil, true, nil
	}

	isAdding := true
	var cur diffSequence
	for i := 1; i < len(answer); i++ {
		rr := answer[i]
		if soa, ok := rr.(*dns.SOA); ok {
			if isAdding {
				if i != 1 {
					seqs = append(seqs, cur)
				}
				cur = diffSequence{StartSerial: soa.Serial}
			} else {
				cur.EndSerial = soa.Serial
			}
			isAdding = !isAdding
			continue
		}
		if isAdding {
			cur.Added = append(cur.Added, rr)
		} else {
			cur.Removed = append(cur.Removed, rr)
		}
	}
	if len(seqs) == 0 {
		return nil, false, ErrMalformedIxfr
	}
	return seqs, false, nil
}
