/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package journal

import (
	"fmt"

	"github.com/miekg/dns"
	"github.com/nsd-project/nsd/internal/wire"
)

// encodeRRSets packs a list of RRsets into wire-format RR bytes using a
// scratch dns.Msg as the packing context, the same approach the teacher
// uses to build AXFR/UPDATE envelopes (tdns/dnsutils.go, tdns/zone_updater.go)
// rather than hand-rolling RR-level wire encoding.
func encodeRRSets(sets []*wire.RRSet) ([]byte, error) {
	m := new(dns.Msg)
	for _, s := range sets {
		m.Answer = append(m.Answer, s.RRs...)
	}
	return m.Pack()
}

func decodeRRSets(b []byte) ([]*wire.RRSet, error) {
	if len(b) == 0 {
		return nil, nil
	}
	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		return nil, fmt.Errorf("journal: decode rrsets: %w", err)
	}
	var sets []*wire.RRSet
	bySet := map[string]*wire.RRSet{}
	for _, rr := range m.Answer {
		key := fmt.Sprintf("%s/%d/%d", rr.Header().Name, rr.Header().Rrtype, rr.Header().Class)
		s, ok := bySet[key]
		if !ok {
			ns, err := wire.NewRRSet(rr)
			if err != nil {
				return nil, err
			}
			bySet[key] = ns
			sets = append(sets, ns)
			continue
		}
		if err := s.Add(rr); err != nil {
			return nil, err
		}
	}
	return sets, nil
}

// EncodeChangeset serializes a Changeset to the wire-encoded payload stored
// in a journal entry (spec §6: "wire-bytes[length]").
func EncodeChangeset(cs *Changeset) ([]byte, error) {
	removes, err := encodeRRSets(cs.Removes)
	if err != nil {
		return nil, err
	}
	adds, err := encodeRRSets(cs.Adds)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 8+4+len(removes)+len(adds))
	buf = appendU32(buf, uint32(len(removes)))
	buf = append(buf, removes...)
	buf = appendU32(buf, uint32(len(adds)))
	buf = append(buf, adds...)
	return buf, nil
}

// DecodeChangeset parses the payload produced by EncodeChangeset back into a
// Changeset, given the serial pair stored alongside it in the journal entry
// header.
func DecodeChangeset(from, to uint32, payload []byte) (*Changeset, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("journal: truncated changeset payload")
	}
	rl := readU32(payload)
	payload = payload[4:]
	if len(payload) < int(rl) {
		return nil, fmt.Errorf("journal: truncated removes section")
	}
	removes, err := decodeRRSets(payload[:rl])
	if err != nil {
		return nil, err
	}
	payload = payload[rl:]
	if len(payload) < 4 {
		return nil, fmt.Errorf("journal: truncated changeset payload")
	}
	al := readU32(payload)
	payload = payload[4:]
	if len(payload) < int(al) {
		return nil, fmt.Errorf("journal: truncated adds section")
	}
	adds, err := decodeRRSets(payload[:al])
	if err != nil {
		return nil, err
	}
	return &Changeset{SoaFrom: from, SoaTo: to, Removes: removes, Adds: adds}, nil
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func readU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
