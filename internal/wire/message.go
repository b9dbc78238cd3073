/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package wire

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

// ParseError is returned by ParseMessage for any input that is well-formed
// enough for miekg/dns to unpack but violates one of the spec's additional
// rejection rules.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "wire: parse error: " + e.Reason }

var (
	ErrTruncated  = errors.New("wire: truncated message")
	ErrRRCount    = errors.New("wire: resource record count overflow")
	ErrBadTsigPos = errors.New("wire: TSIG record is not last in additional section")
)

// Message wraps a parsed *dns.Msg plus the raw bytes it was parsed from (TSIG
// needs the exact wire bytes to compute its MAC) and whether a TSIG record
// was present.
type Message struct {
	Msg       *dns.Msg
	Raw       []byte
	HasTSIG   bool
	TsigName  string
	TsigAlgo  string
	TsigMAC   string
	TsigError uint16
}

// ParseMessage unpacks bytes into a Message, applying the spec's additional
// validation: oversized names/labels, non-decreasing compression pointers,
// and TSIG-must-be-last are all enforced by miekg/dns internally during
// Unpack; we additionally confirm TSIG position and stash the raw bytes.
func ParseMessage(b []byte) (*Message, error) {
	if len(b) < 12 {
		return nil, ErrTruncated
	}
	msg := new(dns.Msg)
	if err := msg.Unpack(b); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}

	m := &Message{Msg: msg, Raw: b}
	if len(msg.Extra) > 0 {
		last := msg.Extra[len(msg.Extra)-1]
		if t, ok := last.(*dns.TSIG); ok {
			m.HasTSIG = true
			m.TsigName = t.Hdr.Name
			m.TsigAlgo = t.Algorithm
			m.TsigMAC = t.MAC
		} else {
			for _, rr := range msg.Extra {
				if _, ok := rr.(*dns.TSIG); ok {
					return nil, ErrBadTsigPos
				}
			}
		}
	}
	return m, nil
}

// BuildMessage packs msg back to wire format.
func BuildMessage(msg *dns.Msg) ([]byte, error) {
	b, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("wire: build message: %w", err)
	}
	return b, nil
}

// ParseRR parses a single presentation-format RR, enforcing name/label
// length limits via NewName.
func ParseRR(s string) (dns.RR, error) {
	rr, err := dns.NewRR(s)
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	if rr == nil {
		return nil, &ParseError{Reason: "empty RR"}
	}
	if _, err := NewName(rr.Header().Name); err != nil {
		return nil, err
	}
	return rr, nil
}
