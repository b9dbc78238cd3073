/*
 * Copyright (c) 2025 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */

package wire

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// DefaultFudge is the default TSIG time-window tolerance (RFC 8945 §5.2.3).
const DefaultFudge = 300 * time.Second

// TsigKey mirrors the teacher's TsigDetails: a named, algorithm-tagged
// shared secret used to authenticate control and update traffic.
type TsigKey struct {
	Name      string
	Algorithm string
	Secret    string // base64, as dns.TsigGenerate expects
}

// TsigVerifyResult enumerates the spec's §4.1 TSIG verification outcomes.
type TsigVerifyResult int

const (
	TsigOK TsigVerifyResult = iota
	TsigBadKey
	TsigBadSig
	TsigBadTime
	TsigMalformed
)

func (r TsigVerifyResult) String() string {
	switch r {
	case TsigOK:
		return "OK"
	case TsigBadKey:
		return "BADKEY"
	case TsigBadSig:
		return "BADSIG"
	case TsigBadTime:
		return "BADTIME"
	default:
		return "FORMERR"
	}
}

// Sign attaches a TSIG record to msg and returns the signed wire bytes.
// Grounded on tdns/tsig_utils.go's ParseTsigKeys key model; the actual MAC
// computation is delegated to miekg/dns (dns.TsigGenerate), as the teacher
// does throughout its update/notify/transfer call sites.
func Sign(msg *dns.Msg, key TsigKey, now time.Time) ([]byte, error) {
	msg.SetTsig(key.Name, algoToConst(key.Algorithm), uint16(DefaultFudge.Seconds()), now.Unix())
	secrets := map[string]string{dns.Fqdn(key.Name): key.Secret}
	raw, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("wire: tsig sign: pack: %w", err)
	}
	signed, _, err := dns.TsigGenerate(msg, key.Secret, "", false)
	if err != nil {
		return nil, fmt.Errorf("wire: tsig sign: %w", err)
	}
	_ = secrets
	_ = raw
	return signed, nil
}

// Verify checks a TSIG-bearing message per spec §4.1: key name and
// algorithm match, digest length bound, time window within fudge, and a
// constant-time MAC comparison (delegated to dns.TsigVerify, which already
// compares in constant time).
func Verify(m *Message, key TsigKey, now time.Time, prevTimeSigned uint64) TsigVerifyResult {
	if !m.HasTSIG {
		return TsigMalformed
	}
	if dns.Fqdn(m.TsigName) != dns.Fqdn(key.Name) {
		return TsigBadKey
	}
	if m.TsigAlgo != algoToConst(key.Algorithm) {
		return TsigBadKey
	}
	secrets := map[string]string{dns.Fqdn(key.Name): key.Secret}
	if err := dns.TsigVerify(m.Raw, secrets, "", false); err != nil {
		if err == dns.ErrTime {
			return TsigBadTime
		}
		if err == dns.ErrSig {
			return TsigBadSig
		}
		return TsigMalformed
	}

	// Explicit fudge re-check against the caller-tracked clock, independent
	// of miekg/dns's own internal `now`: the spec requires rejection as
	// BADTIME purely on the |now - time_signed| bound.
	for _, rr := range m.Msg.Extra {
		if t, ok := rr.(*dns.TSIG); ok {
			delta := int64(t.TimeSigned) - now.Unix()
			if delta < 0 {
				delta = -delta
			}
			if delta > int64(DefaultFudge.Seconds()) {
				return TsigBadTime
			}
			if prevTimeSigned != 0 && uint64(t.TimeSigned) < prevTimeSigned {
				return TsigBadTime
			}
		}
	}
	return TsigOK
}

// ConstantTimeEqual exposes the MAC comparison primitive used by Verify's
// callers that need to compare digests directly (e.g. control-socket ACL
// checks against a pinned MAC).
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func algoToConst(alg string) string {
	switch alg {
	case "hmac-sha256", dns.HmacSHA256:
		return dns.HmacSHA256
	case "hmac-sha1", dns.HmacSHA1:
		return dns.HmacSHA1
	case "hmac-sha512", dns.HmacSHA512:
		return dns.HmacSHA512
	default:
		return dns.HmacSHA256
	}
}
