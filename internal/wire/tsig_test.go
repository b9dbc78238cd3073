package wire

import (
	"testing"
	"time"

	"github.com/miekg/dns"
)

func signedMessage(t *testing.T, key TsigKey, signedAt time.Time) *Message {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion("example.", dns.TypeSOA)
	b, err := Sign(m, key, signedAt)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parsed, err := ParseMessage(b)
	if err != nil {
		t.Fatalf("parse signed message: %v", err)
	}
	return parsed
}

func TestTsigVerifyOK(t *testing.T) {
	key := TsigKey{Name: "testkey.", Algorithm: dns.HmacSHA256, Secret: "MTIzNDU2Nzg5MDEyMzQ1Ng=="}
	msg := signedMessage(t, key, time.Now())
	if got := Verify(msg, key, time.Now(), 0); got != TsigOK {
		t.Fatalf("expected OK, got %v", got)
	}
}

// TestTsigBadTime implements spec §8 property 7 and scenario S6: a message
// signed 600s in the past with the default 300s fudge must verify BADTIME
// regardless of MAC validity.
func TestTsigBadTime(t *testing.T) {
	key := TsigKey{Name: "testkey.", Algorithm: dns.HmacSHA256, Secret: "MTIzNDU2Nzg5MDEyMzQ1Ng=="}
	past := time.Now().Add(-600 * time.Second)
	msg := signedMessage(t, key, past)
	if got := Verify(msg, key, time.Now(), 0); got != TsigBadTime {
		t.Fatalf("expected BADTIME, got %v", got)
	}
}

func TestTsigBadKey(t *testing.T) {
	key := TsigKey{Name: "testkey.", Algorithm: dns.HmacSHA256, Secret: "MTIzNDU2Nzg5MDEyMzQ1Ng=="}
	other := TsigKey{Name: "otherkey.", Algorithm: dns.HmacSHA256, Secret: "MTIzNDU2Nzg5MDEyMzQ1Ng=="}
	msg := signedMessage(t, key, time.Now())
	if got := Verify(msg, other, time.Now(), 0); got != TsigBadKey {
		t.Fatalf("expected BADKEY, got %v", got)
	}
}
