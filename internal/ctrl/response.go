/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package ctrl

import "github.com/miekg/dns"

// maxTXTString is RFC 1035's character-string length limit: one octet of
// length prefix, so at most 255 octets of content per string.
const maxTXTString = 255

// maxReplyBytes is the spec §4.8 per-message budget for control replies;
// lines are split across multiple messages once a reply would exceed it.
const maxReplyBytes = 16 * 1024

// chunkString splits s into maxTXTString-octet pieces for a single TXT RR's
// character-string list.
func chunkString(s string) []string {
	if s == "" {
		return []string{""}
	}
	b := []byte(s)
	var out []string
	for len(b) > maxTXTString {
		out = append(out, string(b[:maxTXTString]))
		b = b[maxTXTString:]
	}
	out = append(out, string(b))
	return out
}

// buildReplies packs lines into one or more reply bodies (authority-section
// TXT RRsets), each bounded by maxReplyBytes, per spec §4.8: "chunked into
// ≤255-octet character strings and ≤16KiB per message; multi-message
// replies repeat the response layout."
func buildReplies(qname string, lines []string) [][]dns.RR {
	var replies [][]dns.RR
	var cur []dns.RR
	size := 0

	flush := func() {
		if len(cur) > 0 {
			replies = append(replies, cur)
			cur = nil
			size = 0
		}
	}

	for _, line := range lines {
		rr := &dns.TXT{
			Hdr: dns.RR_Header{Name: qname, Rrtype: dns.TypeTXT, Class: dns.ClassCHAOS, Ttl: 0},
			Txt: chunkString(line),
		}
		approx := len(line) + 32 // header + length-prefix overhead, rough but conservative
		if size+approx > maxReplyBytes && len(cur) > 0 {
			flush()
		}
		cur = append(cur, rr)
		size += approx
	}
	flush()

	if len(replies) == 0 {
		replies = append(replies, nil)
	}
	return replies
}
