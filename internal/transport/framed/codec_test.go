package framed

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []map[string]interface{}{
		{"type": "tool_call", "id": "abc"},
		{"type": "browser_event", "url": strings.Repeat("x", 10000)},
		{},
	}

	for _, c := range cases {
		wire, err := Encode(c)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		dec := NewDecoder()
		records, err := dec.Feed(wire)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		var got map[string]interface{}
		if err := json.Unmarshal(records[0], &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
	}
}

func TestEncodeMessageTooLarge(t *testing.T) {
	big := map[string]string{"data": strings.Repeat("a", MaxMessageBytes+1)}
	if _, err := Encode(big); err != ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestDecoderPartialHeaderAcrossReads(t *testing.T) {
	wire, _ := Encode(map[string]string{"hello": "world"})
	dec := NewDecoder()

	// Feed the header byte-by-byte.
	var records [][]byte
	for i := 0; i < 3; i++ {
		recs, err := dec.Feed(wire[i : i+1])
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		records = append(records, recs...)
	}
	if len(records) != 0 {
		t.Fatalf("expected no complete records yet, got %d", len(records))
	}
	recs, err := dec.Feed(wire[3:])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record after full header, got %d", len(recs))
	}
}

func TestDecoderPayloadSplitAcrossReads(t *testing.T) {
	wire, _ := Encode(map[string]string{"k": strings.Repeat("v", 5000)})
	dec := NewDecoder()

	mid := len(wire) / 2
	recs, err := dec.Feed(wire[:mid])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records yet, got %d", len(recs))
	}
	recs, err = dec.Feed(wire[mid:])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
}

func TestDecoderOversizeLengthPrefixResetsBuffer(t *testing.T) {
	dec := NewDecoder()
	bad := make([]byte, 4)
	bad[0], bad[1], bad[2], bad[3] = 0xff, 0xff, 0xff, 0x7f // huge declared length
	_, err := dec.Feed(bad)
	if err != ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}

	// Decoder must recover and parse the next well-formed record.
	good, _ := Encode(map[string]string{"ok": "yes"})
	recs, err := dec.Feed(good)
	if err != nil {
		t.Fatalf("Feed after reset: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected decoder to recover, got %d records", len(recs))
	}
}

func TestRunDecoderClose(t *testing.T) {
	wire, _ := Encode(map[string]string{"a": "b"})
	r := bytes.NewReader(wire)

	var got [][]byte
	closed := false
	RunDecoder(r, func(b []byte) { got = append(got, b) }, nil, func() { closed = true })

	if len(got) != 1 || !closed {
		t.Fatalf("expected 1 record and close, got %d records closed=%v", len(got), closed)
	}
}
