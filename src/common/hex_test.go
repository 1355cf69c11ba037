package common

import (
	"bytes"
	"testing"
)

func TestHex(t *testing.T) {
	raw := []byte{0x04, 0xab, 0x00, 0xff}

	enc := EncodeHex(raw)
	if enc != "0X04AB00FF" {
		t.Fatalf("unexpected encoding %s", enc)
	}

	for _, s := range []string{enc, "0x04ab00ff", "0x04AB00ff"} {
		dec, err := DecodeHex(s)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if !bytes.Equal(dec, raw) {
			t.Fatalf("%s decoded to %x", s, dec)
		}
	}

	for _, s := range []string{"", "0", "04AB", "0X0", "0XZZ"} {
		if _, err := DecodeHex(s); err == nil {
			t.Fatalf("%q should not decode", s)
		}
	}
}
