package net

import (
	"testing"

	"github.com/mosaicnetworks/dagbft/src/common"
)

func TestTCPTransport_BadAddr(t *testing.T) {
	_, err := NewTCPTransport("0.0.0.0:0", "", 1, 0, common.NewTestEntry(t, "tcp"))
	if err != errNotAdvertisable {
		t.Fatalf("err: %v", err)
	}
}

func TestTCPTransport_WithAdvertise(t *testing.T) {
	trans, err := NewTCPTransport("0.0.0.0:0", "127.0.0.1:12345", 1, 0, common.NewTestEntry(t, "tcp"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans.Close()
	if trans.AdvertiseAddr() != "127.0.0.1:12345" {
		t.Fatalf("bad: %v", trans.AdvertiseAddr())
	}
}
