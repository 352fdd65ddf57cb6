package dht

import (
	"net"
	"testing"
)

func TestNewNode_RejectsInvalidEndpoint(t *testing.T) {
	tests := []struct {
		name string
		ip   net.IP
		port int
	}{
		{"not-ipv4", net.ParseIP("::1"), 6881},
		{"port-zero", net.ParseIP("1.2.3.4"), 0},
		{"port-too-large", net.ParseIP("1.2.3.4"), 70000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewNode(tc.ip, tc.port); err == nil {
				t.Fatalf("expected error for %s/%d", tc.ip, tc.port)
			}
		})
	}
}

func TestNewNode_Valid(t *testing.T) {
	n, err := NewNode(net.ParseIP("192.168.1.1"), 6881)
	if err != nil {
		t.Fatalf("NewNode error: %v", err)
	}
	if n.IP.To4() == nil {
		t.Fatalf("expected IPv4 address, got %v", n.IP)
	}
	if n.ID.IsZero() {
		t.Fatalf("generated ID should not be zero")
	}
}

// TestCompactNodeInfo checks the literal byte layout of a compact node:
// 20-byte ID, then 4-byte IPv4, then 2-byte big-endian port.
func TestCompactNodeInfo(t *testing.T) {
	var id NodeID
	for i := range id {
		id[i] = 'A'
	}

	n, err := NewNodeWithID(id, net.ParseIP("192.168.1.1"), 6881)
	if err != nil {
		t.Fatalf("NewNodeWithID error: %v", err)
	}

	got := n.CompactNodeInfo()
	want := append(append([]byte{}, []byte("AAAAAAAAAAAAAAAAAAAA")...), 0xc0, 0xa8, 0x01, 0x01, 0x1a, 0xe1)

	if len(got) != compactNodeSize {
		t.Fatalf("len = %d, want %d", len(got), compactNodeSize)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestDecodeCompactNodeInfo_RoundTrip(t *testing.T) {
	n, err := NewNode(net.ParseIP("10.0.0.5"), 1234)
	if err != nil {
		t.Fatalf("NewNode error: %v", err)
	}

	encoded := n.CompactNodeInfo()
	decoded, err := DecodeCompactNodeInfo(encoded)
	if err != nil {
		t.Fatalf("DecodeCompactNodeInfo error: %v", err)
	}

	if decoded.ID != n.ID || decoded.Port != n.Port || !decoded.IP.Equal(n.IP) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, n)
	}
}

func TestDecodeCompactNodeInfo_WrongLength(t *testing.T) {
	if _, err := DecodeCompactNodeInfo(make([]byte, 25)); err == nil {
		t.Fatalf("expected error for 25-byte input")
	}
}
