package dht

import (
	"net"
	"testing"
)

func TestTokenManager_GenerateDeterministicPerSecret(t *testing.T) {
	tm := NewTokenManager()
	defer tm.Stop()

	ip := net.ParseIP("203.0.113.9")

	a := tm.Generate(ip)
	b := tm.Generate(ip)
	if a != b {
		t.Fatalf("tokens for the same IP and secret should match: %q != %q", a, b)
	}
	if len(a) != 20 {
		t.Fatalf("token length = %d, want 20 (sha1 digest)", len(a))
	}
}

func TestTokenManager_DiffersByIP(t *testing.T) {
	tm := NewTokenManager()
	defer tm.Stop()

	a := tm.Generate(net.ParseIP("1.2.3.4"))
	b := tm.Generate(net.ParseIP("5.6.7.8"))
	if a == b {
		t.Fatalf("tokens for different IPs should differ")
	}
}

func TestTokenManager_RotateChangesToken(t *testing.T) {
	tm := NewTokenManager()
	defer tm.Stop()

	ip := net.ParseIP("203.0.113.9")
	before := tm.Generate(ip)

	tm.rotate()

	after := tm.Generate(ip)
	if before == after {
		t.Fatalf("token should change after rotation")
	}
}
