package pipeline

import (
	"net"
	"testing"
)

func TestReversedQueryNameIPv4(t *testing.T) {
	got, err := ReversedQueryName(net.ParseIP("1.2.3.4"), "dnsbl.example.org")
	if err != nil {
		t.Fatal(err)
	}
	want := "4.3.2.1.dnsbl.example.org"
	if got != want {
		t.Fatalf("ReversedQueryName = %q, want %q", got, want)
	}
}

func TestReversedQueryNameRejectsInvalidAddr(t *testing.T) {
	if _, err := ReversedQueryName(nil, "dnsbl.example.org"); err == nil {
		t.Fatal("expected an error for a nil address")
	}
}

func TestIsListedReplyRequires127Block(t *testing.T) {
	if isListedReply(net.ParseIP("8.8.8.8"), nil) {
		t.Fatal("a non-127.0.0.0/8 reply should never be considered listed")
	}
	if !isListedReply(net.ParseIP("127.0.0.2"), nil) {
		t.Fatal("a 127.0.0.0/8 reply with no filter should be listed")
	}
}

func TestIsListedReplyHonorsFilters(t *testing.T) {
	filters := []net.IP{net.ParseIP("127.0.0.4")}
	if isListedReply(net.ParseIP("127.0.0.2"), filters) {
		t.Fatal("a reply not in the filter list should not match")
	}
	if !isListedReply(net.ParseIP("127.0.0.4"), filters) {
		t.Fatal("a reply matching the filter list should match")
	}
}
