package serverlink

import (
	"testing"
	"time"

	"github.com/embercd/embercd/irc/caps"
	"github.com/embercd/embercd/irc/confstore"
)

func TestQueueNextRotatesAndRespectsHold(t *testing.T) {
	q := NewQueue()
	a := &Candidate{Name: "a", Hold: time.Minute}
	b := &Candidate{Name: "b", Hold: time.Minute}
	q.Add(a)
	q.Add(b)

	now := time.Now()
	first := q.Next(now, nil)
	if first != a {
		t.Fatalf("expected a to be returned first, got %v", first)
	}

	second := q.Next(now, nil)
	if second != b {
		t.Fatalf("expected b to be returned second (a now on hold), got %v", second)
	}

	if got := q.Next(now, nil); got != nil {
		t.Fatalf("expected nil with both candidates on hold, got %v", got)
	}

	later := now.Add(2 * time.Minute)
	if got := q.Next(later, nil); got != a {
		t.Fatalf("expected a again once its hold elapsed, got %v", got)
	}
}

func TestQueueNextSkipsFullClass(t *testing.T) {
	q := NewQueue()
	c := &Candidate{Name: "c", ClassName: "server", Hold: time.Minute}
	q.Add(c)

	full := func(className string) bool { return className == "server" }
	if got := q.Next(time.Now(), full); got != nil {
		t.Fatalf("expected nil when the only candidate's class is full, got %v", got)
	}
}

func TestHandshakeRequiresStrictOrder(t *testing.T) {
	h := &Handshake{MySID: "42X", MyName: "irc.example.org"}

	if err := h.ApplyCapab([]string{"TS6"}); err == nil {
		t.Fatal("expected CAPAB before PASS to be rejected")
	}
	if err := h.ApplyPass("hunter2", 6, "43X"); err != nil {
		t.Fatalf("ApplyPass: %v", err)
	}
	if err := h.ApplyServer("irc.peer.org", "peer info"); err == nil {
		t.Fatal("expected SERVER before CAPAB to be rejected")
	}
	if err := h.ApplyCapab([]string{"TS6", "EUID"}); err != nil {
		t.Fatalf("ApplyCapab: %v", err)
	}
	if err := h.ApplyPass("hunter2", 6, "43X"); err == nil {
		t.Fatal("expected a second PASS after CAPAB to be rejected")
	}
	if err := h.ApplyServer("irc.peer.org", "peer info"); err != nil {
		t.Fatalf("ApplyServer: %v", err)
	}
	if h.Ready() {
		t.Fatal("handshake should not be ready before SVINFO")
	}
	if err := h.ApplySVInfo(); err != nil {
		t.Fatalf("ApplySVInfo: %v", err)
	}
	if !h.Ready() {
		t.Fatal("handshake should be ready once PASS/CAPAB/SERVER/SVINFO all landed")
	}
}

func TestHandshakeVerifyPasswordPlain(t *testing.T) {
	h := &Handshake{Conf: &confstore.ConfItem{Passwd: "hunter2"}}
	h.ReceivePass = "hunter2"
	if !h.VerifyPassword(nil, false) {
		t.Fatal("expected a matching plaintext password to verify")
	}
	h.ReceivePass = "wrong"
	if h.VerifyPassword(nil, false) {
		t.Fatal("expected a mismatched plaintext password to fail")
	}
}

func TestHandshakeVerifyPasswordEncrypted(t *testing.T) {
	h := &Handshake{Conf: &confstore.ConfItem{Passwd: "hashedvalue"}}
	h.ReceivePass = "hunter2"

	var calledWith [2]string
	compare := func(supplied, hash string) bool {
		calledWith = [2]string{supplied, hash}
		return true
	}
	if !h.VerifyPassword(compare, true) {
		t.Fatal("expected the compare function's result to be honored")
	}
	if calledWith != [2]string{"hunter2", "hashedvalue"} {
		t.Fatalf("compare called with %v, want [hunter2 hashedvalue]", calledWith)
	}
}

func TestHandshakeNoConfNeverVerifies(t *testing.T) {
	h := &Handshake{}
	if h.VerifyPassword(nil, false) {
		t.Fatal("expected VerifyPassword to fail without an attached conf item")
	}
}

func TestAnnounceLinePrefersSIDForm(t *testing.T) {
	line := AnnounceLine("42X", "43X", "irc.new.org", 2, "a new leaf", true)
	want := ":42X SID irc.new.org 2 43X :a new leaf"
	if line != want {
		t.Fatalf("AnnounceLine = %q, want %q", line, want)
	}
}

func TestAnnounceLineFallsBackToNameForm(t *testing.T) {
	line := AnnounceLine("42X", "43X", "irc.new.org", 2, "a new leaf", false)
	want := "SERVER irc.new.org 2 :a new leaf"
	if line != want {
		t.Fatalf("AnnounceLine = %q, want %q", line, want)
	}
}

func TestOutboundLinesOrder(t *testing.T) {
	h := &Handshake{MySID: "42X", MyName: "irc.example.org", MyInfo: "the hub"}
	lines := h.OutboundLines("hunter2", caps.Parse([]string{"TS6"}))
	if len(lines) != 3 {
		t.Fatalf("expected 3 outbound lines, got %d", len(lines))
	}
	if lines[0] != "PASS hunter2 TS 6 :42X" {
		t.Fatalf("PASS line = %q", lines[0])
	}
}
