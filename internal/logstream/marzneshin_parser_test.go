package logstream

import "testing"

func TestMarzneshinParser_ParsesAcceptedLine(t *testing.T) {
	p := NewMarzneshinParser()
	line := `2026/07/31 10:15:02 from 203.0.113.4:51514 accepted tcp:example.com:443 [inbound-1 >> direct] email: alice.1`

	obs, err := p.ParseLogToUser(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected an observation, got nil")
	}
	if obs.Name != "alice.1" || obs.IP != "203.0.113.4" || obs.Inbound != "inbound-1" {
		t.Errorf("got %+v, want name=alice.1 ip=203.0.113.4 inbound=inbound-1", obs)
	}
}

func TestMarzneshinParser_IPv6Address(t *testing.T) {
	p := NewMarzneshinParser()
	line := `2026/07/31 10:15:02 from [2001:db8::1]:51514 accepted tcp:example.com:443 [inbound-2 >> direct] email: bob.2`

	obs, err := p.ParseLogToUser(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs == nil || obs.IP != "2001:db8::1" {
		t.Errorf("got %+v, want ip=2001:db8::1", obs)
	}
}

func TestMarzneshinParser_NonUserLineDropped(t *testing.T) {
	p := NewMarzneshinParser()
	_, err := p.ParseLogToUser("2026/07/31 10:15:02 Xray 1.8.0 started")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	obs, err := p.ParseLogToUser(`2026/07/31 10:15:02 from 203.0.113.4:51514 accepted tcp:example.com:443 [inbound-1 >> direct]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs != nil {
		t.Errorf("expected nil for a line without an email tag, got %+v", obs)
	}
}
