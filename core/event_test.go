package core

import "testing"

func TestProgressEvent_Constructors(t *testing.T) {
	log := NewLogEvent("run-1", SeverityInfo, "compiling attempt 1")
	if log.Kind != EventLog || log.RunID != "run-1" || log.Message == "" || log.Timestamp.IsZero() {
		t.Fatalf("NewLogEvent malformed: %+v", log)
	}
	if log.Seq != 0 {
		t.Error("constructors must leave Seq for the emitter")
	}

	sess := NewSessionEvent("run-1", "sess-9")
	if sess.Kind != EventSession || sess.SessionID != "sess-9" {
		t.Fatalf("NewSessionEvent malformed: %+v", sess)
	}

	res := &GenerationResult{SessionID: "sess-9", RunID: "run-1"}
	done := NewCompleteEvent("run-1", res)
	if done.Kind != EventComplete || done.Result != res {
		t.Fatalf("NewCompleteEvent malformed: %+v", done)
	}

	advisory := NewErrorEvent("run-1", "cold email failed", false)
	terminal := NewErrorEvent("run-1", "backend unavailable", true)
	if advisory.Severity != SeverityError || terminal.Message == "" {
		t.Fatalf("NewErrorEvent malformed: %+v / %+v", advisory, terminal)
	}
}

func TestProgressEvent_IsTerminal(t *testing.T) {
	cases := []struct {
		name string
		ev   ProgressEvent
		want bool
	}{
		{"log", NewLogEvent("r", SeverityInfo, "x"), false},
		{"session", NewSessionEvent("r", "s"), false},
		{"complete", NewCompleteEvent("r", &GenerationResult{}), true},
		{"advisory error", NewErrorEvent("r", "x", false), false},
		{"terminal error", NewErrorEvent("r", "x", true), true},
	}
	for _, tc := range cases {
		if got := tc.ev.IsTerminal(); got != tc.want {
			t.Errorf("%s: IsTerminal = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNewID_Unique(t *testing.T) {
	a, b := NewID(), NewID()
	if a == "" || a == b {
		t.Fatalf("expected distinct non-empty ids, got %q / %q", a, b)
	}
}
