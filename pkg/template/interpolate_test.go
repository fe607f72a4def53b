package template

import "testing"

func TestInterpolate(t *testing.T) {
	vars := map[string]string{
		"issue_number": "42",
		"issue_title":  "Crash on startup",
	}

	got := Interpolate("Resolve issue #{{issue_number}}: {{issue_title}}", vars)
	want := "Resolve issue #42: Crash on startup"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestInterpolateMissingVariableLeftVerbatim(t *testing.T) {
	got := Interpolate("hello {{unknown}}", map[string]string{"known": "x"})
	if got != "hello {{unknown}}" {
		t.Fatalf("expected unknown placeholder preserved, got %q", got)
	}
}

func TestInterpolateNoPlaceholders(t *testing.T) {
	got := Interpolate("plain text", nil)
	if got != "plain text" {
		t.Fatalf("got %q", got)
	}
}
