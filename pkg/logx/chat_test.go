package logx

import (
	"strings"
	"testing"
)

func TestFormatChatLine(t *testing.T) {
	t.Parallel()

	got := formatChatLine([]byte(`{"level":"warn","time":"x","message":"job failed","job":"abc","comp":"scheduler"}`))
	want := "[WARN] job failed\n- comp=scheduler\n- job=abc"
	if got != want {
		t.Fatalf("formatChatLine = %q, want %q", got, want)
	}
}

func TestFormatChatLineNotJSON(t *testing.T) {
	t.Parallel()

	got := formatChatLine([]byte("  plain text\n"))
	if got != "plain text" {
		t.Fatalf("formatChatLine = %q, want %q", got, "plain text")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("a", 50)
	if got := truncate(s, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate = %q, want short", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
