package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	if p.Terminal() {
		t.Fatal("a buffer is not a terminal")
	}

	p.Title("Station")
	p.Field("Jobs", 3)
	p.Success("Synced %d records", 4)
	p.Error("remote down")

	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Errorf("plain output contains escape codes: %q", out)
	}
	for _, want := range []string{"Station\n", "Jobs:", "3\n", "✓ Synced 4 records", "✗ remote down"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPlainTable(t *testing.T) {
	var buf bytes.Buffer
	Plain(&buf).Table([]string{"ID", "Customer"}, [][]string{{"1", "Sam"}, {"2", "Lee"}})

	want := "ID\tCustomer\n1\tSam\n2\tLee\n"
	if buf.String() != want {
		t.Errorf("table = %q, want %q", buf.String(), want)
	}
}

func TestStateIsPlainWhenPiped(t *testing.T) {
	p := Plain(&bytes.Buffer{})
	for _, s := range []string{"idle", "syncing", "success", "error"} {
		if got := p.State(s); got != s {
			t.Errorf("State(%q) = %q", s, got)
		}
	}
}
