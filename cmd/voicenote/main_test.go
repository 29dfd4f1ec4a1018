package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GriffinCanCode/voicenote/internal/enrichment"
	"github.com/GriffinCanCode/voicenote/internal/orchestrator/session"
	"github.com/GriffinCanCode/voicenote/internal/server"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "voicenote dev") {
		t.Errorf("expected output to contain 'voicenote dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"serve", "record", "transcribe", "contacts", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing %q", sub)
		}
	}
}

func TestBadConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("sample_rate: -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "--config", path, "contacts", "list", "--user", "u1"); err == nil {
		t.Error("expected an invalid config to be rejected")
	}
}

func TestContactsAddAndList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voicenote.yaml")
	cfg := "db_path: " + filepath.Join(dir, "contacts.db") + "\n"
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--config", path, "contacts", "add", "--user", "u1", "--id", "c1", "--first", "Ada", "--last", "Lovelace")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "saved Ada Lovelace (c1)") {
		t.Errorf("add output = %q", out)
	}

	out, err = run(t, "--config", path, "contacts", "list", "--user", "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "c1") || !strings.Contains(out, "Ada Lovelace") {
		t.Errorf("list output = %q", out)
	}
}

func TestFormatEvent(t *testing.T) {
	msg := func(ev session.Event) server.ServerMessage { return server.ServerMessage{Event: ev} }

	tests := []struct {
		name string
		msg  server.ServerMessage
		want string
	}{
		{"final", msg(session.Event{Type: session.EventFinal, Text: "hello", Level: "high"}), "> hello (high)"},
		{"status", msg(session.Event{Type: session.EventStatus, Status: session.StatusPaused}), "[status] paused"},
		{"reconnecting", msg(session.Event{Type: session.EventReconnecting, Attempt: 2, DelayMS: 2000}), "[reconnecting] attempt 2 in 2000ms"},
		{"error", msg(session.Event{Type: session.EventError, Code: "STREAM_EXHAUSTED", Error: "gave up"}), "[error] STREAM_EXHAUSTED: gave up"},
		{"enrichment", msg(session.Event{
			Type:        session.EventEnrichment,
			ContactName: "Jon Smith",
			Suggestions: []enrichment.Suggestion{{Type: "tag", Value: "climbing"}, {Type: "location", Value: "Denver"}},
		}), "[suggest] Jon Smith: tag=climbing, location=Denver"},
		{"unknown", msg(session.Event{Type: "something_else"}), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatEvent(tt.msg); got != tt.want {
				t.Errorf("formatEvent = %q, want %q", got, tt.want)
			}
		})
	}
}
