package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestHelp(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"--help"}, &out, &out)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "puffer") {
		t.Fatalf("expected help output to mention puffer, got: %s", out.String())
	}
}

func TestNoArgsShowsUsage(t *testing.T) {
	var out bytes.Buffer
	code := run(nil, &out, &out)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "listen") || !strings.Contains(out.String(), "probe") {
		t.Fatalf("expected usage to list both subcommands, got: %s", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"bogus"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown command") {
		t.Fatalf("expected unknown-command message, got: %s", stderr.String())
	}
}

func TestListenRequiresAddr(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"listen"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "missing --addr") {
		t.Fatalf("expected missing-addr message, got: %s", stderr.String())
	}
}

func TestProbeRequiresAddr(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"probe"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "missing --addr") {
		t.Fatalf("expected missing-addr message, got: %s", stderr.String())
	}
}

func TestProbeDialFailureReportsError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"probe", "--addr", "127.0.0.1:0", "--message", "hi"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1 for an address nothing is listening on, got %d", code)
	}
	if !strings.Contains(stderr.String(), "dial") {
		t.Fatalf("expected a dial error, got: %s", stderr.String())
	}
}
