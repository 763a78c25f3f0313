package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRun_Version(t *testing.T) {
	var stdout bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &stdout, &bytes.Buffer{}, []string{"version"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), "courier") {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var stdout bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &stdout, &bytes.Buffer{}, []string{"-o", "json", "version"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout.String())
	}
	for _, key := range []string{"version", "git_commit", "go_version", "os", "arch"} {
		if _, ok := info[key]; !ok {
			t.Errorf("version info missing %q: %v", key, info)
		}
	}
}

func TestRun_Help(t *testing.T) {
	for _, flag := range []string{"-h", "-help", "--help"} {
		var stdout bytes.Buffer
		err := run(context.Background(), strings.NewReader(""), &stdout, &bytes.Buffer{}, []string{flag})
		if err != nil {
			t.Fatalf("run(%s): %v", flag, err)
		}
		if !strings.Contains(stdout.String(), "Usage:") {
			t.Errorf("help output for %s = %q", flag, stdout.String())
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	err := run(context.Background(), strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("run = %v, want unknown command error", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	err := run(context.Background(), strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}, []string{"-bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown argument") {
		t.Errorf("run = %v, want unknown argument error", err)
	}
}

func TestRun_ChatMissingConfig(t *testing.T) {
	err := run(context.Background(), strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{},
		[]string{"-config", "/nonexistent/courier.yaml", "chat"})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("run = %v, want config not found error", err)
	}
}

func TestNewLogger_RejectsBadLevel(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, "verbose"); err == nil {
		t.Error("expected error for unknown log level")
	}
	if _, err := newLogger(&bytes.Buffer{}, "debug"); err != nil {
		t.Errorf("newLogger(debug): %v", err)
	}
}
