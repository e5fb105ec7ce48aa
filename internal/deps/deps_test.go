package deps

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stubs require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	present := writeScript(t, "present", "exit 0\n")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected blank result %#v", results[2])
	}
}

func TestCheckFFmpegReadsVersion(t *testing.T) {
	bin := writeScript(t, "ffmpeg", "echo 'ffmpeg version 7.1.1 Copyright (c) 2000-2025'\necho 'built with gcc'\n")
	status := CheckFFmpeg(context.Background(), bin)
	if !status.Available {
		t.Fatalf("expected ffmpeg available, got %#v", status)
	}
	if status.Version != "7.1.1" {
		t.Fatalf("version = %q", status.Version)
	}
	if !status.Optional {
		t.Fatal("ffmpeg should be optional")
	}
}

func TestCheckFFmpegFailingBinary(t *testing.T) {
	bin := writeScript(t, "ffmpeg", "exit 3\n")
	status := CheckFFmpeg(context.Background(), bin)
	if status.Available || status.Detail == "" {
		t.Fatalf("expected failure detail, got %#v", status)
	}
}

func TestParseFFmpegVersion(t *testing.T) {
	cases := map[string]string{
		"ffmpeg version n6.0 Copyright": "n6.0",
		"ffmpeg version":                "unknown",
		"":                              "unknown",
	}
	for in, want := range cases {
		if got := ParseFFmpegVersion(in); got != want {
			t.Errorf("ParseFFmpegVersion(%q) = %q, want %q", in, got, want)
		}
	}
}
