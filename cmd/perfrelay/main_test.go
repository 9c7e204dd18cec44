package main

import (
	"testing"
	"time"
)

func TestConsoleURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080":       "ws://127.0.0.1:8080/v1/console/ws",
		"https://relay.example/base/": "wss://relay.example/base/v1/console/ws",
	}
	for in, want := range cases {
		got, err := consoleURL(in)
		if err != nil {
			t.Fatalf("consoleURL(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("consoleURL(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := consoleURL("ftp://x"); err == nil {
		t.Fatalf("consoleURL(ftp) error = nil, want error")
	}
}

func TestSummarizePercentiles(t *testing.T) {
	var samples []time.Duration
	for i := 10; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	s := summarize(samples)
	if s.Turns != 10 || s.Min != time.Millisecond || s.Max != 10*time.Millisecond {
		t.Fatalf("summary = %+v", s)
	}
	if s.P50 != 5*time.Millisecond {
		t.Fatalf("P50 = %s, want 5ms", s.P50)
	}
	if s.P95 != 10*time.Millisecond {
		t.Fatalf("P95 = %s, want 10ms", s.P95)
	}
	if samples[0] != 10*time.Millisecond {
		t.Fatalf("summarize mutated its input")
	}
}

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"-token", "t", "-texts", " a | |b ", "-turn-timeout-ms", "10"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if len(cfg.texts) != 2 || cfg.texts[0] != "a" || cfg.texts[1] != "b" {
		t.Fatalf("texts = %v", cfg.texts)
	}
	if cfg.turnTimeout != time.Second {
		t.Fatalf("turnTimeout = %s, want clamp to 1s", cfg.turnTimeout)
	}

	t.Setenv("OPERATOR_TOKEN", "")
	if _, err := parseFlags([]string{"-turns", "1"}); err == nil {
		t.Fatalf("parseFlags() without token error = nil")
	}
}
