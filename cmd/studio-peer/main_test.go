package main

import (
	"testing"
	"time"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"--user", "1", "--create", "--server", "http://studio.local/", "--ice", "stun:a,stun:b"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if o.server != "http://studio.local" {
		t.Fatalf("server = %q", o.server)
	}
	if len(o.iceServers) != 2 || o.iceServers[1] != "stun:b" {
		t.Fatalf("ice servers = %v", o.iceServers)
	}
	if o.interval != 2*time.Second || o.retries != 3 {
		t.Fatalf("defaults = %v/%d", o.interval, o.retries)
	}
}

func TestParseFlagsRejectsInvalidCombinations(t *testing.T) {
	tests := map[string][]string{
		"missing user":     {"--session", "S1"},
		"missing session":  {"--user", "1"},
		"session + create": {"--user", "1", "--session", "S1", "--create"},
		"fast interval":    {"--user", "1", "--create", "--interval", "10ms"},
		"negative retries": {"--user", "1", "--create", "--retries", "-1"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parseFlags(args); err == nil {
				t.Fatalf("parseFlags(%v) succeeded", args)
			}
		})
	}
}
