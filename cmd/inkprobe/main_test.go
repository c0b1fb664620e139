package main

import (
	"strings"
	"testing"
)

func TestSplitSteps(t *testing.T) {
	got := splitSteps(" x = 1 | | x = 1\nx = 2 |")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (%q)", len(got), got)
	}
	if got[0] != "x = 1" {
		t.Fatalf("first step = %q", got[0])
	}
	if got[1] != "x = 1\nx = 2" {
		t.Fatalf("second step = %q", got[1])
	}
	if out := splitSteps("   "); out != nil {
		t.Fatalf("blank input = %q, want nil", out)
	}
}

func TestSocketURL(t *testing.T) {
	got, err := socketURL("http://127.0.0.1:8080")
	if err != nil {
		t.Fatalf("socketURL() error = %v", err)
	}
	if got != "ws://127.0.0.1:8080/ws/tts" {
		t.Fatalf("socketURL = %q", got)
	}

	got, err = socketURL("https://ink.example.com/base/")
	if err != nil {
		t.Fatalf("socketURL() error = %v", err)
	}
	if got != "wss://ink.example.com/base/ws/tts" {
		t.Fatalf("socketURL = %q", got)
	}

	if _, err := socketURL("ftp://nope"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestFormatStages(t *testing.T) {
	out := formatStages(latencySnapshot{})
	if !strings.Contains(out, "no samples recorded") {
		t.Fatalf("empty snapshot output = %q", out)
	}

	snap := latencySnapshot{
		WindowSize: 256,
		Stages: []stageRow{
			{Stage: "reasoning_total", Samples: 4, LastMS: 810, AvgMS: 790, P95MS: 900, TargetP95MS: 800},
		},
		Indicators: []indicatorRow{{Name: "reasoning_discarded", Count: 2}},
	}
	out = formatStages(snap)
	if !strings.Contains(out, "reasoning_total") || !strings.Contains(out, "OVER") {
		t.Fatalf("stage row missing target check: %q", out)
	}
	if !strings.Contains(out, "reasoning_discarded") {
		t.Fatalf("indicator row missing: %q", out)
	}
}
