package main

import (
	"testing"

	"github.com/pqvpn/pqvpn/pkg/cryptocore"
)

func TestParseKemMode(t *testing.T) {
	cases := []struct {
		in   string
		want cryptocore.KemMode
	}{
		{"classical", cryptocore.ModeClassical},
		{"pqc-only", cryptocore.ModePqcOnly},
		{"hybrid", cryptocore.ModeHybrid},
	}
	for _, c := range cases {
		got, err := parseKemMode(c.in)
		if err != nil {
			t.Fatalf("parseKemMode(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("parseKemMode(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseKemModeRejectsUnknown(t *testing.T) {
	if _, err := parseKemMode("quantum-telepathy"); err == nil {
		t.Fatal("parseKemMode(unknown) error = nil, want error")
	}
}

func TestRunBenchCountsEveryIteration(t *testing.T) {
	kex := cryptocore.NewKeyExchange(nil, cryptocore.ModeClassical)

	result, err := runBench(kex, 3)
	if err != nil {
		t.Fatalf("runBench: %v", err)
	}
	if result.keygen <= 0 || result.encapsulate <= 0 || result.decapsulate <= 0 {
		t.Errorf("runBench() = %+v, want all durations > 0", result)
	}
}
