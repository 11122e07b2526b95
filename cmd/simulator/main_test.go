package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rheeghang/docent/internal/sim"
)

func quickTour() sim.TourOptions {
	opts := sim.DefaultTourOptions()
	opts.Search = 500 * time.Millisecond
	opts.Approach = time.Second
	opts.Read = 500 * time.Millisecond
	return opts
}

// TestSimulateSampleExhibit tours the bundled exhibit end to end.
func TestSimulateSampleExhibit(t *testing.T) {
	var out bytes.Buffer
	cfg := simConfig{
		Exhibit:     "../../exhibit",
		Language:    "en",
		ShakeMode:   "single",
		Accelerated: true,
		Tour:        quickTour(),
	}
	if err := simulate(context.Background(), cfg, &out); err != nil {
		t.Fatalf("simulate() error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "unlocked 6/6 pages") {
		t.Fatalf("expected every page unlocked, got:\n%s", got)
	}
	if !strings.Contains(got, "menu open=true") {
		t.Fatalf("expected the closing shake to open the menu, got:\n%s", got)
	}
}

func TestSimulateDoubleShakeAndPageSubset(t *testing.T) {
	var out bytes.Buffer
	cfg := simConfig{
		Exhibit:     "../../exhibit",
		Language:    "ko",
		Pages:       []string{"artwork-1", "artwork-3"},
		ShakeMode:   "double",
		Accelerated: true,
		Tour:        quickTour(),
		Verbose:     true,
	}
	if err := simulate(context.Background(), cfg, &out); err != nil {
		t.Fatalf("simulate() error = %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "unlocked 2/2 pages, final page artwork-3, menu open=true") {
		t.Fatalf("unexpected summary:\n%s", got)
	}
	if !strings.Contains(got, "blur=") {
		t.Fatalf("verbose output missing frames:\n%s", got)
	}
}

func TestSimulateUnknownPage(t *testing.T) {
	cfg := simConfig{Exhibit: "../../exhibit", Language: "ko", Pages: []string{"nope"}, Accelerated: true, Tour: quickTour()}
	if err := simulate(context.Background(), cfg, &bytes.Buffer{}); err == nil {
		t.Fatalf("simulate() error = nil, want unknown page")
	}
}
