package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rheeghang/docent/core"
	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/session"
	"github.com/rheeghang/docent/internal/sim"
	"github.com/rheeghang/docent/kb"
	"github.com/rheeghang/docent/model"
	"github.com/rheeghang/docent/timectrl"
)

// simConfig is the parsed command line.
type simConfig struct {
	Exhibit     string
	Language    string
	Pages       []string
	ShakeMode   string
	Accelerated bool
	Tour        sim.TourOptions
	Verbose     bool
}

func main() {
	cfg := simConfig{Tour: sim.DefaultTourOptions()}
	pages := ""
	flag.StringVar(&cfg.Exhibit, "exhibit", "exhibit", "exhibit directory (pages.json + content/)")
	flag.StringVar(&cfg.Language, "lang", "ko", "visitor language")
	flag.StringVar(&pages, "pages", "", "comma-separated page IDs to visit (default: every page in order)")
	flag.StringVar(&cfg.ShakeMode, "shake-mode", "single", "shake detection mode: single or double")
	flag.BoolVar(&cfg.Accelerated, "accelerated", true, "run in accelerated mode (vs real-time)")
	flag.DurationVar(&cfg.Tour.Search, "search", cfg.Tour.Search, "time spent off target before sweeping in")
	flag.DurationVar(&cfg.Tour.Approach, "approach", cfg.Tour.Approach, "sweep duration onto the target")
	flag.DurationVar(&cfg.Tour.Read, "read", cfg.Tour.Read, "time spent reading each page")
	flag.DurationVar(&cfg.Tour.Rate, "rate", cfg.Tour.Rate, "sensor sample interval")
	flag.Float64Var(&cfg.Tour.Offset, "offset", cfg.Tour.Offset, "starting distance from the target in degrees")
	flag.Float64Var(&cfg.Tour.Jitter, "jitter", 0, "hand jitter in degrees while reading")
	flag.Uint64Var(&cfg.Tour.Seed, "seed", 1, "jitter seed")
	flag.BoolVar(&cfg.Verbose, "v", false, "print every frame, not only events")
	flag.Parse()
	if pages != "" {
		cfg.Pages = strings.Split(pages, ",")
	}

	if err := simulate(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
}

// simulate loads the exhibit, tours it with one scripted visitor and
// prints what the visitor would see.
func simulate(ctx context.Context, cfg simConfig, out io.Writer) error {
	store := kb.NewKnowledgeBase(cfg.Language)
	summary, err := kb.LoadDir(store, os.DirFS(cfg.Exhibit))
	if err != nil {
		return fmt.Errorf("load exhibit: %w", err)
	}
	for _, s := range summary.Skipped {
		fmt.Fprintf(out, "warning: skipped page %q: %s\n", s.ID, s.Reason)
	}

	tour, err := selectPages(store, cfg.Pages)
	if err != nil {
		return err
	}

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	start := time.Now().UTC()
	tc := timectrl.NewTimeController(start, cfg.Tour.Rate, mode)

	shake := core.DefaultShakeConfig()
	shake.Mode = core.ParseShakeMode(cfg.ShakeMode)
	sessions := session.NewManager(store, logging.Noop(),
		session.WithClock(tc),
		session.WithShakeConfig(shake),
	)
	snap, err := sessions.Create(ctx, cfg.Language)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	if shake.Mode == core.ShakeDouble {
		cfg.Tour.ShakeAtEnd = false
	}
	script := sim.Tour(tour, cfg.Tour)
	if shake.Mode == core.ShakeDouble {
		script = sim.Merge(script, sim.ShakeBurst(script.Duration()+time.Second, 2*shake.Threshold, 2, 300*time.Millisecond))
	}

	player := sim.NewPlayer(sessions, tc)
	if mode == timectrl.RealTime {
		player.Pace = time.Sleep
	}

	fmt.Fprintf(out, "Starting simulation: session=%s pages=%d steps=%d span=%s mode=%v\n",
		snap.ID, len(tour), len(script), script.Duration(), mode)

	unlocked := 0
	_, err = player.Run(ctx, snap.ID, script, func(f sim.Frame) {
		elapsed := f.At.Sub(start)
		if cfg.Verbose && f.Update != nil {
			fmt.Fprintf(out, "[%8s] %-12s blur=%5.1f dist=%5.1f in=%-5v unlocked=%v\n",
				elapsed, f.Update.PageID, f.Update.Blur, f.Update.Distance, f.Update.InRange, f.Update.Unlocked)
		}
		for _, ev := range f.Events {
			if ev.Type == session.EventUnlocked {
				unlocked++
			}
			fmt.Fprintf(out, "[%8s] ↳ %-13s page=%s\n", elapsed, ev.Type, ev.PageID)
		}
	})
	if err != nil {
		return err
	}

	final, err := sessions.Get(snap.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Simulation complete: unlocked %d/%d pages, final page %s, menu open=%v\n",
		unlocked, len(tour), final.PageID, final.MenuOpen)
	return nil
}

func selectPages(store *kb.KnowledgeBase, ids []string) ([]model.PageConfig, error) {
	if len(ids) == 0 {
		return store.ListPages(), nil
	}
	res := make([]model.PageConfig, 0, len(ids))
	for _, id := range ids {
		p, err := store.GetPage(strings.TrimSpace(id))
		if err != nil {
			return nil, fmt.Errorf("page %q: %w", id, err)
		}
		res = append(res, p)
	}
	return res, nil
}
