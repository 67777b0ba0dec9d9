// ABOUTME: Command barriersim runs simulated marking cycles from a config file
// ABOUTME: Prints one line per verified cycle and exits non-zero on failure

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/prateek/markbarrier"
	"github.com/prateek/markbarrier/config"
	"github.com/prateek/markbarrier/heapdump"
	"github.com/prateek/markbarrier/sim"
)

func main() {
	var (
		configPath = flag.String("config", "", "simulator configuration (JSON)")
		seed       = flag.Int64("seed", 0, "override the configured seed")
		verbose    = flag.Bool("v", false, "log at debug level")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: barriersim -config file.json\n\nfixture formats: %v\n\n", heapdump.Formats())
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Println("barriersim", markbarrier.Version)
		return
	}
	if *configPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "barriersim:", err)
		os.Exit(1)
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	level := cfg.Flags.LogLevel
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, filepath.Dir(*configPath), log); err != nil {
		log.Error("simulation failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, dir string, log *slog.Logger) error {
	w, err := sim.Build(cfg, dir, log)
	if err != nil {
		return err
	}
	defer w.Close()

	report, err := w.Run(ctx)
	if report != nil {
		for _, c := range report.Cycles {
			fmt.Printf("%-12s %-5s compacting=%-5t marked=%d/%d writes=%d greyed=%d shared=%d slots=%d remembered=%d floating=%dB %s\n",
				c.Isolate, c.Scope, c.Compacting, c.Marked, c.Objects, c.Barrier.Writes, c.Barrier.Greyed,
				c.Barrier.SharedGreyed, c.Barrier.SlotsRecorded, c.Remembered, c.Floating, c.Elapsed)
			for _, r := range c.TopRetainers {
				fmt.Printf("    retains %8dB  object %d\n", r.Retained, r.ID)
			}
		}
	}
	return err
}
