package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cellmatch/internal/logging"
	"cellmatch/internal/metrics"
	"cellmatch/pkg/config"
	"cellmatch/pkg/pipeline"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "cellmatch.yaml", "YAML configuration file")
	initConfig := flag.Bool("init", false, "Write a default configuration file to -config and exit")
	specimen := flag.String("specimen", "", "Only process the specimen with this name")
	workers := flag.Int("workers", 0, "Number of specimens processed in parallel (default: from config)")
	outputDir := flag.String("output", "", "Output directory (default: from config)")
	strategy := flag.String("strategy", "", "Matching strategy: nearest-neighbor or optimal-assignment (default: from config)")
	qcSlices := flag.Bool("qc", false, "Save QC overlay slices of the warped labels")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command line overrides
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *strategy != "" {
		cfg.Matching.Strategy = *strategy
	}
	if *qcSlices {
		cfg.Output.SaveQCSlices = true
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	specimens := cfg.Specimens
	if *specimen != "" {
		specimens = nil
		for _, s := range cfg.Specimens {
			if s.Name == *specimen {
				specimens = append(specimens, s)
			}
		}
		if len(specimens) == 0 {
			log.Fatalf("Specimen %q not found in %s", *specimen, *configPath)
		}
	}
	if len(specimens) == 0 {
		fmt.Fprintf(os.Stderr, "No specimens configured in %s (run with -init for an example)\n", *configPath)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.Output.LogFormat, cfg.Output.Verbose)
	runner := pipeline.NewRunner(cfg, logger, metrics.New())
	runner.BaseDir = filepath.Dir(*configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting cellmatch",
		"specimens", len(specimens),
		"workers", cfg.Processing.NumWorkers,
		"strategy", cfg.Matching.Strategy,
		"max_distance_um", cfg.Matching.MaxDistanceUm,
	)
	startTime := time.Now()
	reports, err := runner.RunBatch(ctx, specimens)
	processingTime := time.Since(startTime)

	fmt.Printf("\nProcessed %d specimens in %.2f seconds\n", len(specimens), processingTime.Seconds())
	for i, rep := range reports {
		if rep == nil {
			fmt.Printf("- %s: FAILED\n", specimens[i].Name)
			continue
		}
		s := rep.Result.Summary
		fmt.Printf("- %s: %d pairs, %d within %.2f um (%.1f%%), median %.3f um -> %s\n",
			rep.Specimen, s.Count, s.CountWithinGate, s.MaxDistanceUm,
			100*s.FractionWithinGate, s.MedianWithinGateUm, rep.OutputDir)
	}
	if err != nil {
		log.Fatalf("Batch failed: %v", err)
	}
}
