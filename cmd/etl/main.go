// Command etl runs one incremental pipeline cycle: extract pending CSV files
// and new embedded-store rows, validate, load into the target store, refresh
// the reporting views.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"salesetl/internal/config"
	"salesetl/internal/metrics"
	"salesetl/internal/metrics/datadog"
	"salesetl/internal/metrics/prompush"
	"salesetl/internal/pipeline"
	_ "salesetl/internal/storage/all"
)

func main() {
	var (
		envFile        = flag.String("env", "", "path to a .env file (default: ./.env if present)")
		validateOnly   = flag.Bool("validate", false, "validate configuration and exit")
		metricsBackend = flag.String("metrics-backend", "none", "metrics backend: none, pushgateway, datadog")
		pushgatewayURL = flag.String("pushgateway-url", "", "Prometheus Pushgateway base URL")
		statsdAddr     = flag.String("statsd-addr", "127.0.0.1:8125", "DogStatsD address for the datadog backend")
	)
	flag.Parse()

	cfg := config.Load(*envFile)

	issues := config.Validate(cfg)
	fatal := false
	for _, issue := range issues {
		log.Printf("config: %s: %s: %s", issue.Severity, issue.Path, issue.Message)
		if issue.Severity == config.SeverityError {
			fatal = true
		}
	}
	if *validateOnly {
		if fatal {
			os.Exit(1)
		}
		fmt.Println("configuration OK")
		return
	}
	if fatal {
		log.Fatal("configuration is invalid")
	}

	if err := setupMetrics(*metricsBackend, *pushgatewayURL, *statsdAddr, cfg.Job); err != nil {
		log.Fatalf("metrics: %v", err)
	}

	p := pipeline.New(cfg)
	sum, err := p.Run(context.Background())
	// Flush before exiting either way: a failed run's failure-status step
	// metrics matter most.
	flushMetrics()
	if err != nil {
		log.Printf("run failed: %v", err)
		os.Exit(1)
	}

	printCounts("extracted", sum.Extracted)
	printCounts("cleaned", sum.Cleaned)
	printCounts("rejected", sum.Rejected)
	printCounts("loaded", sum.Loaded)
}

func flushMetrics() {
	if err := metrics.Flush(); err != nil {
		log.Printf("metrics: flush: %v", err)
	}
}

func setupMetrics(backend, pushgatewayURL, statsdAddr, job string) error {
	switch backend {
	case "", "none":
		return nil
	case "pushgateway":
		b, err := prompush.NewBackend(job, pushgatewayURL)
		if err != nil {
			return err
		}
		metrics.SetBackend(b)
	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       statsdAddr,
			Namespace:  "etl.",
			GlobalTags: []string{"job:" + job},
		})
		if err != nil {
			return err
		}
		metrics.SetBackend(b)
	default:
		return fmt.Errorf("unknown backend %q", backend)
	}
	return nil
}

func printCounts(label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	tables := make([]string, 0, len(counts))
	for t := range counts {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Printf("%-10s %-12s %d\n", label, t, counts[t])
	}
}
