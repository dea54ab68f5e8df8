package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"

	"price-aggregator/internal/aggregate"
	"price-aggregator/internal/config"
	"price-aggregator/internal/models"
	"price-aggregator/internal/sink"
	"price-aggregator/internal/source"
	"price-aggregator/internal/telemetry"
	workerproc "price-aggregator/internal/worker"
)

func main() {
	cfg := config.Load()

	location := flag.String("location", "411048", "delivery location (pincode)")
	query := flag.String("query", "milk", "search term")
	sourcesFile := flag.String("sources", cfg.SourcesFile, "source registry YAML")
	out := flag.String("out", cfg.ResultFile, "result JSON path, or - for stdout")
	flag.Parse()

	logger := telemetry.NewLogger(os.Stderr, cfg.ServiceName+"-cli", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	specs, err := config.LoadSources(*sourcesFile)
	if err != nil {
		logger.Error("load sources", "file", *sourcesFile, "err", err)
		os.Exit(1)
	}
	registry, err := source.BuildRegistry(cfg, specs, filepath.Dir(*sourcesFile))
	if err != nil {
		logger.Error("build source registry", "err", err)
		os.Exit(1)
	}

	pipeline := workerproc.NewPipeline(registry, source.NewRunner(logger), aggregate.NewEngine(), logger)
	result := pipeline.Run(ctx, uuid.NewString(), *location, *query)

	printSummary(os.Stdout, result)

	if *out == "-" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Error("write result", "err", err)
			os.Exit(1)
		}
		return
	}
	if err := sink.NewFile(*out).Write(ctx, result); err != nil {
		logger.Error("write result", "path", *out, "err", err)
		os.Exit(1)
	}
	fmt.Printf("\nresult written to %s\n", *out)
}

func printSummary(w io.Writer, res models.AggregateResult) {
	fmt.Fprintf(w, "%s @ %s\n\n", res.Query, res.Location)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tITEMS\tPRICED\tAVG\tMIN\tSTATUS")
	for _, s := range res.SourceSummaries {
		status := "ok"
		if s.Failed {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", s.SourceID, s.Count, s.PricedCount, money(s.AvgPrice), money(s.MinPrice), status)
	}
	_ = tw.Flush()

	if l := res.LowestPriceListing; l != nil {
		fmt.Fprintf(w, "\ncheapest: %s on %s at %s\n", l.Title, l.SourceID, money(l.NumericPrice))
	}
	for _, g := range res.ProductGroups {
		fmt.Fprintf(w, "group %s (%d sources, from %s): %s\n", g.Brand, len(g.Members), money(g.MinPrice), g.RepresentativeTitle)
	}
}

func money(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
