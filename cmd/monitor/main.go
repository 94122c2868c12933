// cmd/monitor/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/mfreeman451/lokiwatch/pkg/alerts"
	"github.com/mfreeman451/lokiwatch/pkg/api"
	"github.com/mfreeman451/lokiwatch/pkg/config"
	"github.com/mfreeman451/lokiwatch/pkg/db"
	"github.com/mfreeman451/lokiwatch/pkg/lifecycle"
	"github.com/mfreeman451/lokiwatch/pkg/loki"
	"github.com/mfreeman451/lokiwatch/pkg/metrics"
	"github.com/mfreeman451/lokiwatch/pkg/monitor"
)

func main() {
	configPath := flag.String("config", "", "Path to optional JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Data directory: %s", cfg.DataDir)
	log.Printf("Max size: %gGB", cfg.MaxSizeGB)
	log.Printf("Cleanup threshold: %d%%", cfg.ThresholdPercent)

	metricsDir, err := metrics.ResolveDir(cfg.MetricsDir, metrics.FallbackDir())
	if err != nil {
		log.Fatalf("Failed to resolve metrics directory: %v", err)
	}

	exporter := metrics.NewExporter(cfg.MaxSizeBytes(), metrics.NewFileSink(metricsDir))
	client := loki.NewClient(cfg.LokiAPIURL, cfg.CleanupQuery, exporter)

	mon := monitor.New(monitor.Config{
		DataDir:        cfg.DataDir,
		MaxSizeBytes:   cfg.MaxSizeBytes(),
		ThresholdBytes: cfg.ThresholdBytes(),
		Interval:       cfg.CheckInterval.Std(),
		CleanupQuery:   cfg.CleanupQuery,
	}, exporter, client)

	var history api.HistoryReader

	if cfg.HistoryDBPath != "" {
		store, err := db.New(cfg.HistoryDBPath)
		if err != nil {
			// History is an audit aid, not a correctness requirement.
			log.Printf("Cleanup history disabled: %v", err)
		} else {
			defer func() {
				if err := store.Close(); err != nil {
					log.Printf("Error closing history store: %v", err)
				}
			}()

			mon.SetHistoryStore(store)
			history = store
		}
	}

	for _, wc := range cfg.Webhooks {
		if wc.Enabled {
			mon.AddAlerter(alerts.NewWebhookAlerter(wc))
		}
	}

	apiServer := api.NewServer(exporter, history)

	err = lifecycle.RunServer(context.Background(), &lifecycle.ServerOptions{
		ListenAddr:  fmt.Sprintf(":%d", cfg.MetricsPort),
		ServiceName: "lokiwatch",
		Service:     mon,
		HTTP:        apiServer,
	})
	if err != nil {
		log.Fatalf("Monitor failed: %v", err)
	}
}
