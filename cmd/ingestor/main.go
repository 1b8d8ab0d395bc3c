// Command ingestor resolves a county tax-roll, adjudicated-property, or GIS
// CSV extract into Party/Owner/Parcel/Lead records. It is meant to be
// invoked once per file by an operator or an external scheduler ahead of
// the nightly pipeline, not to poll a directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ebrland/orchestrator/internal/config"
	applog "github.com/ebrland/orchestrator/internal/logging"
	"github.com/ebrland/orchestrator/pkg/ingest"
	"github.com/ebrland/orchestrator/pkg/metrics"
	"github.com/ebrland/orchestrator/pkg/resolver"
	"github.com/ebrland/orchestrator/pkg/store"
)

const (
	exitOK            = 0
	exitConfigInvalid = 1
	exitDatabaseDown  = 2
	exitFileError     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	filePath := flag.String("file", "", "path to the CSV extract to ingest")
	marketCode := flag.String("market", "", "market code to assign to every resolved lead")
	flag.Parse()

	if *filePath == "" || *marketCode == "" {
		fmt.Fprintln(os.Stderr, "usage: ingestor -file <path.csv> -market <code> [-config config.yaml]")
		return exitConfigInvalid
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigInvalid
	}

	logger := applog.New(cfg.Logging)

	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Name, cfg.Database.SSLMode)
	if cfg.Database.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Database.Password)
	}

	pgStore, err := store.Open(dsn)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		return exitDatabaseDown
	}

	f, err := os.Open(*filePath)
	if err != nil {
		logger.WithError(err).WithField("file", *filePath).Error("failed to open extract")
		return exitFileError
	}
	defer f.Close()

	pipeline := ingest.New(resolver.New(pgStore))
	stats, rowErrs, err := pipeline.IngestCSV(context.Background(), f, *marketCode)
	if err != nil {
		logger.WithError(err).Error("ingestion failed")
		return exitFileError
	}

	for _, re := range rowErrs {
		logger.WithFields(logrus.Fields{"row": re.Row, "error": re.Err}).Warn("skipped row during ingestion")
	}

	// A short-lived process doesn't run a scrape target; the counters are
	// gathered here only so a wrapping cron can push them to a pushgateway
	// in front of this binary without reaching into its internals.
	m := metrics.New()
	m.RowsIngested.WithLabelValues("processed").Add(float64(stats.RowsProcessed))
	m.RowsIngested.WithLabelValues("skipped").Add(float64(stats.RowsSkipped))
	m.RowsIngested.WithLabelValues("errored").Add(float64(stats.Errors))

	logger.WithFields(logrus.Fields{
		"file":           *filePath,
		"market":         *marketCode,
		"rows_processed": stats.RowsProcessed,
		"rows_skipped":   stats.RowsSkipped,
		"leads_created":  stats.LeadsCreated,
		"errors":         stats.Errors,
	}).Info("ingestion run complete")

	return exitOK
}
