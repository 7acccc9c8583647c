package main

import (
	"database/sql"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"silver/internal/config"
	"silver/internal/metrics"
	"silver/internal/metrics/datadog"
	"silver/internal/metrics/prompush"
)

// setupMetrics installs the configured metrics backend and returns the
// function that flushes it on exit.
func setupMetrics(cfg config.Metrics, log *zap.Logger) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch cfg.Backend {
	case "pushgateway":
		b, err = prompush.NewBackend(cfg.Job, cfg.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.DatadogAddr,
			Namespace:  cfg.Namespace,
			GlobalTags: cfg.Tags,
		})
	case "", "none":
		log.Debug("metrics disabled")
		return func() {}
	default:
		log.Warn("unknown metrics backend; metrics disabled", zap.String("backend", cfg.Backend))
		return func() {}
	}
	if err != nil {
		log.Warn("metrics backend init failed; using nop", zap.String("backend", cfg.Backend), zap.Error(err))
		return func() {}
	}
	log.Debug("metrics enabled", zap.String("backend", cfg.Backend), zap.String("job", cfg.Job))
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush", zap.Error(err))
		}
	}
}

func newTable(cmd *cobra.Command) *tabwriter.Writer {
	return tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
}

func row(w io.Writer, cols ...any) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(c)
	}
	fmt.Fprintln(w, strings.Join(parts, "\t"))
}

func orDash(s sql.NullString) string {
	if !s.Valid || s.String == "" {
		return "-"
	}
	return s.String
}

func when(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func count(n int) string { return humanize.Comma(int64(n)) }

// outcome prints msg and, when err is set, marks it as already reported.
func outcome(cmd *cobra.Command, msg string, err error) error {
	if msg != "" {
		fmt.Fprintln(cmd.OutOrStdout(), msg)
	}
	if err != nil {
		if msg == "" {
			return err
		}
		return reported{err}
	}
	return nil
}
