package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"silver/internal/bronze"
	"silver/internal/config"
	"silver/internal/llm"
	"silver/internal/logging"
	"silver/internal/mapping"
	"silver/internal/quality"
	"silver/internal/rules"
	"silver/internal/schema"
	"silver/internal/storage"
	"silver/internal/transform"
)

// app is the composition root shared by every command. Fields past db are
// populated by open.
type app struct {
	v       *viper.Viper
	cfgPath string
	envFile string

	cfg   config.Config
	log   *zap.Logger
	db    *storage.DB
	flush func()

	registry   *schema.Registry
	mappings   *mapping.Store
	known      *mapping.KnownStore
	templates  *mapping.TemplateStore
	rules      *rules.Store
	recorder   *quality.Recorder
	quarantine *quality.QuarantineStore
	bronze     *bronze.Reader
	engine     *transform.Engine
}

// reported wraps an error whose outcome line was already printed.
type reported struct{ error }

func (r reported) Unwrap() error { return r.error }

func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: config.NewViper(), log: zap.NewNop()}
	root := &cobra.Command{
		Use:   "silver",
		Short: "Bronze to Silver transformation engine",
		Long: `silver maps raw Bronze JSON documents onto declared Silver tables.

Target schemas, field mappings and transformation rules are stored as
metadata next to the target tables. "silver transform run" applies them
batch by batch behind a per-pair watermark.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (yaml, json or toml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the config, ignored when missing")
	pf.String("storage", "", "storage backend (sqlite, postgres, mysql, mssql)")
	pf.String("dsn", "", "database DSN")
	pf.String("user", "", "user recorded on approvals and returned by CURRENT_USER()")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("metrics-backend", "", "metrics backend (none, pushgateway, datadog)")
	for key, flag := range map[string]string{
		"storage.kind":    "storage",
		"storage.dsn":     "dsn",
		"user":            "user",
		"log.level":       "log-level",
		"metrics.backend": "metrics-backend",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		newBootstrapCmd(a),
		newConfigCmd(a),
		newSchemaCmd(a),
		newMappingsCmd(a),
		newKnownCmd(a),
		newPromptsCmd(a),
		newRulesCmd(a),
		newTransformCmd(a),
		newBatchesCmd(a),
		newQuarantineCmd(a),
		newMetricsCmd(a),
		newBronzeCmd(a),
	)
	return root, a
}

// loadConfig reads the configuration and builds the logger.
func (a *app) loadConfig() error {
	cfg, err := config.Load(a.v, a.cfgPath, a.envFile)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	zap.ReplaceGlobals(log)
	return nil
}

// open loads and validates the configuration, connects to storage and wires
// the stores and the engine.
func (a *app) open(ctx context.Context) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	issues := config.Validate(a.cfg)
	var errs []error
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			errs = append(errs, iss)
			continue
		}
		a.log.Warn("config", zap.String("path", iss.Path), zap.String("issue", iss.Message))
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration is invalid: %w", errors.Join(errs...))
	}

	db, err := storage.Open(ctx, storage.Config{
		Kind:         a.cfg.Storage.Kind,
		DSN:          a.cfg.Storage.DSN,
		MaxOpenConns: a.cfg.Storage.MaxOpenConns,
		Schema:       a.cfg.Silver.Schema,
	}, a.log)
	if err != nil {
		return err
	}
	a.db = db
	a.flush = setupMetrics(a.cfg.Metrics, a.log)

	a.registry = schema.NewRegistry(db, a.log)
	a.mappings = mapping.NewStore(db, a.registry, a.log)
	a.known = mapping.NewKnownStore(db, a.log)
	a.templates = mapping.NewTemplateStore(db, a.log)
	a.rules = rules.NewStore(db, a.log)
	a.recorder = quality.NewRecorder(db, a.cfg.Quality.CompletenessThreshold, a.log)
	a.quarantine = quality.NewQuarantineStore(db, a.log)
	a.bronze = bronze.NewReader(db, a.cfg.Bronze, a.log)
	a.engine = transform.New(transform.Deps{
		DB:         db,
		Source:     a.bronze,
		Registry:   a.registry,
		Mappings:   a.mappings,
		Rules:      a.rules,
		Recorder:   a.recorder,
		Quarantine: a.quarantine,
		Log:        a.log,
	}, a.cfg.Transform, a.cfg.User)
	return nil
}

// mappingService builds the generator service. The LLM client is only
// constructed when an endpoint is configured; the semantic generator
// reports its absence.
func (a *app) mappingService() (*mapping.Service, error) {
	s := &mapping.Service{
		Store:     a.mappings,
		Known:     a.known,
		Templates: a.templates,
		Registry:  a.registry,
		Fields:    a.bronze,
		Config:    a.cfg.Mapping,
		Log:       a.log,
	}
	if a.cfg.LLM.Endpoint != "" {
		c, err := llm.NewHTTPClient(a.cfg.LLM, nil, a.log)
		if err != nil {
			return nil, err
		}
		s.LLM = c
	}
	return s, nil
}

func (a *app) close() {
	if a.flush != nil {
		a.flush()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("close storage", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
