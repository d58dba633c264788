package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/codeforge/internal/agent"
	"github.com/lucasnoah/codeforge/internal/checks"
	"github.com/lucasnoah/codeforge/internal/config"
	"github.com/lucasnoah/codeforge/internal/db"
	"github.com/lucasnoah/codeforge/internal/llm"
	"github.com/lucasnoah/codeforge/internal/metrics"
	"github.com/lucasnoah/codeforge/internal/orchestrator"
	"github.com/lucasnoah/codeforge/internal/pipeline"
	"github.com/lucasnoah/codeforge/internal/reward"
	"github.com/lucasnoah/codeforge/internal/stage"
)

// loadConfig loads --config, or searches the default locations.
func loadConfig() (*config.PipelineConfig, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadDefault()
}

// loadValidConfig loads the config and rejects it when validation fails.
func loadValidConfig() (*config.PipelineConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %v (run 'forge config validate' for details)", errs[0])
	}
	return cfg, nil
}

// openDB opens and migrates the configured database.
func openDB(cfg *config.PipelineConfig) (*db.DB, func(), error) {
	dsn := cfg.Pipeline.Database
	if dsn == "" {
		path, err := db.DefaultDBPath(cfg.Pipeline.StateDir)
		if err != nil {
			return nil, nil, err
		}
		dsn = path
	}
	d, err := db.Open(dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

// newModels builds one client per agent role. The API key is read from the
// configured environment variable here and nowhere else.
func newModels(cfg *config.PipelineConfig, observer llm.Observer) (map[string]llm.Model, error) {
	m := cfg.Pipeline.Model

	var apiKey string
	if m.APIKeyEnv != "" {
		apiKey = os.Getenv(m.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("environment variable %s is not set", m.APIKeyEnv)
		}
	}
	baseURL := m.BaseURL
	if baseURL == "" {
		baseURL = config.ProviderBaseURL(m.Provider)
	}

	models := make(map[string]llm.Model, len(config.RoleNames))
	for _, role := range config.RoleNames {
		r := cfg.Pipeline.Roles[role]
		temperature := m.Temperature
		if r.Temperature != nil {
			temperature = *r.Temperature
		}
		models[role] = llm.New(llm.Config{
			Role:        role,
			APIKey:      apiKey,
			BaseURL:     baseURL,
			Model:       r.Model,
			Temperature: temperature,
			Timeout:     config.ParseDuration(m.Timeout, 3*time.Minute),
			MaxAttempts: m.MaxAttempts,
			Backoff:     config.ParseDuration(m.Backoff, 2*time.Second),
			MaxBackoff:  config.ParseDuration(m.MaxBackoff, 30*time.Second),
		}, llm.WithLogger(logger), llm.WithObserver(observer))
	}
	return models, nil
}

// newScorer builds the reward scorer from the scoring section.
func newScorer(cfg *config.PipelineConfig) *reward.Scorer {
	var cfgs []checks.CheckConfig
	for _, name := range cfg.Pipeline.Scoring.Checks {
		c := cfg.Pipeline.Checks[name]
		cfgs = append(cfgs, checks.CheckConfig{
			Name:    name,
			Command: c.Command,
			Parser:  c.Parser,
			Timeout: config.ParseDuration(c.Timeout, checks.DefaultTimeout),
		})
	}
	return reward.NewScorer(checks.NewRunner(&checks.ExecRunner{}), cfgs, cfg.Pipeline.Scoring.Weights)
}

// forgeDeps holds everything a run needs.
type forgeDeps struct {
	cfg     *config.PipelineConfig
	db      *db.DB
	store   *pipeline.Store
	metrics *metrics.Recorder
	orch    *orchestrator.Orchestrator
}

// newOrchestrator wires config, storage, model clients and scoring into an
// orchestrator. The returned cleanup closes the database and flushes metrics.
func newOrchestrator(cmd *cobra.Command) (*forgeDeps, func(), error) {
	cfg, err := loadValidConfig()
	if err != nil {
		return nil, nil, err
	}
	d, cleanupDB, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := pipeline.DefaultStore(cfg.Pipeline.StateDir)
	if err != nil {
		cleanupDB()
		return nil, nil, fmt.Errorf("open run store: %w", err)
	}

	rec := metrics.New()
	calls := orchestrator.NewCallLog(d, rec, logger)
	models, err := newModels(cfg, calls)
	if err != nil {
		cleanupDB()
		return nil, nil, err
	}

	tmpl := agent.WithTemplatesDir(cfg.Pipeline.TemplatesDir)
	pm := agent.NewProjectManager(models[config.RolePlanner], models[config.RoleExtractor], tmpl)
	eng := agent.NewEngineer(models[config.RoleDeveloper], models[config.RoleReviewer], tmpl)
	engine := stage.NewEngine(eng, store, d)

	orch := orchestrator.NewOrchestrator(store, d, pm, engine, newScorer(cfg), cfg)
	orch.SetProgress(cmd.ErrOrStderr())
	orch.SetLogger(logger)
	orch.SetMetrics(rec)
	orch.SetCallLog(calls)

	cleanup := func() {
		if cfg.Pipeline.MetricsFile != "" {
			if err := rec.WriteTextfile(cfg.Pipeline.MetricsFile); err != nil {
				logger.Warn("write metrics", "path", cfg.Pipeline.MetricsFile, "error", err)
			}
		}
		cleanupDB()
	}
	return &forgeDeps{cfg: cfg, db: d, store: store, metrics: rec, orch: orch}, cleanup, nil
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
