// SisDrone Field Agent
// Main entry point for the field controller service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sisdrone/field-controller/internal/cloud"
	"github.com/sisdrone/field-controller/internal/engine"
)

// Config represents the configuration file structure
type Config struct {
	Agent struct {
		ID string `yaml:"id"`
	} `yaml:"agent"`

	Backend struct {
		BaseURL      string `yaml:"base_url"`
		WebSocketURL string `yaml:"ws_url"`
		APIKey       string `yaml:"api_key"`
		TenantID     string `yaml:"tenant_id"`
		Role         string `yaml:"role"`
	} `yaml:"backend"`

	Vision struct {
		APIURL string `yaml:"api_url"`
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"vision"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Timing struct {
		SyncSchedule    string `yaml:"sync_schedule"`
		RescoreSchedule string `yaml:"rescore_schedule"`
	} `yaml:"timing"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "sisdrone-agent",
		Short: "SisDrone Field Agent",
		Long:  "Field controller for the SisDrone pole inspection system. Maintains the local asset cache, scores pole health and syncs captured writes to the fleet backend.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the field agent service",
		RunE:  runAgent,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("SisDrone Field Agent v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/sisdrone/agent.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Secrets may come from the environment instead of the config file.
	if v := os.Getenv("SISDRONE_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}

	return &cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func runAgent(cmd *cobra.Command, args []string) error {
	// Optional .env next to the working directory; absence is not an error.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Agent.ID == "" {
		return fmt.Errorf("agent.id is required")
	}
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if cfg.Backend.APIKey == "" {
		return fmt.Errorf("backend.api_key is required (config or SISDRONE_API_KEY)")
	}

	log := newLogger(cfg.Logging.Level)

	engineCfg := engine.DefaultConfig()
	engineCfg.AgentID = cfg.Agent.ID
	engineCfg.BackendURL = cfg.Backend.BaseURL
	engineCfg.WebSocketURL = cfg.Backend.WebSocketURL
	engineCfg.Identity = cloud.Identity{
		APIKey:   cfg.Backend.APIKey,
		TenantID: cfg.Backend.TenantID,
		Role:     cfg.Backend.Role,
	}
	engineCfg.VisionAPIURL = cfg.Vision.APIURL
	engineCfg.VisionAPIKey = cfg.Vision.APIKey
	engineCfg.VisionModel = cfg.Vision.Model
	if cfg.Database.Path != "" {
		engineCfg.DatabasePath = cfg.Database.Path
	}
	if cfg.Timing.SyncSchedule != "" {
		engineCfg.SyncSchedule = cfg.Timing.SyncSchedule
	}
	if cfg.Timing.RescoreSchedule != "" {
		engineCfg.RescoreSchedule = cfg.Timing.RescoreSchedule
	}

	eng, err := engine.New(engineCfg, log)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Str("agent_id", cfg.Agent.ID).Msg("starting SisDrone field agent")
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := eng.Stop(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}

	log.Info().Msg("shutdown complete")
	return nil
}
