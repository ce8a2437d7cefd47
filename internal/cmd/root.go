// Package cmd provides the command-line interface for Skein.
// It handles command parsing, configuration loading, and crawl execution.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/skeincrawl/skein/internal/api"
	"github.com/skeincrawl/skein/internal/config"
	"github.com/skeincrawl/skein/internal/engine"
	"github.com/skeincrawl/skein/internal/extract"
	"github.com/skeincrawl/skein/internal/fetch"
	"github.com/skeincrawl/skein/internal/logging"
	"github.com/skeincrawl/skein/internal/render"
	"github.com/skeincrawl/skein/internal/storage"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "skein [URLs...]",
	Short: "A polite, adaptive web crawler",
	Long: `Skein crawls outward from one or more seed URLs within configurable
bounds (depth, page count, domain scope), pacing itself per host,
respecting robots.txt, deduplicating content, and persisting each
page's extracted data.`,
	Args: cobra.ArbitraryArgs,
	RunE: runCrawl,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under ctx, so an interrupt
// signal propagates into the engine as a shutdown broadcast.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./skein.yml)")

	rootCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Crawl bounds
	rootCmd.Flags().IntP("workers", "w", 4, "Number of concurrent workers")
	rootCmd.Flags().Int("max-depth", 3, "Maximum link depth from a seed")
	rootCmd.Flags().IntP("max-pages", "l", 1000, "Stop after N pages")
	rootCmd.Flags().Bool("follow-external-links", false, "Harvest links leaving the seed domains")
	rootCmd.Flags().Bool("include-subdomains", true, "Treat subdomains of a seed domain as internal")
	rootCmd.Flags().String("strategy", "hybrid", "Traversal strategy: bfs, dfs or hybrid")

	// Fetch behaviour
	rootCmd.Flags().String("render-mode", "auto", "Page rendering: static, javascript or auto")
	rootCmd.Flags().DurationP("page-timeout", "t", 30*time.Second, "Per-page fetch timeout")
	rootCmd.Flags().StringP("user-agent", "u", "Skein/1.0", "HTTP User-Agent header")
	rootCmd.Flags().Bool("rotate-user-agents", true, "Rotate among a pool of browser user agents")

	// Politeness
	rootCmd.Flags().Bool("ignore-robots", false, "Ignore robots.txt rules")
	rootCmd.Flags().Duration("robots-ttl", time.Hour, "Cache lifetime for robots.txt policies")
	rootCmd.Flags().Duration("min-delay", 500*time.Millisecond, "Per-host delay floor")
	rootCmd.Flags().Duration("max-delay", 5*time.Second, "Per-host delay ceiling")
	rootCmd.Flags().Float64("global-qps", 50, "Process-wide request rate ceiling (0 disables)")

	// Deduplication
	rootCmd.Flags().Bool("enable-dedup", true, "Skip storing exact and near-duplicate content")
	rootCmd.Flags().Float64("similarity-threshold", 0.85, "Near-duplicate similarity threshold")

	rootCmd.Flags().Int("max-retries", 3, "Retry budget for transient failures")

	// Authentication
	rootCmd.Flags().String("auth-type", "", "Authentication type: 'basic', 'bearer', or 'api-key'")
	rootCmd.Flags().String("auth-username", "", "Username for basic authentication")
	rootCmd.Flags().String("auth-password", "", "Password for basic authentication")
	rootCmd.Flags().String("auth-token", "", "Bearer token for authorization header")
	rootCmd.Flags().String("auth-header", "", "API key header name (e.g., X-API-Key)")
	rootCmd.Flags().String("auth-value", "", "API key header value")

	// HTTP headers
	rootCmd.Flags().StringSliceP("header", "H", []string{}, "Custom HTTP headers in 'Name: Value' format (use multiple times for multiple headers)")

	// Storage
	rootCmd.Flags().String("storage", "sqlite", "Storage backend: sqlite or postgres")
	rootCmd.Flags().StringP("database", "d", "./skein.db", "Path to SQLite database file")
	rootCmd.Flags().String("postgres-dsn", "", "Postgres connection string")
	rootCmd.Flags().StringP("output", "o", "", "Also write crawled pages as JSON lines to this file")

	// Observability
	rootCmd.Flags().String("admin-addr", "", "Listen address for the /stats and /metrics admin server (empty disables)")
	rootCmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.Flags().String("log-file", "", "Log file path (empty logs to stdout only)")

	bindFlags := []struct {
		viperKey string
		flagName string
	}{
		{"workers", "workers"},
		{"max_depth", "max-depth"},
		{"max_pages", "max-pages"},
		{"follow_external_links", "follow-external-links"},
		{"include_subdomains", "include-subdomains"},
		{"strategy", "strategy"},
		{"render_mode", "render-mode"},
		{"page_timeout", "page-timeout"},
		{"user_agent", "user-agent"},
		{"rotate_user_agents", "rotate-user-agents"},
		{"robots_ttl", "robots-ttl"},
		{"min_delay", "min-delay"},
		{"max_delay", "max-delay"},
		{"global_qps", "global-qps"},
		{"enable_dedup", "enable-dedup"},
		{"similarity_threshold", "similarity-threshold"},
		{"max_retries", "max-retries"},
		{"headers", "header"},
		{"auth.type", "auth-type"},
		{"auth.basic.username", "auth-username"},
		{"auth.basic.password", "auth-password"},
		{"auth.token", "auth-token"},
		{"auth.apikey.header", "auth-header"},
		{"auth.apikey.value", "auth-value"},
		{"storage_backend", "storage"},
		{"database_path", "database"},
		{"postgres_dsn", "postgres-dsn"},
		{"output_path", "output"},
		{"admin_addr", "admin-addr"},
	}

	for _, bind := range bindFlags {
		if err := viper.BindPFlag(bind.viperKey, rootCmd.Flags().Lookup(bind.flagName)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("skein")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SKEIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("Skein/%s", version)
	}
	return "Skein/dev"
}

func showCurrentConfig(cfg *config.CrawlConfig) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Printf("# Current Skein Configuration\n")
	fmt.Printf("# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("# Configuration file search paths: ./skein.yml\n")
	fmt.Printf("# Environment variables prefix: SKEIN_\n\n")

	fmt.Print(string(yamlData))

	fmt.Printf("\n# Configuration source priority:\n")
	fmt.Printf("# 1. Command-line arguments (highest priority)\n")
	fmt.Printf("# 2. Environment variables (SKEIN_ prefix)\n")
	fmt.Printf("# 3. Configuration file (skein.yml)\n")
	fmt.Printf("# 4. Default values (lowest priority)\n")

	return nil
}

func runCrawl(cmd *cobra.Command, args []string) error {
	showConfig, _ := cmd.Flags().GetBool("show-config")

	cfg := config.DefaultConfig()
	cfg.SeedURLs = args

	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// --ignore-robots inverts to the positive form the engine reads.
	if ignore, _ := cmd.Flags().GetBool("ignore-robots"); ignore {
		cfg.RespectRobots = false
	}

	cfg.LoadHeadersFromEnv()

	if !cmd.Flags().Changed("user-agent") && cfg.UserAgent == "Skein/1.0" {
		cfg.UserAgent = generateUserAgent()
	}

	if showConfig {
		return showCurrentConfig(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if len(cfg.SeedURLs) == 0 {
		return fmt.Errorf("%w\nUsage: skein [URLs...]", config.ErrNoSeedURLs)
	}

	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")
	logger, err := logging.NewLogger(logging.Config{
		Level:    logging.ParseLevel(logLevel),
		FilePath: logFile,
		Console:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)

	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	deps := engine.Deps{
		Fetcher:   fetch.New(cfg.PageTimeout, cfg.UserAgent, 10),
		Extractor: extract.New(),
		Store:     store,
		Logger:    logger,
	}

	if cfg.RenderMode != config.RenderStatic {
		renderer, err := render.New(render.Config{
			MaxParallel:       cfg.Workers,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.PageTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to start renderer: %w", err)
		}
		defer renderer.Close()
		deps.Renderer = renderer
	}

	eng, err := engine.New(cfg, cfg.BuildSessionContext(), deps)
	if err != nil {
		return fmt.Errorf("failed to initialize crawl engine: %w", err)
	}

	if cfg.AdminAddr != "" {
		adminSrv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           api.NewServer(statsAdapter{eng}, logger).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = adminSrv.Shutdown(shutdownCtx)
		}()
	}

	return eng.Run(cmd.Context(), cfg.SeedURLs)
}

// statsAdapter maps engine stats onto the admin API's snapshot shape.
type statsAdapter struct {
	eng *engine.Engine
}

func (a statsAdapter) Stats() api.Stats {
	s := a.eng.Stats()
	return api.Stats{
		RunID:      s.RunID,
		Added:      s.Added,
		Crawled:    s.Crawled,
		Failed:     s.Failed,
		Skipped:    s.Skipped,
		Duplicates: s.Duplicates,
		InFlight:   s.InFlight,
		HostsSeen:  s.HostsSeen,
		StartedAt:  s.StartedAt,
		Duration:   s.Duration,
	}
}

// openStorage selects and opens the configured backend, fanning out
// to a JSONL sink as well when output_path is set.
func openStorage(cfg *config.CrawlConfig) (storage.Storage, error) {
	var primary storage.Storage
	var err error
	switch cfg.StorageBackend {
	case "postgres":
		primary, err = storage.NewPostgresStorage(context.Background(), storage.PostgresConfig{DSN: cfg.PostgresDSN})
	default:
		dbDir := filepath.Dir(cfg.DatabasePath)
		if mkErr := os.MkdirAll(dbDir, 0750); mkErr != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", mkErr)
		}
		primary, err = storage.NewSQLiteStorage(cfg.DatabasePath)
	}
	if err != nil {
		return nil, err
	}

	if cfg.OutputPath == "" {
		return primary, nil
	}
	sink, err := storage.NewFileSink(storage.FileSinkConfig{Path: cfg.OutputPath})
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	return storage.NewMulti(primary, sink), nil
}
