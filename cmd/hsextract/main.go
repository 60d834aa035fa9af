package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hydroshare/hsextract/internal/config"
	"github.com/hydroshare/hsextract/internal/events"
	"github.com/hydroshare/hsextract/internal/log"
	"github.com/hydroshare/hsextract/internal/metadata"
	"github.com/hydroshare/hsextract/internal/pipeline"
	"github.com/hydroshare/hsextract/internal/state"
	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/internal/storage/fsstore"
	"github.com/hydroshare/hsextract/internal/storage/s3store"
	"github.com/hydroshare/hsextract/internal/web"
	"github.com/hydroshare/hsextract/pkg/types"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	appVersion = "dev" // set by ldflags during build

	cfgFile     string
	backend     string
	storageRoot string
	endpoint    string
	baseURL     string
	buckets     []string
	jobs        int
	addr        string
	stateFile   string
	logFile     string
	logJSON     bool
	deleted     bool
	fullReindex bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hsextract",
	Short: "Extract content-type-aware metadata from resource storage",
	Long: `hsextract classifies files stored in HydroShare resources into aggregations
(raster, NetCDF, time series, geographic feature, file-set, single file), extracts
their metadata and writes linked JSON-LD documents into the .hsjsonld tree.`,
	SilenceUsage: true,
}

var processCmd = &cobra.Command{
	Use:   "process <bucket/path>",
	Short: "Process one storage event",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex <bucket> <resource>",
	Short: "Rebuild every document of a resource",
	Args:  cobra.ExactArgs(2),
	RunE:  runReindex,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for bucket notifications and serve the HTTP API",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(appVersion)
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file path")
	flags.StringVar(&backend, "backend", "", "storage backend: fs, minio")
	flags.StringVar(&storageRoot, "storage-root", "", "root directory of the fs backend")
	flags.StringVar(&endpoint, "endpoint", "", "minio endpoint (host:port)")
	flags.StringVar(&baseURL, "base-url", "", "public URL prefix for contentUrl values")
	flags.IntVarP(&jobs, "jobs", "j", 0, "number of concurrent workers (0=auto)")
	flags.StringVar(&logFile, "log-file", "", "log file path")
	flags.BoolVar(&logJSON, "log-json", false, "output JSON logs")

	processCmd.Flags().BoolVar(&deleted, "delete", false, "treat the path as removed")

	reindexCmd.Flags().StringVar(&stateFile, "state-file", "", "reindex ledger path")
	reindexCmd.Flags().BoolVar(&fullReindex, "full", false, "ignore the ledger and process everything")

	serveCmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	serveCmd.Flags().StringSliceVar(&buckets, "bucket", nil, "bucket to listen on (repeatable)")
	serveCmd.Flags().StringVar(&stateFile, "state-file", "", "reindex ledger path")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if backend != "" {
		cfg.StorageBackend = backend
	}
	if storageRoot != "" {
		cfg.StorageRoot = storageRoot
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if len(buckets) > 0 {
		cfg.Buckets = buckets
	}
	if jobs > 0 {
		cfg.Jobs = jobs
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if stateFile != "" {
		cfg.StateFile = stateFile
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if logJSON {
		cfg.LogJSON = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds what every command needs.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	store    storage.Store
	s3       *s3store.Store
	pipeline *pipeline.Pipeline
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := log.New(cfg.LogFile, cfg.LogJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	switch cfg.StorageBackend {
	case config.BackendMinIO:
		a.s3, err = s3store.New(s3store.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Secure:    cfg.Secure,
			Region:    cfg.Region,
		})
		a.store = a.s3
	default:
		a.store, err = fsstore.NewOS(cfg.StorageRoot)
	}
	if err != nil {
		logger.Close()
		return nil, err
	}

	a.pipeline = pipeline.New(a.store, pipeline.Options{
		BaseURL: cfg.BaseURL,
		Stager:  metadata.NewStager(afero.NewOsFs(), cfg.StagingDir),
		Logger:  logger,
		Jobs:    cfg.Jobs,
	})
	return a, nil
}

func (a *app) Close() error {
	return a.logger.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runProcess(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ev := types.Event{Path: strings.TrimPrefix(args[0], "/"), Type: types.EventPut}
	if deleted {
		ev.Type = types.EventDelete
	}
	result, err := a.pipeline.Handle(ctx, ev)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s (%s)\n", result.Status, result.Event.Path, result.ContentType)
	for _, p := range result.Written {
		fmt.Printf("  wrote   %s\n", p)
	}
	for _, p := range result.Removed {
		fmt.Printf("  removed %s\n", p)
	}
	if result.ExtractError != "" {
		fmt.Printf("  extraction failed: %s\n", result.ExtractError)
	}
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var ledger *state.State
	if !fullReindex {
		if ledger, err = state.Load(a.cfg.StateFile); err != nil {
			return fmt.Errorf("failed to load state: %w", err)
		}
	}

	summary, err := a.pipeline.Reindex(ctx, storage.Resource{Bucket: args[0], ID: args[1]}, ledger)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d aggregations failed", summary.Failed)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	dedupe := events.NewDeduper(a.cfg.DedupeTTL)
	defer dedupe.Stop()

	server := web.NewServer(a.pipeline, a.store, web.Options{
		Dedupe:    dedupe,
		StateFile: a.cfg.StateFile,
		Logger:    a.logger,
	})
	server.SetVersion(appVersion)
	defer server.Close()

	if a.s3 != nil && len(a.cfg.Buckets) > 0 {
		queue := make(chan types.Event, a.cfg.QueueSize)
		listener := events.NewListener(a.s3.Client(), a.cfg.Buckets, dedupe, a.logger)
		go func() {
			if err := listener.Run(ctx, queue); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("Notification listener stopped", err)
			}
		}()
		go a.pipeline.Run(ctx, queue, server.Observe)
		a.logger.Info("Listening for notifications", zap.Strings("buckets", a.cfg.Buckets))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(a.cfg.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
