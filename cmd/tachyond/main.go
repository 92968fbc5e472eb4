// Command tachyond is the service process: it wires every provider, the
// coordinator, the search-job facade, and the download manager together and,
// optionally, exposes them over the loopback control API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"project-tachyon/internal/analytics"
	"project-tachyon/internal/bus"
	"project-tachyon/internal/controlapi"
	"project-tachyon/internal/coordinator"
	"project-tachyon/internal/download"
	"project-tachyon/internal/download/backend"
	"project-tachyon/internal/download/premium"
	"project-tachyon/internal/filesystem"
	"project-tachyon/internal/logger"
	"project-tachyon/internal/metrics"
	"project-tachyon/internal/network"
	"project-tachyon/internal/provider"
	"project-tachyon/internal/provider/cloudlibrary"
	"project-tachyon/internal/provider/httpscrape"
	"project-tachyon/internal/provider/indexeragg"
	"project-tachyon/internal/provider/opendirectory"
	"project-tachyon/internal/provider/torrentindex"
	"project-tachyon/internal/searchjob"
	"project-tachyon/internal/security"
	"project-tachyon/internal/session"
	"project-tachyon/internal/settings"
	"project-tachyon/internal/storage"
)

func main() {
	var (
		dataDir         = pflag.String("data-dir", defaultDataDir(), "directory for the database, logs, and settings")
		controlAPI      = pflag.Bool("control-api", true, "expose the loopback control API")
		controlPort     = pflag.Int("control-port", 8765, "control API port (127.0.0.1 only)")
		controlToken    = pflag.String("control-token", "", "X-Tachyon-Token required of control API callers; empty disables token auth")
		maxConcurrent   = pflag.Int("max-concurrent", 3, "maximum simultaneous downloads")
		externalCommand = pflag.String("external-downloader", "", "path to an external downloader binary ({url}/{output} placeholders); empty disables it")
	)
	pflag.Parse()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "cannot create data dir %s: %v\n", *dataDir, err)
		os.Exit(1)
	}

	log, err := logger.New(*dataDir, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg := runConfig{
		dataDir:         *dataDir,
		controlAPI:      *controlAPI,
		controlPort:     *controlPort,
		controlToken:    *controlToken,
		maxConcurrent:   *maxConcurrent,
		externalCommand: *externalCommand,
	}
	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "tachyon")
}

type runConfig struct {
	dataDir         string
	controlAPI      bool
	controlPort     int
	controlToken    string
	maxConcurrent   int
	externalCommand string
}

func run(cfg runConfig, log *slog.Logger) error {
	store, err := storage.Open(filepath.Join(cfg.dataDir, "tachyon.db"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	settingsProvider := settings.New(store)
	eventBus := bus.New(log)

	premiumClient := premium.New(settingsProvider)

	providers := buildProviders(settingsProvider, premiumClient)

	cache, err := coordinator.NewSearchCache(200, 2*time.Minute)
	if err != nil {
		return fmt.Errorf("new search cache: %w", err)
	}
	coord := coordinator.New(providers, eventBus, cache, coordinator.Config{})

	sjm := searchjob.NewManager(log, coord)
	defer sjm.Close()

	bandwidth := network.NewBandwidthManager()
	backends := map[string]backend.Backend{
		"native": backend.NewNative(bandwidth),
	}
	defaultBackend := "native"
	if cfg.externalCommand != "" {
		backends["external"] = backend.NewExternal(cfg.externalCommand, []string{"{url}", "-o", "{output}"}, func(msg string) {
			log.Warn(msg)
		})
	}

	allocator := filesystem.NewAllocator()
	organizer := filesystem.NewSmartOrganizer()
	scanner := security.NewScanner(log)
	stats := analytics.NewStatsManager(store, func() (string, error) {
		return settingsProvider.Get(session.Context{}, settings.KeyDownloadFolder)
	})

	dm, err := download.New(download.Config{
		Storage:        store,
		Bus:            eventBus,
		Logger:         log,
		Backends:       backends,
		DefaultBackend: defaultBackend,
		Resolver:       premiumClient,
		Allocator:      allocator,
		Scanner:        scanner,
		Organizer:      organizer,
		Stats:          stats,
		MaxConcurrent:  cfg.maxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("new download manager: %w", err)
	}

	metricsRegistry := metrics.New()
	detachMetrics := metricsRegistry.Attach(eventBus)
	defer detachMetrics()

	printStartupSummary(providers, dm.GetBackend())

	if cfg.controlAPI {
		audit := security.NewAuditLogger(log, cfg.dataDir)
		defer audit.Close()

		srv := controlapi.New(controlapi.Config{
			SearchJobs: sjm,
			Downloads:  dm,
			Metrics:    metricsRegistry,
			Audit:      audit,
			Logger:     log,
			Token:      cfg.controlToken,
		})
		if err := srv.Start(cfg.controlPort); err != nil {
			return err
		}
	}

	log.Info("tachyond ready", "data_dir", cfg.dataDir, "providers", len(providers))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutting down")
	return store.Checkpoint()
}

func buildProviders(sp *settings.Provider, premiumClient *premium.Client) []provider.Provider {
	sysCtx := session.Context{}

	templates, _ := sp.GetURLList(sysCtx, "search_engine_templates")
	seeds, _ := sp.GetURLList(sysCtx, "directory_seeds")
	extensions, _ := sp.GetURLList(sysCtx, "file_extensions")
	mirrors, _ := sp.GetURLList(sysCtx, "torrent_mirrors")

	scraper := httpscrape.New(httpscrape.Config{Templates: templates, Enabled: true}, nil)
	directory := opendirectory.New(opendirectory.Config{Seeds: seeds, FileExtensions: extensions})
	torrents := torrentindex.New(torrentindex.Config{CustomMirrors: mirrors}, nil)
	torrents.SetSpeedCache(network.NewSpeedTestCache(10 * time.Minute))
	indexer := indexeragg.New(indexeragg.Config{})
	library := cloudlibrary.New(cloudlibrary.Config{Enabled: true}, premiumClient)

	return []provider.Provider{scraper, directory, torrents, indexer, library}
}

// printStartupSummary renders a colorized provider table when stdout is a
// terminal, and plain text otherwise.
func printStartupSummary(providers []provider.Provider, backendName string) {
	color.NoColor = !isatty.IsTerminal(os.Stdout.Fd())
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	fmt.Println(bold("tachyond"))
	for _, p := range providers {
		fmt.Printf("  %s %s\n", green("source"), p.Name())
	}
	fmt.Printf("  %s %s\n", green("download backend"), backendName)
}
