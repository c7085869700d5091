package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labtopo/internal/annotations"
	"labtopo/internal/config"
	"labtopo/internal/domain"
	"labtopo/internal/fsio"
	"labtopo/internal/handler"
	"labtopo/internal/host"
	"labtopo/internal/hub"
	"labtopo/internal/status"
	"labtopo/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: search standard locations)")
	topoPath := flag.String("topology", "", "lab topology file (overrides config)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	mode := flag.String("mode", "", "serving mode: edit or view (overrides config)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	logger := log.Default()

	cfg, cfgFile, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfgFile != "" {
		log.Printf("Config loaded from %s", cfgFile)
	}
	if *topoPath != "" {
		cfg.Topology.Path = *topoPath
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *mode != "" {
		cfg.Topology.Mode = *mode
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var provider host.StatusProvider
	var prober *status.Prober
	if cfg.Status.Enabled {
		repo, err := status.NewRepository(cfg.Status.Database, cfg.Status.Freshness.Std())
		if err != nil {
			log.Fatalf("Failed to open status database: %v", err)
		}
		defer repo.Close()
		provider = repo
		log.Printf("Status database opened: %s", cfg.Status.Database)

		prober = status.NewProber(repo, nil,
			status.WithProbeInterval(cfg.Status.ProbeInterval.Std()),
			status.WithProbePorts(cfg.Status.ProbePorts),
			status.WithProbeLogger(logger),
		)
	}

	srv := host.New(fsio.NewOS(), cfg.Topology.Path, host.Options{
		Mode:         domain.Mode(cfg.Topology.Mode),
		HistoryLimit: cfg.History.Limit,
		MergeWindow:  cfg.History.MergeWindow.Std(),
		Status:       provider,
		Logger:       logger,
	})

	events := hub.New(logger)
	srv.SetNotifier(events.Publish)

	if prober != nil {
		prober.SetTargets(probeTargets(srv))
		go prober.Run(ctx)
	}

	if err := srv.NotifyInit(ctx); err != nil {
		log.Fatalf("Failed to load topology %s: %v", cfg.Topology.Path, err)
	}
	log.Printf("Serving %s in %s mode", cfg.Topology.Path, cfg.Topology.Mode)

	if !cfg.Watcher.Disabled {
		sidecar := annotations.FilePath(cfg.Topology.Path)
		w := watcher.New(func(path string) {
			changed, err := srv.ExternalChange(ctx)
			if err != nil {
				log.Printf("External change handling failed: %v", err)
				return
			}
			if changed {
				log.Printf("Resynchronized after external change to %s", path)
			}
		}, cfg.Topology.Path, sidecar).
			WithDebounce(cfg.Watcher.Debounce.Std()).
			WithLogger(logger)
		go func() {
			if err := w.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Watcher stopped: %v", err)
			}
		}()
	}

	api := handler.New(srv, events, logger)
	if cfg.Status.Enabled && cfg.Status.SSH.User != "" {
		api.SetStatsCollector(status.NewSSHCollector(
			cfg.Status.SSH.User,
			cfg.Status.SSH.Password,
			cfg.Status.SSH.KeyPath,
			cfg.Status.SSH.Timeout.Std(),
		))
	}

	mux := http.NewServeMux()
	api.Routes(mux)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Chain(mux, handler.Recover, handler.CORS, handler.Logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// probeTargets derives probe targets from the current snapshot so the
// sweep always reflects the live document.
func probeTargets(srv *host.Host) status.TargetSource {
	return func(ctx context.Context) ([]status.Target, error) {
		snap, err := srv.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		targets := make([]status.Target, 0, len(snap.Graph.Nodes))
		for _, node := range snap.Graph.Nodes {
			if node.NetworkNode || node.MgmtIPv4 == "" {
				continue
			}
			targets = append(targets, status.Target{
				Lab:  snap.Name,
				Node: node.ID,
				Addr: node.MgmtIPv4,
			})
		}
		return targets, nil
	}
}
