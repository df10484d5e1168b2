// Command pagesentry watches live pages for security risk signals and
// serves the aggregated alerts, page context, and security chat over
// HTTP and MCP.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pagesentry/pagesentry/browser"
	"github.com/pagesentry/pagesentry/config"
	"github.com/pagesentry/pagesentry/coordinator"
	"github.com/pagesentry/pagesentry/dbopen"
	"github.com/pagesentry/pagesentry/inference"
	"github.com/pagesentry/pagesentry/mcpquic"
	"github.com/pagesentry/pagesentry/observer"
	"github.com/pagesentry/pagesentry/present"
	"github.com/pagesentry/pagesentry/wire"
)

func main() {
	configPath := flag.String("config", env("PAGESENTRY_CONFIG", ""), "path to YAML configuration")
	flag.Parse()

	// Logging.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Configuration.
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}
	if len(cfg.Pages) == 0 {
		slog.Warn("no pages configured, only the chat and history surfaces will be live")
	}

	// Alert history DB.
	db, err := dbopen.Open(cfg.History.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(coordinator.Schema))
	if err != nil {
		slog.Error("history db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Buses.
	in := wire.NewBus("coordinator", cfg.Bus.Capacity, logger)
	toEngine := wire.NewBus("engine", cfg.Bus.Capacity, logger)
	toPresent := wire.NewBus("present", cfg.Bus.Capacity, logger)

	// Coordinator.
	coord := coordinator.New(coordinator.Config{
		In:          in,
		ToEngine:    toEngine,
		ToPresent:   toPresent,
		Store:       coordinator.NewStore(db, cfg.History.Capacity),
		ReinitGrace: cfg.Inference.ReinitGrace,
		Logger:      logger,
	})

	// Inference runner.
	client := inference.NewClient(inference.ClientConfig{
		BaseURL: cfg.Inference.BaseURL,
		Model:   cfg.Inference.Model,
		APIKey:  cfg.Inference.APIKey,
		Timeout: cfg.Inference.Timeout,
		Logger:  logger,
	})
	runner := inference.NewRunner(client, toEngine, in, logger)

	// Presentation server.
	srv := present.NewServer(present.Config{
		Coord:         coord,
		In:            in,
		FromCoord:     toPresent,
		BasicAuthUser: cfg.HTTP.BasicAuthUser,
		BasicAuthHash: cfg.HTTP.BasicAuthHash,
		Logger:        logger,
	})

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				slog.Error(name+" stopped", "error", err)
				cancel()
			}
		}()
	}
	run("coordinator", coord.Run)
	run("inference", runner.Run)
	run("present", srv.Run)

	// Browser and observers.
	if len(cfg.Pages) > 0 {
		mgr := browser.NewManager(browser.Config{
			RemoteURL:   cfg.Browser.Remote,
			Headful:     cfg.Browser.Stealth == "headful",
			UserDataDir: cfg.Browser.UserData,
			Logger:      logger,
		})
		if err := mgr.Start(); err != nil {
			slog.Error("browser", "error", err)
			os.Exit(1)
		}
		defer mgr.Close()

		for _, pc := range cfg.Pages {
			page, err := browser.OpenPage(ctx, mgr, pc.URL, pc.ID, logger)
			if err != nil {
				slog.Error("open page", "id", pc.ID, "url", pc.URL, "error", err)
				os.Exit(1)
			}
			defer page.Close()

			obs := observer.New(observer.Config{
				Page:           page,
				Out:            in,
				ScanThrottle:   cfg.Observer.ScanThrottle,
				MutationDelay:  cfg.Observer.MutationDelay,
				InlineWarnings: true,
				Logger:         logger,
			})
			run("observer "+pc.ID, obs.Run)
		}
	}

	// Kick off model initialization so the first chat does not pay for it.
	in.Send(wire.NewEnvelope(wire.InitModel{}))

	// Optional MCP over QUIC.
	if env("MCP_TRANSPORT", "") == "quic" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "pagesentry",
			Version: "1.0.0",
		}, nil)
		srv.RegisterMCP(mcpSrv)

		quicAddr := env("MCP_QUIC_ADDR", ":9444")
		certFile := env("TLS_CERT", "")
		keyFile := env("TLS_KEY", "")

		var tlsCfg *tls.Config
		if certFile != "" && keyFile != "" {
			tlsCfg, err = mcpquic.ServerTLSConfig(certFile, keyFile)
		} else {
			tlsCfg, err = mcpquic.SelfSignedTLSConfig()
		}
		if err != nil {
			slog.Error("mcp quic tls", "error", err)
		} else {
			ql, qErr := mcpquic.NewListener(quicAddr, tlsCfg, mcpSrv, logger)
			if qErr != nil {
				slog.Error("mcp quic listener", "error", qErr)
			} else {
				defer ql.Close()
				go func() {
					slog.Info("mcp quic starting", "addr", quicAddr)
					if sErr := ql.Serve(ctx); sErr != nil && ctx.Err() == nil {
						slog.Error("mcp quic", "error", sErr)
					}
				}()
			}
		}
	}

	// HTTP server. WriteTimeout stays zero so /api/events can stream.
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	wg.Wait()
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
