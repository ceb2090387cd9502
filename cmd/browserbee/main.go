package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Berry7028/browserbee/internal/activectx"
	"github.com/Berry7028/browserbee/internal/api"
	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/browser"
	"github.com/Berry7028/browserbee/internal/config"
	"github.com/Berry7028/browserbee/internal/controller"
	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/host/cdphost"
	"github.com/Berry7028/browserbee/internal/host/statichost"
	"github.com/Berry7028/browserbee/internal/journal"
	"github.com/Berry7028/browserbee/internal/netutil"
	"github.com/Berry7028/browserbee/internal/screenshot"
	"github.com/Berry7028/browserbee/internal/tabs"
	"github.com/Berry7028/browserbee/internal/tools"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.SlogLevel(), cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("browserbee config loaded",
		"backend", cfg.Backend,
		"cdp_url", cfg.CDPURL(),
		"launch_browser", cfg.LaunchBrowser,
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
		"screenshot_dir", cfg.ScreenshotDir,
		"journal_dir", cfg.JournalDir,
		"nav_timeout_ms", cfg.NavTimeoutMS,
		"request_timeout_ms", cfg.RequestTimeoutMS,
	)

	if err := run(cfg); err != nil {
		slog.Error("browserbee exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return fmt.Errorf("select bind address %s: %w", cfg.BindAddr, err)
	}

	h, closeHost, err := buildHost(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeHost()

	var jr *journal.Journal
	if cfg.JournalDir != "" {
		runID := uuid.NewString()[:8]
		jr = journal.Follow(h.Events(), journal.NewWriter(journal.Options{Dir: cfg.JournalDir, SubDir: "events", Name: runID}))
		slog.Info("journal enabled", "dir", cfg.JournalDir, "run_id", runID)
		defer func() {
			if err := jr.Close(); err != nil {
				slog.Debug("journal close failed", "error", err)
			}
		}()
	}

	reg := tabs.New(h, activectx.New(), tabs.Options{
		Bridge: bridge.Options{
			RequestTimeout:    cfg.RequestTimeout(),
			NavigationTimeout: cfg.NavTimeout(),
		},
	})
	reg.Start()
	defer reg.Close()

	store, err := screenshot.NewStore(cfg.ScreenshotDir)
	if err != nil {
		return err
	}
	pipeline := screenshot.New(screenshot.Options{MaxChars: cfg.ScreenshotMaxChars})
	kit := tools.New(tools.Deps{Host: h, Registry: reg, Pipeline: pipeline, Store: store}, 0, nil)
	reg.SetAgentForWindow(0, kit)

	openStartupTabs(ctx, h, cfg.StartupTabsPath)
	attachActiveTab(ctx, h, reg)

	svc := controller.NewService(h, reg, kit, store, cfg.Backend)
	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc)}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("browserbee listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("browserbee shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("browserbee http shutdown failed", "error", err)
	}
	reg.CleanupOnUnload(shutdownCtx)
	return nil
}

// buildHost returns the configured backend and a func releasing it.
func buildHost(ctx context.Context, cfg *config.Config) (host.Host, func(), error) {
	if cfg.Backend == config.BackendStatic {
		sh := statichost.New(statichost.Options{})
		slog.Info("static host ready")
		return sh, sh.Wait, nil
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
			Headless:   cfg.Headless,
			BinaryPath: cfg.BrowserPath,
		})
		if err := launcher.Launch(ctx); err != nil {
			return nil, nil, fmt.Errorf("launch browser: %w", err)
		}
	}
	stopBrowser := func() {
		if launcher != nil && launcher.Running() {
			launcher.Stop()
		}
	}

	ch := cdphost.New(cdphost.Options{HTTPBase: cfg.CDPURL()})
	if err := ch.Start(ctx); err != nil {
		stopBrowser()
		return nil, nil, fmt.Errorf("connect CDP host %s: %w", cfg.CDPURL(), err)
	}
	slog.Info("cdp host connected", "cdp_url", cfg.CDPURL())
	return ch, func() {
		ch.Close()
		stopBrowser()
	}, nil
}

func openStartupTabs(ctx context.Context, h host.Host, path string) {
	st, err := config.LoadStartupTabs(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("no startup tabs file", "path", path)
		} else {
			slog.Warn("startup tabs ignored", "path", path, "error", err)
		}
		return
	}
	active := st.ActiveIndex()
	for i, entry := range st.Tabs {
		info, err := h.CreateTab(ctx, entry.URL, i == active)
		if err != nil {
			slog.Warn("startup tab failed", "url", entry.URL, "error", err)
			continue
		}
		slog.Info("startup tab opened", "tab_id", info.ID, "url", entry.URL, "active", i == active)
	}
}

// attachActiveTab attaches the focused tab once its first load settles.
func attachActiveTab(ctx context.Context, h host.Host, reg *tabs.Registry) {
	list, err := h.QueryTabs(ctx)
	if err != nil {
		slog.Warn("initial tab query failed", "error", err)
		return
	}
	for _, info := range list {
		if !info.Active {
			continue
		}
		if info.Status == host.StatusLoading {
			waitLoaded(ctx, h, info.ID)
		}
		ref, err := reg.EnsureAttached(ctx, info.ID, info.WindowID)
		switch {
		case err != nil:
			slog.Warn("initial attach failed", "tab_id", info.ID, "error", err)
		case ref != nil:
			slog.Info("initial attach refused", "tab_id", info.ID, "reason", ref.Reason)
		default:
			reg.SetCurrentTabID(info.ID)
		}
		return
	}
	slog.Info("no active tab to attach")
}

const initialLoadWait = 15 * time.Second

func waitLoaded(ctx context.Context, h host.Host, id host.TabID) {
	done := make(chan struct{})
	var once sync.Once
	unsub := h.Events().Subscribe(host.EventTabUpdated, func(evt host.Event) {
		if evt.TabID == id && evt.Status == host.StatusComplete {
			once.Do(func() { close(done) })
		}
	})
	defer unsub()

	if info, err := h.GetTab(ctx, id); err == nil && info.Status != host.StatusLoading {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(initialLoadWait):
		slog.Warn("initial tab still loading, attaching anyway", "tab_id", id)
	}
}

func setupLogger(level slog.Level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
	return nil
}
