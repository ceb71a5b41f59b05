package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tab_agent/internal/api"
	"github.com/dgnsrekt/tab_agent/internal/browser"
	"github.com/dgnsrekt/tab_agent/internal/chat"
	"github.com/dgnsrekt/tab_agent/internal/config"
	"github.com/dgnsrekt/tab_agent/internal/content"
	"github.com/dgnsrekt/tab_agent/internal/genai"
	"github.com/dgnsrekt/tab_agent/internal/kvstore"
	"github.com/dgnsrekt/tab_agent/internal/netutil"
	"github.com/dgnsrekt/tab_agent/internal/notify"
	"github.com/dgnsrekt/tab_agent/internal/orchestrator"
	"github.com/dgnsrekt/tab_agent/internal/pins"
	"github.com/dgnsrekt/tab_agent/internal/tabhost"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("tab_agent config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"data_dir", cfg.DataDir,
		"load_timeout_ms", cfg.LoadTimeoutMS,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"genai_model", cfg.GenAIModel,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.BindCandidates, cfg.BindAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
			Binary:     cfg.BrowserBinary,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	host := tabhost.NewCDPHost(cfg.CDPURL(), time.Duration(cfg.EvalTimeoutMS)*time.Millisecond)
	if err := host.Connect(context.Background()); err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := host.Close(); err != nil {
			slog.Debug("tab host close failed", "error", err)
		}
	}()

	kv, err := kvstore.NewFileStore(cfg.DataDir)
	if err != nil {
		slog.Error("failed to create data store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	resolver := content.NewResolver(host, cfg.LoadTimeoutMS)
	pinStore := pins.NewStore(kv, resolver)
	history := chat.NewHistory(kv)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	if err := pinStore.Load(startCtx, host); err != nil {
		slog.Warn("failed to restore pinned tabs", "error", err)
	}
	if err := history.Load(startCtx); err != nil {
		slog.Warn("failed to restore chat history", "error", err)
	}
	cancelStart()

	gen := genai.NewHTTPClient(cfg.GenAIBaseURL, cfg.GenAIAPIKey)
	svc := orchestrator.NewService(host, pinStore, history, kv, gen, resolver, cfg.GenAIModel)
	h := api.NewServer(svc)

	srv := &http.Server{Addr: bindAddr, Handler: h}

	notifier := notify.New(cfg.NtfyEndpoint, nil)
	if err := notifier.Send(context.Background(), "tab agent started on "+bindAddr); err != nil {
		slog.Debug("start notification failed", "error", err)
	}

	go func() {
		slog.Info("tab_agent listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("tab_agent server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	svc.StopGeneration()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("tab_agent shutdown failed", "error", err)
	}
	if err := notifier.Send(ctx, "tab agent stopped"); err != nil {
		slog.Debug("stop notification failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
