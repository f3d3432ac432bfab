// Command consentd dismisses cookie and privacy popups.
//
// Usage:
//
//	consentd -url https://example.com       # dismiss one page in headless Chrome
//	consentd -inspect https://example.com   # rank accept candidates of the raw HTML
//	consentd -inspect page.html             # same, from a file ("-" for stdin)
//	consentd -serve -config consentd.yaml   # HTTP + MCP service (-addr :8080)
//	consentd -mcp-stdio                     # MCP over stdin/stdout
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nats-io/nats.go"

	"github.com/hazyhaar/consentclick/channel"
	"github.com/hazyhaar/consentclick/consent"
	"github.com/hazyhaar/consentclick/internal/browser"
	"github.com/hazyhaar/consentclick/internal/config"
	"github.com/hazyhaar/consentclick/internal/fetcher"
	"github.com/hazyhaar/consentclick/service"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to consentd.yaml config file")
	pageURL := flag.String("url", "", "dismiss the consent popup of one URL and print the result")
	inspect := flag.String("inspect", "", "rank accept candidates of a URL, an HTML file, or - for stdin")
	serve := flag.Bool("serve", false, "run the HTTP/MCP service")
	addr := flag.String("addr", "", "listen address for -serve (overrides config)")
	mcpStdio := flag.Bool("mcp-stdio", false, "serve MCP over stdin/stdout")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "consentd: %v\n", err)
			os.Exit(1)
		}
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case *inspect != "":
		err = runInspect(ctx, logger, cfg, *inspect)
	case *pageURL != "":
		err = runDismiss(ctx, logger, cfg, *pageURL)
	case *serve, *mcpStdio:
		err = runServe(ctx, logger, cfg, *mcpStdio)
	default:
		fmt.Fprintln(os.Stderr, "usage: consentd -url <url> | -inspect <url|file|-> | -serve [-config <file>] | -mcp-stdio")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("consentd: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// openChannel builds the boundary to the controlling process. ctrl is
// non-nil for the in-process controller.
func openChannel(cfg *config.Config, logger *slog.Logger) (ch consent.Channel, ctrl *channel.Controller, closeFn func(), err error) {
	closeFn = func() {}
	switch cfg.Channel.Type {
	case "none":
		return channel.None{}, nil, closeFn, nil
	case "http":
		return channel.NewHTTP(cfg.Channel.URL, channel.WithHTTPLogger(logger)), nil, closeFn, nil
	case "nats":
		nc, err := nats.Connect(cfg.Channel.URL, nats.Name("consentd"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		return channel.NewNATS(nc, cfg.Channel.SubjectPrefix), nil, func() { _ = nc.Drain() }, nil
	default:
		ctrl = channel.NewController(*cfg.Channel.Enabled, logger)
		if cfg.Channel.URL == "" {
			return ctrl.Callback(), ctrl, closeFn, nil
		}
		// Also answer engines running in other processes.
		nc, err := nats.Connect(cfg.Channel.URL, nats.Name("consentd-controller"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		if _, err := ctrl.ServeNATS(nc, cfg.Channel.SubjectPrefix); err != nil {
			nc.Close()
			return nil, nil, nil, err
		}
		return ctrl.Callback(), ctrl, func() { _ = nc.Drain() }, nil
	}
}

func newManager(cfg *config.Config, logger *slog.Logger) *browser.Manager {
	return browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Bin:              cfg.Browser.Bin,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		DisableStealth:   !*cfg.Browser.Stealth,
		NavigateTimeout:  cfg.Browser.NavigateTimeout,
		Logger:           logger,
	})
}

func newService(cfg *config.Config, logger *slog.Logger, opts ...service.Option) (*service.Consent, func(), error) {
	engine, err := cfg.EngineConfig()
	if err != nil {
		return nil, nil, err
	}
	ch, ctrl, closeFn, err := openChannel(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	engine.Channel = ch
	opts = append([]service.Option{
		service.WithFetcher(fetcher.New(fetcher.WithLogger(logger))),
		service.WithPageTimeout(cfg.Consent.PageTimeout),
		service.WithLogger(logger),
	}, opts...)
	if ctrl != nil {
		opts = append(opts, service.WithController(ctrl))
	}
	return service.New(engine, opts...), closeFn, nil
}

func runDismiss(ctx context.Context, logger *slog.Logger, cfg *config.Config, pageURL string) error {
	mgr := newManager(cfg, logger)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	defer mgr.Close()

	svc, closeFn, err := newService(cfg, logger, service.WithBrowser(mgr))
	if err != nil {
		return err
	}
	defer closeFn()

	resp, err := svc.Dismiss(ctx, &service.DismissRequest{URL: pageURL})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runInspect(ctx context.Context, logger *slog.Logger, cfg *config.Config, src string) error {
	svc, closeFn, err := newService(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	req := &service.InspectRequest{}
	switch {
	case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
		req.URL = src
	case src == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		req.HTML = string(data)
	default:
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		req.HTML = string(data)
	}

	resp, err := svc.Inspect(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *config.Config, stdio bool) error {
	opts := []service.Option{service.WithBlockPrivate(!cfg.Server.AllowPrivate)}
	mgr := newManager(cfg, logger)
	if err := mgr.Start(ctx); err != nil {
		logger.Warn("consentd: browser unavailable, dismiss disabled", "error", err)
	} else {
		defer mgr.Close()
		opts = append(opts, service.WithBrowser(mgr))
	}

	svc, closeFn, err := newService(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer closeFn()

	srv := service.NewServer(service.ServerConfig{
		Addr:       cfg.Server.Addr,
		Version:    version,
		MCP:        *cfg.Server.MCP,
		MaxBody:    cfg.Server.MaxBody,
		RateLimits: cfg.Server.RateLimits,
		Logger:     logger,
	})
	srv.Register(svc)

	if stdio {
		logger.Info("consentd: MCP on stdio")
		err := srv.MCP().Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp stdio: %w", err)
		}
		return nil
	}
	return srv.ListenAndServe(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
