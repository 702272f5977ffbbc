// Command chatroom starts the chat server.
//
// It supports two modes:
//  1. "serve" (default) – runs the HTTP server exposing the REST API, the chat
//     WebSocket, Prometheus metrics and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server against an existing API, or spins up an
//     internal one if none is reachable
//
// Settings come from an optional YAML file, CHAT_* environment variables and
// flags, in increasing order of precedence. A .env file is loaded first.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/time/rate"

	"github.com/wricardo/mcp-training/chatroom/api"
	"github.com/wricardo/mcp-training/chatroom/chat/config"
	"github.com/wricardo/mcp-training/chatroom/chat/events"
	"github.com/wricardo/mcp-training/chatroom/chat/history"
	"github.com/wricardo/mcp-training/chatroom/chat/registry"
	"github.com/wricardo/mcp-training/chatroom/chat/room"
	"github.com/wricardo/mcp-training/chatroom/logging"
	"github.com/wricardo/mcp-training/chatroom/metrics"
	"github.com/wricardo/mcp-training/chatroom/transport/coderws"
	"github.com/wricardo/mcp-training/chatroom/transport/fiberws"
	"github.com/wricardo/mcp-training/chatroom/transport/mcp"
	"github.com/wricardo/mcp-training/chatroom/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Chatroom Server"
)

const defaultAPIURL = "http://localhost:8080"

func main() {
	envErr := godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", envErr)
	}

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "chatroom",
		Usage:   "Real-time WebSocket chat server",
		Version: Version,
		Flags:   serveFlags(),
		Action:  runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server with REST API, WebSocket and MCP endpoint (default)",
				Action: runServe,
			},
			{
				Name:    "mcp",
				Aliases: []string{"stdio-mcp"},
				Usage:   "Run an MCP stdio server backed by the REST API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "api-url",
						Usage:   "Base URL of a running chat server (default: probe " + defaultAPIURL + ", else start an internal one)",
						Sources: cli.EnvVars("CHAT_API_URL"),
					},
				},
				Action: runMCP,
			},
		},
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML config file (default: ./chatroom.yaml if present)",
			Sources: cli.EnvVars("CHAT_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "host",
			Usage: "HTTP server host",
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "HTTP server port",
		},
		&cli.StringFlag{
			Name:  "transport",
			Usage: "WebSocket implementation for /ws: gorilla or coder",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug logging",
		},
		&cli.BoolFlag{
			Name:    "ngrok",
			Usage:   "Expose the server through an ngrok tunnel",
			Sources: cli.EnvVars("NGROK_ENABLED"),
		},
	}
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overrides cfg with the flags that were set explicitly.
func applyFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("transport") {
		cfg.Chat.Transport = strings.ToLower(cmd.String("transport"))
	}
	if cmd.Bool("debug") {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}
	if cmd.Bool("ngrok") {
		cfg.Ngrok.Enabled = true
	}
}

// app holds the wired services of one server process.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	room     *room.Room
	sockets  *websocket.Handler
	closers  []func() error
}

// newApp wires storage, events, metrics and the room according to cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logging.OrNop(logger)}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)
	a.gatherer = promRegistry

	var store history.Store
	if cfg.Redis.URL != "" {
		client, err := history.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store = history.NewRedisStore(client, cfg.Redis.Key, cfg.Chat.HistorySize)
		a.logger.Info("using redis history", zap.String("key", cfg.Redis.Key))
	} else {
		store = history.NewMemoryStore(cfg.Chat.HistorySize)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, a.logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		a.closers = append(a.closers, kp.Close)
		publisher = kp
		a.logger.Info("publishing chat events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", kp.Topic()))
	}

	reg := registry.NewConnectionRegistry(
		registry.WithLogger(a.logger),
		registry.WithMetrics(m),
	)
	a.room = room.New(reg,
		room.WithLogger(a.logger),
		room.WithMetrics(m),
		room.WithHistory(store),
		room.WithPublisher(publisher),
		room.WithOutboxCapacity(cfg.Chat.OutboxCapacity),
		room.WithRateLimit(rate.Limit(cfg.Chat.RateLimit), cfg.Chat.RateBurst),
		room.WithPresenceNotices(cfg.Chat.PresenceNotices),
		room.WithWelcome(cfg.Chat.Welcome),
	)
	a.sockets = websocket.NewHandler(a.room, a.wsOptions(), a.logger)

	return a, nil
}

func (a *app) wsOptions() websocket.Options {
	return websocket.Options{
		WriteWait:      a.cfg.WebSocket.WriteWait,
		PongWait:       a.cfg.WebSocket.PongWait,
		PingPeriod:     a.cfg.WebSocket.PingPeriod,
		MaxMessageSize: a.cfg.WebSocket.MaxMessageSize,
	}
}

// router combines the REST API, the WebSocket endpoints, metrics and the /mcp
// endpoint. baseURL is where the MCP tools reach the REST API.
func (a *app) router(baseURL string) http.Handler {
	var chat http.Handler = a.sockets
	if a.cfg.Chat.Transport == config.TransportCoder {
		chat = coderws.NewHandler(a.room, a.wsOptions(), a.logger)
	}

	return api.NewServer(a.room, api.Handlers{
		WebSocket: chat,
		Echo:      websocket.EchoHandler(a.logger),
		Metrics:   metrics.Handler(a.gatherer),
		MCP:       mcp.NewClient(baseURL),
	}, a.logger)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}

// runServe starts the HTTP server, the optional fiber listener and the optional
// ngrok tunnel, and shuts them down when ctx is cancelled.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting",
		zap.String("app", AppName),
		zap.String("version", Version),
		zap.String("transport", cfg.Chat.Transport))

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	addr := cfg.Addr()
	handler := a.router("http://" + addr)

	// Hijacked WebSocket connections outlive Shutdown; they end when connCtx does.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return connCtx },
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()

		logger.Info("HTTP server listening",
			zap.String("addr", addr),
			zap.String("rest_api", "http://"+addr+"/api"),
			zap.String("websocket", "ws://"+addr+"/ws?name=<name>"),
			zap.String("mcp", "http://"+addr+"/mcp"))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	var fiberApp interface {
		ShutdownWithContext(context.Context) error
	}
	if cfg.Server.FiberAddr != "" {
		fapp := fiberws.NewApp(connCtx, a.sockets, logger)
		fiberApp = fapp

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("fiber listener started", zap.String("addr", cfg.Server.FiberAddr))
			if err := fapp.Listen(cfg.Server.FiberAddr); err != nil {
				logger.Error("fiber listener failed", zap.Error(err))
			}
		}()
	}

	var tunnelServer *http.Server
	if cfg.Ngrok.Enabled {
		tunnelServer = &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 15 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return connCtx },
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			runTunnel(ctx, cfg.Ngrok, tunnelServer, logger)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
	}

	cancelConns()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	if tunnelServer != nil {
		if err := tunnelServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ngrok server shutdown error", zap.Error(err))
		}
	}
	if fiberApp != nil {
		if err := fiberApp.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("fiber shutdown error", zap.Error(err))
		}
	}

	wg.Wait()
	logger.Info("server stopped")
	return err
}

// runTunnel serves srv through an ngrok endpoint until srv is shut down.
func runTunnel(ctx context.Context, cfg config.NgrokConfig, srv *http.Server, logger *zap.Logger) {
	if cfg.AuthToken == "" {
		logger.Warn("ngrok enabled but no auth token provided (set NGROK_AUTHTOKEN or ngrok.authtoken)")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if cfg.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
		logger.Info("using custom ngrok domain", zap.String("domain", cfg.Domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		logger.Error("failed to start ngrok tunnel", zap.Error(err))
		return
	}

	url := tun.URL()
	logger.Info("ngrok tunnel established",
		zap.String("url", url),
		zap.String("websocket", strings.Replace(url, "http", "ws", 1)+"/ws?name=<name>"))

	if err := srv.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("ngrok server error", zap.Error(err))
	}
	logger.Info("ngrok tunnel closed")
}

// runMCP runs an MCP stdio server. It uses --api-url when given, reuses a
// server at http://localhost:8080 when one answers, and otherwise starts an
// internal HTTP API on a random loopback port.
func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Stdout carries the MCP protocol; zap writes to stderr.
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	baseURL := cmd.String("api-url")
	if baseURL == "" {
		if apiAvailable(ctx, defaultAPIURL) {
			logger.Info("external API server found", zap.String("url", defaultAPIURL))
			baseURL = defaultAPIURL
		} else {
			url, shutdown, err := startInternalServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer shutdown()
			baseURL = url
		}
	}

	logger.Info("MCP stdio server ready", zap.String("api", baseURL))
	return server.ServeStdio(mcp.NewClient(baseURL).GetMCPServer())
}

func apiAvailable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// startInternalServer serves a fresh chat server on 127.0.0.1:0 and returns its
// base URL with a function that stops it.
func startInternalServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (string, func(), error) {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return "", nil, err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		a.close()
		return "", nil, fmt.Errorf("failed to get available port: %w", err)
	}

	baseURL := "http://" + listener.Addr().String()
	srv := &http.Server{
		Handler:           a.router(baseURL),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("internal HTTP server error", zap.Error(err))
		}
	}()
	logger.Info("internal HTTP server started", zap.String("url", baseURL))

	return baseURL, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		a.close()
	}, nil
}
