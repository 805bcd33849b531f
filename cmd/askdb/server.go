package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/perebor/askdb/internal/agent"
	"github.com/perebor/askdb/internal/api"
	"github.com/perebor/askdb/internal/cache"
	"github.com/perebor/askdb/internal/classify"
	"github.com/perebor/askdb/internal/config"
	"github.com/perebor/askdb/internal/explain"
	"github.com/perebor/askdb/internal/llm"
	"github.com/perebor/askdb/internal/mcpserver"
	"github.com/perebor/askdb/internal/profile"
	"github.com/perebor/askdb/internal/sample"
	"github.com/perebor/askdb/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the askdb server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running askdb server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show askdb system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "askdb.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "askdb version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure API token exists in platform secret store.
	apiToken, err := config.APIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("askdb is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("askdb is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the query pipeline.
	cacheTTL := cfg.Cache.TTLDuration()
	resultCache := cache.New(cache.Config{
		DefaultTTL: cacheTTL,
		MaxEntries: cfg.Cache.MaxEntries,
	})
	go resultCache.Run(ctx, cfg.Cache.SweepDuration())

	classifier := classify.New(classify.Rules{
		FastVerbs:          cfg.Classifier.FastVerbList(),
		AnalyticalKeywords: cfg.Classifier.AnalyticalKeywordList(),
	})

	// The sampling window matches the cache TTL so repeated queries inside
	// one window read identical samples.
	planner := sample.NewPlanner(sample.Thresholds{
		SmallMax:  int64(cfg.Sampling.SmallMax),
		MediumMax: int64(cfg.Sampling.MediumMax),
		MediumCap: cfg.Sampling.MediumCap,
		LargeCap:  cfg.Sampling.LargeCap,
	}, cacheTTL)

	var chat *llm.Client
	if cfg.LLM.BaseURL != "" {
		chat = llm.NewClientWithBaseURL(cfg.LLM.AnthropicAPIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
	} else {
		chat = llm.NewClient(cfg.LLM.AnthropicAPIKey, cfg.LLM.Model)
	}
	slog.Info("LLM client configured", "model", chat.Model())

	profileMgr := profile.NewManager(store)

	var explainer *explain.Engine
	if cfg.Explain.Enabled {
		explainer = explain.NewEngine(chat, cfg.Explain.TimeoutDuration())
	}

	orch := agent.New(
		agent.Config{CacheTTL: cacheTTL, ExplainEnabled: cfg.Explain.Enabled},
		resultCache,
		classifier,
		planner,
		chat,
		store,
		store,
		profileMgr,
		explainer,
	)

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Agent:    orch,
		Store:    store,
		Profiles: profileMgr,
		Token:    apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := mcpserver.New(mcpserver.Deps{
		Agent:  orch,
		Schema: store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "askdb listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("askdb is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop askdb (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to askdb (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.LLM.Model)
	printStatus("Cache TTL", "%s", cfg.Cache.TTLDuration())
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if running {
		if apiToken, tokenErr := config.APIToken(); tokenErr == nil {
			req, _ := http.NewRequest("GET", serverURL+"/stats", nil)
			req.Header.Set("Authorization", "Bearer "+apiToken)
			statsResp, err := client.Do(req)
			if err == nil {
				var snap agent.Snapshot
				if decodeJSON(statsResp, &snap) == nil {
					printStatus("Queries", "%d total, %.0f%% cache hits", snap.TotalQueries, snap.CacheHitRate*100)
					printStatus("Cache", "%d entries", snap.Cache.Entries)
				}
			}
		}
	}

	return nil
}
