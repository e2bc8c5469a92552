package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/souschef/souschef/internal/anthropic"
	"github.com/souschef/souschef/internal/api"
	"github.com/souschef/souschef/internal/config"
	"github.com/souschef/souschef/internal/extract"
	"github.com/souschef/souschef/internal/jobs"
	"github.com/souschef/souschef/internal/onboarding"
	"github.com/souschef/souschef/internal/profile"
	"github.com/souschef/souschef/internal/recipes"
	"github.com/souschef/souschef/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the souschef server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running souschef server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show souschef system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "souschef.pid")
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

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "souschef version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})))

	// Refuse to start twice. The health endpoint is the source of truth,
	// the PID file just names the culprit.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("souschef is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("souschef is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Wire the learning stack.
	llm := anthropic.NewClient(cfg.Anthropic.APIKey)
	profileMgr := profile.NewManager(store)
	sessionExtractor := extract.New(llm, profileMgr, cfg.Anthropic.ExtractModel)
	recipeSvc := recipes.NewService(store, sessionExtractor, profileMgr)
	importer := recipes.NewImporter(llm, recipeSvc, profileMgr, cfg.Anthropic.Model)
	metadata := recipes.NewMetadataExtractor(llm, store, cfg.Anthropic.ExtractModel)
	onboardingEngine := onboarding.NewEngine(llm, profileMgr, cfg.Anthropic.Model)

	handler := api.NewHandler(api.AppDeps{
		Profiles:   profileMgr,
		Recipes:    recipeSvc,
		Importer:   importer,
		Metadata:   metadata,
		Onboarding: onboardingEngine,
		LLM:        llm,
		Token:      cfg.Server.AuthToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start the metadata worker.
	worker := jobs.NewWorker(store, metadata, time.Duration(cfg.Worker.PollMS)*time.Millisecond)
	go worker.Run(ctx)

	// Start the MCP server (stdio transport).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Profiles: profileMgr,
		Recipes:  recipeSvc,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "souschef listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

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
		printError("souschef is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop souschef (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to souschef (PID %d)", pid)
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

	running := false
	resp, err := client.Get(serverURL + "/health")
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

	printStatus("Model", "%s", cfg.Anthropic.Model)
	printStatus("Extract model", "%s", cfg.Anthropic.ExtractModel)

	if running {
		if apic, err := newAPIClient(); err == nil {
			ctx := context.Background()
			if profResp, err := apic.get(ctx, "/profile"); err == nil {
				var prof struct {
					OnboardingComplete bool `json:"onboardingComplete"`
					SessionsCompleted  int  `json:"sessionsCompleted"`
				}
				if profResp.StatusCode == 404 {
					profResp.Body.Close()
					printStatus("Profile", "none yet")
				} else if decodeJSON(profResp, &prof) == nil {
					printStatus("Profile", "%d sessions, onboarding complete: %t",
						prof.SessionsCompleted, prof.OnboardingComplete)
				}
			}
			if recResp, err := apic.get(ctx, "/recipes?limit=200"); err == nil {
				var recs []json.RawMessage
				if decodeJSON(recResp, &recs) == nil {
					printStatus("Recipes", "%s", countLabel(len(recs), 200))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
