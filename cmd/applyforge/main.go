package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"

	"github.com/hupe1980/applyforge"
	"github.com/hupe1980/applyforge/config"
	"github.com/hupe1980/applyforge/content"
	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/fetch"
	"github.com/hupe1980/applyforge/intake"
	"github.com/hupe1980/applyforge/janitor"
	"github.com/hupe1980/applyforge/logging"
	"github.com/hupe1980/applyforge/metrics"
	"github.com/hupe1980/applyforge/model"
	"github.com/hupe1980/applyforge/model/anthropic"
	"github.com/hupe1980/applyforge/model/openai"
	"github.com/hupe1980/applyforge/progress"
	"github.com/hupe1980/applyforge/server"
	"github.com/hupe1980/applyforge/session"
	"github.com/hupe1980/applyforge/session/sqlite"
	"github.com/hupe1980/applyforge/typeset"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"applyforge.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct {
		Addr string `help:"Listen address, overrides the configured one"`
	} `cmd:"" help:"Start the HTTP daemon"`

	Generate struct {
		Input   string `short:"i" required:"" help:"Job posting text, a URL, or @file to read from disk"`
		Owner   string `help:"Owner the session belongs to" default:"local"`
		Session string `help:"Regenerate into an existing session"`
		Profile string `help:"Path to a candidate profile file"`
		NoCover bool   `help:"Skip the cover letter"`
		NoEmail bool   `help:"Skip the cold email"`
		Output  string `short:"o" help:"Directory for generated documents" default:"."`
	} `cmd:"" help:"Generate application documents for one job posting"`

	Approve struct {
		Session string `required:"" help:"Session to lock"`
	} `cmd:"" help:"Approve a session, locking it against further regeneration"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Write a starter configuration file"`
}

func main() {
	kctx := kong.Parse(&CLI)

	setupLogging("info", "text", CLI.Verbose)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	if kctx.Command() == "init" {
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Configuration written", "path", CLI.Config)
		return
	}

	cfg, err := loadConfig(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log.Level, cfg.Log.Format, CLI.Verbose)

	switch kctx.Command() {
	case "serve":
		if err := runServe(cfg); err != nil {
			slog.Error("Serve failed", "error", err)
			os.Exit(1)
		}
	case "generate":
		if err := runGenerate(cfg); err != nil {
			slog.Error("Generate failed", "error", err)
			os.Exit(1)
		}
	case "approve":
		if err := runApprove(cfg); err != nil {
			slog.Error("Approve failed", "error", err)
			os.Exit(1)
		}
	}
}

// loadConfig falls back to defaults when the default config file is absent,
// so `applyforge generate` works out of the box. An explicitly named file
// must exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "applyforge.yaml" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func setupLogging(level, format string, verbose bool) {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if verbose {
		logLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func buildModel(cfg *config.Config) (model.Model, error) {
	switch cfg.Model.Provider {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Model.Name)
			}
			o.APIKey = cfg.Model.APIKey
		}), nil
	case "openai":
		var clientOpts []openaioption.RequestOption
		if cfg.Model.APIKey != "" {
			clientOpts = append(clientOpts, openaioption.WithAPIKey(cfg.Model.APIKey))
		}
		client := openaisdk.NewClient(clientOpts...)
		return openai.NewModelFromClient(&client, func(o *openai.Options) {
			if cfg.Model.Name != "" {
				o.Model = cfg.Model.Name
			}
		}), nil
	case "mock":
		return model.NewMockModel("mock", "mock"), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

// buildStores returns the configured session and content stores plus a
// cleanup function closing whatever holds resources.
func buildStores(cfg *config.Config) (core.StaleSessionStore, core.ContentStore, func(), error) {
	var (
		sessions core.StaleSessionStore
		cleanup  = func() {}
	)

	switch cfg.Store.Backend {
	case "sqlite":
		store, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open session store: %w", err)
		}
		sessions = store
		cleanup = func() {
			if err := store.Close(); err != nil {
				slog.Error("Failed to close session store", "error", err)
			}
		}
	default:
		sessions = session.NewInMemoryStore()
	}

	var contents core.ContentStore
	switch cfg.Content.Backend {
	case "fs":
		store, err := content.NewFSStore(cfg.Content.Root)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("open content store: %w", err)
		}
		contents = store
	default:
		contents = content.NewInMemoryStore()
	}

	return sessions, contents, cleanup, nil
}

func buildApp(cfg *config.Config, m model.Model, sessions core.SessionStore, contents core.ContentStore, sink func(core.ProgressEvent), rec metrics.Recorder) *applyforge.App {
	forgeLogger := logging.NewSlogAdapter(slog.Default())

	jobs := intake.NewResolver(model.WithRetry(m, func(o *model.RetryOptions) {
		o.Policy = cfg.Retry.Policy()
		o.Logger = forgeLogger
	}), func(o *intake.Options) {
		o.Links = fetch.NewHTTPResolver(func(o *fetch.Options) {
			o.Timeout = cfg.Fetch.TimeoutDuration()
			o.MaxRedirects = cfg.Fetch.MaxRedirects
			o.MaxBodyBytes = cfg.Fetch.MaxBytes
			o.AllowPrivateHosts = cfg.Fetch.AllowPrivate
			o.Logger = forgeLogger
		})
		o.Logger = forgeLogger
	})

	return applyforge.New(m, func(o *applyforge.Options) {
		o.MaxAttempts = cfg.Generate.MaxAttempts
		o.TargetPages = cfg.Generate.TargetPages
		o.MaxModelCalls = cfg.Generate.MaxModelCalls
		o.Hints = cfg.Generate.Hints
		o.ScratchRoot = cfg.Generate.ScratchRoot
		o.RetryPolicy = cfg.Retry.Policy()
		o.SessionStore = sessions
		o.ContentStore = contents
		o.Jobs = jobs
		o.Compiler = typeset.NewExecCompiler(func(o *typeset.ExecOptions) {
			o.Binary = cfg.Compiler.Bin
			o.Timeout = cfg.Compiler.TimeoutDuration()
			o.Logger = forgeLogger
		})
		if sink != nil {
			o.EventSink = sink
		}
		if rec != nil {
			o.Metrics = rec
		}
		o.Logger = forgeLogger
	})
}

func runServe(cfg *config.Config) error {
	if CLI.Serve.Addr != "" {
		cfg.Server.Addr = CLI.Serve.Addr
	}

	m, err := buildModel(cfg)
	if err != nil {
		return err
	}

	sessions, contents, cleanup, err := buildStores(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	broker := progress.NewBroker()

	var rec *metrics.PrometheusRecorder
	if cfg.Metrics.Enabled {
		rec = metrics.NewPrometheusRecorder(nil)
	}

	var recorder metrics.Recorder
	if rec != nil {
		recorder = rec
	}
	app := buildApp(cfg, m, sessions, contents, broker.Publish, recorder)

	srv := server.New(app, broker, func(o *server.Options) {
		o.Metrics = rec
		o.Logger = logging.NewSlogAdapter(slog.Default())
	})

	var jan *janitor.Janitor
	if cfg.Janitor.Enabled {
		jan, err = janitor.New(sessions, func(o *janitor.Options) {
			o.Interval = cfg.Janitor.IntervalDuration()
			o.StaleAfter = cfg.Janitor.StaleAfterDuration()
			o.RunRetention = cfg.Janitor.RunRetentionDuration()
			o.Broker = broker
			o.ScratchRoot = cfg.Generate.ScratchRoot
			o.Logger = logging.NewSlogAdapter(slog.Default())
		})
		if err != nil {
			return fmt.Errorf("start janitor: %w", err)
		}
		jan.Start()
		slog.Info("Janitor started", "interval", cfg.Janitor.IntervalDuration())
	}

	// SSE streams need an unbounded write window; the keepalive ticker
	// covers idle detection instead.
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", httpSrv.Addr, "provider", cfg.Model.Provider)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if jan != nil {
		jan.Stop()
	}

	slog.Info("Server stopped")
	return nil
}

func runGenerate(cfg *config.Config) error {
	m, err := buildModel(cfg)
	if err != nil {
		return err
	}

	sessions, contents, cleanup, err := buildStores(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	app := buildApp(cfg, m, sessions, contents, nil, nil)

	raw, err := resolveInput(CLI.Generate.Input)
	if err != nil {
		return err
	}

	req := core.NewGenerationRequest(CLI.Generate.Owner, raw)
	req.SessionID = CLI.Generate.Session
	req.Preferences.CoverLetter = !CLI.Generate.NoCover
	req.Preferences.ColdEmail = !CLI.Generate.NoEmail

	if CLI.Generate.Profile != "" {
		profile, err := os.ReadFile(CLI.Generate.Profile)
		if err != nil {
			return fmt.Errorf("read profile: %w", err)
		}
		req.Profile = string(profile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID, events, errs, err := app.StartGeneration(ctx, req)
	if err != nil {
		return err
	}
	slog.Info("Run started", "run_id", runID)

	var result *core.GenerationResult
	done := ctx.Done()
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				break
			}
			reportEvent(ev)
			if ev.Kind == core.EventComplete {
				result = ev.Result
			}
		case <-done:
			slog.Warn("Interrupt received, canceling run", "run_id", runID)
			if err := app.Cancel(runID); err != nil {
				slog.Warn("Cancel failed", "error", err)
			}
			done = nil
		}
	}
	if err := <-errs; err != nil {
		return err
	}
	if result == nil {
		return errors.New("run produced no result")
	}

	return writeDocuments(app, result.SessionID, CLI.Generate.Output)
}

func runApprove(cfg *config.Config) error {
	sessions, _, cleanup, err := buildStores(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := sessions.Approve(context.Background(), CLI.Approve.Session)
	if err != nil {
		return err
	}

	slog.Info("Session approved", "session_id", sess.ID, "state", sess.State, "locked", sess.Locked)
	return nil
}

// resolveInput turns an @file reference into its contents; URLs and literal
// text pass through for the intake resolver to handle.
func resolveInput(input string) (string, error) {
	if strings.HasPrefix(input, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(input, "@"))
		if err != nil {
			return "", fmt.Errorf("read input file: %w", err)
		}
		return string(data), nil
	}
	return input, nil
}

func reportEvent(ev core.ProgressEvent) {
	switch ev.Kind {
	case core.EventLog:
		switch ev.Severity {
		case core.SeverityWarn:
			slog.Warn(ev.Message)
		case core.SeverityError:
			slog.Error(ev.Message)
		default:
			slog.Info(ev.Message)
		}
	case core.EventSession:
		slog.Info("Session ready", "session_id", ev.SessionID)
	case core.EventError:
		if ev.Terminal {
			slog.Error("Run failed", "error", ev.Message)
		} else {
			slog.Warn(ev.Message)
		}
	case core.EventComplete:
		if ev.Result != nil {
			slog.Info("Run complete",
				"session_id", ev.Result.SessionID,
				"success", ev.Result.Primary.Success,
				"attempts", ev.Result.Primary.Attempts,
				"partial_failure", ev.Result.PartialFailure)
		}
	}
}

// writeDocuments copies every stored document of the session into outDir.
func writeDocuments(app *applyforge.App, sessionID, outDir string) error {
	ctx := context.Background()

	sess, err := app.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	kinds := []core.DocumentKind{core.DocumentResume, core.DocumentCoverLetter, core.DocumentColdEmail}
	for _, kind := range kinds {
		ref, ok := sess.Documents[kind]
		if !ok {
			continue
		}

		data, err := app.Contents().Read(ctx, ref.SourcePath)
		if err != nil {
			return fmt.Errorf("read %s: %w", kind, err)
		}
		target := filepath.Join(outDir, core.SourceFilename(kind))
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", kind, err)
		}
		slog.Info("Document written", "kind", kind, "path", target)

		if ref.ArtifactPath == "" {
			continue
		}
		artifact, err := app.Contents().Read(ctx, ref.ArtifactPath)
		if err != nil {
			return fmt.Errorf("read %s artifact: %w", kind, err)
		}
		target = filepath.Join(outDir, core.ArtifactFilename(kind))
		if err := os.WriteFile(target, artifact, 0o644); err != nil {
			return fmt.Errorf("write %s artifact: %w", kind, err)
		}
		slog.Info("Artifact written", "kind", kind, "path", target, "pages", ref.PageCount, "degraded", ref.Degraded)
	}

	return nil
}
