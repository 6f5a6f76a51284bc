// CLAUDE:SUMMARY CLI entry point for greffe — court case-status retrieval service over HTTP.
// Command greffe serves court case-status retrieval over HTTP.
//
// Usage:
//
//	greffe -config greffe.yaml             # run with config file
//	greffe                                 # run with defaults
//	greffe -listen :9090 -log-level debug  # override listen address
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/greffe/captcha"
	"github.com/hazyhaar/greffe/config"
	"github.com/hazyhaar/greffe/court"
	"github.com/hazyhaar/greffe/dbopen"
	"github.com/hazyhaar/greffe/docfetch"
	"github.com/hazyhaar/greffe/history"
	"github.com/hazyhaar/greffe/record"
	"github.com/hazyhaar/greffe/retrieval"
	"github.com/hazyhaar/greffe/session"
)

func main() {
	configPath := flag.String("config", "", "path to greffe.yaml config file")
	listen := flag.String("listen", os.Getenv("GREFFE_LISTEN"), "listen address (overrides config)")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *listen); err != nil {
		logger.Error("greffe: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, listen string) error {
	cfg, err := resolveConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	db, err := dbopen.Open(cfg.History.Path, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer db.Close()

	store := history.NewStore(db, history.WithLogger(logger))
	if err := store.Init(); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}

	mgr := session.NewManager(session.ManagerConfig{
		RemoteURL:       cfg.Browser.Remote,
		MemoryLimit:     cfg.Browser.MemoryLimit,
		RecycleInterval: cfg.Browser.RecycleInterval,
		Logger:          logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Close()

	drv := session.NewDriver(mgr, session.DriverConfig{
		SearchURL:     cfg.Portal.SearchURL,
		NavTimeout:    cfg.Portal.NavTimeout,
		SubmitTimeout: cfg.Portal.SubmitTimeout,
		Logger:        logger,
	})

	svc := retrieval.New(
		retrieval.DriverFunc(func(ctx context.Context) (retrieval.Session, error) {
			return drv.Open(ctx)
		}),
		captcha.NewResolver(captcha.WithLogger(logger)),
		record.New(record.WithLogger(logger)),
		store,
		retrieval.Config{
			CaptchaRetries:      cfg.Retrieval.CaptchaRetries,
			NavRetries:          cfg.Retrieval.NavRetries,
			NavBackoff:          cfg.Retrieval.NavBackoff,
			ConfidenceThreshold: cfg.Retrieval.ConfidenceThreshold,
			MaxSessions:         cfg.Retrieval.MaxSessions,
			Logger:              logger,
		},
	)

	docs, err := docfetch.New(cfg.Portal.DocumentBase, docfetch.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("document fetcher: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router(svc, store, docs),
		ReadHeaderTimeout: 10 * time.Second,
		// A retrieval burns through navigation and CAPTCHA retry budgets
		// before answering; the write timeout has to outlast the worst case.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("greffe: listening", "addr", cfg.Listen, "portal", cfg.Portal.SearchURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("greffe: server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("greffe: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("greffe: shutdown", "error", err)
	}
	logger.Info("greffe: stopped")
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func resolveConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Default(), nil
}

func router(svc *retrieval.Service, store *history.Store, docs *docfetch.Fetcher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Post("/api/search", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 4*1024)

		var req struct {
			CaseType     string `json:"case_type"`
			CaseNumber   int    `json:"case_number"`
			FilingYear   int    `json:"filing_year"`
			CaptchaToken string `json:"captcha_token"`
		}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
			if err := r.ParseForm(); err != nil {
				writeError(w, 400, err)
				return
			}
			req.CaseType = r.PostFormValue("case_type")
			req.CaseNumber, _ = strconv.Atoi(r.PostFormValue("case_number"))
			req.FilingYear, _ = strconv.Atoi(r.PostFormValue("filing_year"))
			req.CaptchaToken = r.PostFormValue("captcha_token")
		} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}

		q := court.CaseQuery{
			CaseType:   strings.TrimSpace(req.CaseType),
			CaseNumber: req.CaseNumber,
			FilingYear: req.FilingYear,
		}

		var opts []retrieval.SubmitOption
		if req.CaptchaToken != "" {
			opts = append(opts, retrieval.WithManualCode(req.CaptchaToken))
		}

		res, err := svc.Submit(r.Context(), q, opts...)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return // client went away
			}
			writeError(w, 500, err)
			return
		}
		writeJSON(w, statusFor(res.Outcome), res)
	})

	r.Get("/api/history", func(w http.ResponseWriter, r *http.Request) {
		entries, err := store.List(r.Context(), queryInt(r, "offset", 0), queryInt(r, "limit", 0))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if entries == nil {
			entries = []court.HistoryEntry{}
		}
		writeJSON(w, 200, entries)
	})

	r.Get("/api/documents", func(w http.ResponseWriter, r *http.Request) {
		doc, err := docs.Fetch(r.Context(), r.URL.Query().Get("ref"))
		switch {
		case err == nil:
		case errors.Is(err, docfetch.ErrBadRef):
			writeError(w, 400, err)
			return
		case errors.Is(err, docfetch.ErrNotFound):
			writeError(w, 404, err)
			return
		default:
			writeError(w, 502, err)
			return
		}

		ct := doc.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(path.Base(doc.URL)))
		w.Write(doc.Data)
	})

	return r
}

// statusFor maps a terminal retrieval outcome to an HTTP status. NotFound
// stays 200: the retrieval itself succeeded, the portal has no such case.
func statusFor(o court.Outcome) int {
	switch o {
	case court.OutcomeSuccess, court.OutcomeNotFound:
		return 200
	case court.OutcomeInvalidQuery:
		return 400
	case court.OutcomeCaptchaFailed:
		return 502
	case court.OutcomePortalError:
		return 502
	default:
		return 500
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
