package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/citylens/citysync/internal/etl"
	"github.com/citylens/citysync/internal/source"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the run-trigger HTTP server",
	Long:  "Exposes the pipeline over HTTP: POST /run executes sources synchronously and returns the per-source summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		session, closer, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer closer()

		engine := etl.NewEngine(session, source.DefaultRegistry())
		runLog := etl.NewRunLog(session.Pool)

		// One active run at a time; concurrent pipeline runs are not
		// supported by the dedup snapshot model.
		var runMu sync.Mutex

		r := chi.NewRouter()
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/run", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Sources []string `json:"sources"`
			}
			if req.ContentLength > 0 {
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
					return
				}
			}

			if !runMu.TryLock() {
				writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already in progress"})
				return
			}
			defer runMu.Unlock()

			summary, runErr := engine.Run(req.Context(), body.Sources)
			if runErr != nil {
				zap.L().Error("triggered run failed", zap.Error(runErr))
				writeJSON(w, http.StatusInternalServerError, summary)
				return
			}
			writeJSON(w, http.StatusOK, summary)
		})

		r.Get("/cities", func(w http.ResponseWriter, req *http.Request) {
			cities, err := session.Store.Cities(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, cities)
		})

		r.Get("/airports", func(w http.ResponseWriter, req *http.Request) {
			airports, err := session.Store.Airports(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			associations, err := session.Store.CityAirports(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"airports":     airports,
				"associations": associations,
			})
		})

		r.Get("/scrapes", func(w http.ResponseWriter, req *http.Request) {
			scrapes, err := session.Store.Scrapes(req.Context(), 50)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, scrapes)
		})

		r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			runs, err := runLog.List(req.Context(), 20)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			// The signal context is already cancelled; drain in-flight
			// requests on a fresh deadline instead.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
