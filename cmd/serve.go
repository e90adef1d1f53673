package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lead pipeline server",
	Long:  "Serves the search API and the phone-reveal webhook, and runs the expiry sweep in the background.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sweepInterval := time.Duration(cfg.Reveal.SweepIntervalMins) * time.Minute
		go env.Correlator.RunSweeper(ctx, sweepInterval)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
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

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newRouter(env *leadEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		snap, err := env.Collector.Collect(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "collect metrics")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/search", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			CustomerID string `json:"customer_id"`
			Name       string `json:"name"`
			Title      string `json:"title"`
			Region     string `json:"region"`
			Count      int    `json:"count"`
			AgeMin     int    `json:"age_min"`
			AgeMax     int    `json:"age_max"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.CustomerID == "" || body.Count <= 0 {
			writeError(w, http.StatusBadRequest, "customer_id and a positive count are required")
			return
		}

		var ageFilter *model.AgeRange
		if body.AgeMin > 0 || body.AgeMax > 0 {
			ageFilter = &model.AgeRange{Min: body.AgeMin, Max: body.AgeMax}
		}

		q := model.Query{Name: body.Name, Title: body.Title, Region: body.Region}
		t, err := env.Service.Start(req.Context(), body.CustomerID, q, body.Count, ageFilter)
		if err != nil {
			zap.L().Error("search task failed",
				zap.String("customer", body.CustomerID),
				zap.Error(err),
			)
			if t != nil {
				// The failed task still exists; point the caller at its log.
				writeJSON(w, http.StatusBadGateway, t)
				return
			}
			writeError(w, http.StatusInternalServerError, "start search")
			return
		}
		writeJSON(w, http.StatusCreated, t)
	})

	r.Post("/webhook/phone", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}
		if err := env.Correlator.HandleCallback(req.Context(), body); err != nil {
			zap.L().Error("phone callback failed", zap.Error(err))
			writeError(w, http.StatusBadRequest, "invalid callback payload")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			filter := store.TaskFilter{
				Status:     model.TaskStatus(req.URL.Query().Get("status")),
				CustomerID: req.URL.Query().Get("customer_id"),
			}
			tasks, err := env.Store.ListTasks(req.Context(), filter)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "list tasks")
				return
			}
			writeJSON(w, http.StatusOK, tasks)
		})

		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			t, err := env.Store.GetTask(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			writeJSON(w, http.StatusOK, t)
		})

		r.Get("/{id}/results", func(w http.ResponseWriter, req *http.Request) {
			results, err := env.Store.ListResults(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "list results")
				return
			}
			writeJSON(w, http.StatusOK, results)
		})

		r.Get("/{id}/log", func(w http.ResponseWriter, req *http.Request) {
			entries, err := env.Store.ListLog(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "list log")
				return
			}
			writeJSON(w, http.StatusOK, entries)
		})

		r.Post("/{id}/stop", func(w http.ResponseWriter, req *http.Request) {
			if err := env.Service.Stop(req.Context(), chi.URLParam(req, "id")); err != nil {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
