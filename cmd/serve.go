package main

import (
	"encoding/json"
	"fmt"
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

	"github.com/harborview/clinical-copilot/internal/agent"
	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/monitoring"
	"github.com/harborview/clinical-copilot/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the copilot API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := buildRouter(env, cfg.Server.AllowedOrigins)

		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(env.Ledger, time.Duration(cfg.Monitoring.StuckCommitMinutes)*time.Minute)
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter assembles the API surface. Split out from the serve command so
// tests can exercise routes without binding a port.
func buildRouter(env *copilotEnv, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/intents", handleSubmitIntent(env))
		r.Get("/runs", handleListRuns(env))
		r.Get("/runs/{id}", handleGetRun(env))
		r.Post("/runs/{id}/resume", handleResumeRun(env))
		r.Post("/runs/{id}/reject", handleRejectRun(env))
		r.Post("/runs/{id}/confirm-diagnoses", handleConfirmDiagnoses(env))
		r.Post("/clarifications/{id}/answer", handleAnswerClarification(env))
		r.Post("/action-groups/{id}/commit", handleCommitGroup(env))
		r.Post("/actions/{id}/reject", handleRejectAction(env))
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func handleSubmitIntent(env *copilotEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req agent.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}

		result, err := env.Runner.SubmitIntent(r.Context(), req)
		if err != nil {
			zap.L().Error("submit intent failed", zap.Error(err))
			respondError(w, http.StatusBadRequest, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleListRuns(env *copilotEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.RunFilter{
			OrgID:  q.Get("org_id"),
			Status: model.RunStatus(q.Get("status")),
			Limit:  50,
		}
		if n, err := parseIntParam(q.Get("limit")); err == nil && n > 0 {
			filter.Limit = n
		}

		runs, err := env.Ledger.ListRuns(r.Context(), filter)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
	}
}

func handleGetRun(env *copilotEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		details, err := env.Runner.GetRunWithDetails(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, http.StatusNotFound, err)
			return
		}
		respondJSON(w, http.StatusOK, details)
	}
}

func handleResumeRun(env *copilotEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := env.Runner.ResumeAfterClarification(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			zap.L().Error("resume failed", zap.String("run_id", chi.URLParam(r, "id")), zap.Error(err))
			respondError(w, http.StatusConflict, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleRejectRun(env *copilotEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"user_id"`
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if err := env.Runner.RejectRun(r.Context(), chi.URLParam(r, "id"), req.UserID, req.Reason); err != nil {
			respondError(w, http.StatusConflict, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	}
}

func handleConfirmDiagnoses(env *copilotEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProviderID string `json:"provider_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		runID := chi.URLParam(r, "id")
		if err := env.Pipeline.ConfirmDiagnoses(r.Context(), runID, req.ProviderID); err != nil {
			respondError(w, http.StatusConflict, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": "committed"})
	}
}

func handleAnswerClarification(env *copilotEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Answer     string `json:"answer"`
			AnsweredBy string `json:"answered_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if req.Answer == "" {
			respondError(w, http.StatusBadRequest, eris.New("answer is required"))
			return
		}
		if err := env.Runner.AnswerClarification(r.Context(), chi.URLParam(r, "id"), req.Answer, req.AnsweredBy); err != nil {
			respondError(w, http.StatusConflict, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "answered"})
	}
}

func handleCommitGroup(env *copilotEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProviderID string `json:"provider_id"`
			OrgID      string `json:"org_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}

		result, err := env.Pipeline.CommitActionGroup(r.Context(), chi.URLParam(r, "id"), req.ProviderID, req.OrgID)
		if err != nil {
			zap.L().Error("commit failed", zap.String("group_id", chi.URLParam(r, "id")), zap.Error(err))
			respondError(w, http.StatusConflict, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleRejectAction(env *copilotEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"user_id"`
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if err := env.Pipeline.RejectAction(r.Context(), chi.URLParam(r, "id"), req.UserID, req.Reason); err != nil {
			respondError(w, http.StatusConflict, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	}
}

func parseIntParam(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
