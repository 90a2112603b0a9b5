package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pricetrack/internal/model"
	"github.com/sells-group/pricetrack/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for match and price queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initService(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(ctx, env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the API routes. Accepted research requests run detached
// on jobCtx, which outlives the individual request.
func newRouter(jobCtx context.Context, env *env) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/research", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			ProductID    string `json:"product_id"`
			ProductTitle string `json:"product_title"`
			PriceCents   *int64 `json:"price_cents"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.ProductID == "" || body.ProductTitle == "" {
			writeError(w, http.StatusBadRequest, "product_id and product_title are required")
			return
		}

		// Research takes minutes under rate limits; run it off-request.
		go func() {
			if _, err := env.Service.ResearchProduct(jobCtx, body.ProductID, body.ProductTitle, body.PriceCents); err != nil {
				zap.L().Error("api: research failed",
					zap.String("product_id", body.ProductID), zap.Error(err))
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "accepted",
			"product_id": body.ProductID,
		})
	})

	r.Get("/products/{productID}/matches", func(w http.ResponseWriter, req *http.Request) {
		matches, err := env.Store.GetMatchesByProduct(req.Context(), chi.URLParam(req, "productID"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		writeJSON(w, http.StatusOK, matches)
	})

	r.Get("/products/{productID}/prices", func(w http.ResponseWriter, req *http.Request) {
		prices, err := env.Store.LatestPriceByProduct(req.Context(), chi.URLParam(req, "productID"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		writeJSON(w, http.StatusOK, prices)
	})

	r.Get("/matches/{matchID}/prices", func(w http.ResponseWriter, req *http.Request) {
		matchID := chi.URLParam(req, "matchID")
		if _, err := env.Store.GetMatch(req.Context(), matchID); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "match not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		history, err := env.Store.PriceHistory(req.Context(), matchID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		writeJSON(w, http.StatusOK, history)
	})

	r.Post("/matches/override", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			ProductID    string `json:"product_id"`
			ProductTitle string `json:"product_title"`
			Competitor   string `json:"competitor_name"`
			URL          string `json:"competitor_url"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.ProductID == "" || body.ProductTitle == "" || body.URL == "" {
			writeError(w, http.StatusBadRequest, "product_id, product_title and competitor_url are required")
			return
		}
		competitor, err := model.ParseCompetitor(body.Competitor)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown competitor")
			return
		}

		m, err := env.Service.Override(req.Context(), body.ProductID, body.ProductTitle, competitor, body.URL)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "override failed")
			return
		}
		writeJSON(w, http.StatusOK, m)
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

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
