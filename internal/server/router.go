package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"shareq/internal/config"
	"shareq/internal/log"
	"shareq/internal/metrics"
	"shareq/internal/queue"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deliverer is the slice of the delivery client the HTTP surface needs for
// manual retry and explicit flush.
type Deliverer interface {
	Deliver(ctx context.Context, item queue.Item) (bool, error)
}

type shareInput struct {
	URL    string `json:"url"`
	TripID string `json:"trip_id,omitempty"`
	Note   string `json:"note,omitempty"`
	Source string `json:"source,omitempty"`
}

func SetupRouter(r *chi.Mux, cfg *config.Config, q *queue.Queue, deliverer Deliverer, m *metrics.ShareMetrics, gatherer prometheus.Gatherer, logger *log.Logger) {
	r.Use(httprate.Limit(100, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(authMiddleware(cfg.JWTSecret, logger))
		} else {
			logger.Warn("SHAREQ_JWT_SECRET not set, share endpoints are unauthenticated")
		}

		r.Post("/shares", func(w http.ResponseWriter, r *http.Request) {
			var in shareInput
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				logger.Error("Failed to decode share request", zap.Error(err))
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			u, err := url.Parse(in.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				logger.Error("Rejected share with invalid URL", zap.String("url", in.URL))
				http.Error(w, "Invalid share URL", http.StatusBadRequest)
				return
			}
			q.Enqueue(r.Context(), in.URL, queue.Payload{
				TripID: in.TripID,
				Note:   in.Note,
				Source: in.Source,
			})
			m.EnqueuedTotal.Inc()
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
		})

		r.Get("/shares", func(w http.ResponseWriter, r *http.Request) {
			items := q.ListPending(r.Context())
			if items == nil {
				items = []queue.Item{}
			}
			if err := json.NewEncoder(w).Encode(items); err != nil {
				logger.Error("Failed to encode pending shares", zap.Error(err))
				http.Error(w, "Failed to encode response", http.StatusInternalServerError)
			}
		})

		r.Get("/shares/{id}", func(w http.ResponseWriter, r *http.Request) {
			item, ok := q.Lookup(r.Context(), chi.URLParam(r, "id"))
			if !ok {
				http.Error(w, "Share not found", http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(item)
		})

		r.Patch("/shares/{id}", func(w http.ResponseWriter, r *http.Request) {
			var patch queue.Patch
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
				logger.Error("Failed to decode share patch", zap.Error(err))
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			q.Update(r.Context(), chi.URLParam(r, "id"), patch)
			w.WriteHeader(http.StatusNoContent)
		})

		r.Delete("/shares/{id}", func(w http.ResponseWriter, r *http.Request) {
			if !q.Remove(r.Context(), chi.URLParam(r, "id")) {
				http.Error(w, "Share not found", http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Delete("/shares", func(w http.ResponseWriter, r *http.Request) {
			q.ClearAll(r.Context())
			logger.Info("Cleared share queue")
			w.WriteHeader(http.StatusNoContent)
		})

		r.Post("/shares/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			start := time.Now()
			outcome, abandoned := q.RetryOne(r.Context(), id, deliverer.Deliver)
			switch outcome {
			case queue.RetryDelivered:
				m.DeliveredTotal.Inc()
			case queue.RetryFailed:
				m.FailedTotal.Inc()
				if abandoned {
					m.AbandonedTotal.Inc()
				}
			case queue.RetryNotFound:
				http.Error(w, "Share not found", http.StatusNotFound)
				return
			}
			logger.Info("Manual retry", zap.String("id", id),
				zap.String("outcome", outcome.String()), zap.Duration("duration", time.Since(start)))
			json.NewEncoder(w).Encode(map[string]string{"outcome": outcome.String()})
		})

		r.Post("/flush", func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			res := q.Flush(r.Context(), deliverer.Deliver)
			m.ObserveFlush(res)
			logger.Info("Manual flush", zap.Int("succeeded", res.Succeeded),
				zap.Int("failed", res.Failed), zap.Duration("duration", time.Since(start)))
			json.NewEncoder(w).Encode(res)
		})
	})
}

func authMiddleware(jwtSecret string, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := r.Header.Get("Authorization")
			if tokenStr == "" {
				logger.Error("Missing authorization token")
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}
			if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
				tokenStr = tokenStr[7:]
			}
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Error("Invalid JWT token", zap.Error(err))
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
