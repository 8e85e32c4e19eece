// Package delivery submits pending shares to the journal API.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"shareq/internal/config"
	"shareq/internal/log"
	"shareq/internal/queue"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type Client struct {
	http   *http.Client
	cb     *gobreaker.CircuitBreaker
	cfg    *config.Config
	logger *log.Logger
}

func NewClient(cfg *config.Config, logger *log.Logger) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "share-delivery",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &Client{
		http:   &http.Client{Timeout: cfg.DeliveryTimeout},
		cb:     cb,
		cfg:    cfg,
		logger: logger,
	}
}

type shareRequest struct {
	URL      string `json:"url"`
	TripID   string `json:"trip_id,omitempty"`
	Note     string `json:"note,omitempty"`
	Source   string `json:"source,omitempty"`
	QueuedAt int64  `json:"queued_at"`
}

// Deliver posts one pending share. 2xx means delivered; 409 counts as
// delivered too, since the API already holds the share and retrying forever
// would wedge the queue. Every attempt is bounded by the configured delivery
// timeout so one stuck request cannot stall a flush pass.
func (c *Client) Deliver(ctx context.Context, item queue.Item) (bool, error) {
	body, err := json.Marshal(shareRequest{
		URL:      item.Key,
		TripID:   item.Payload.TripID,
		Note:     item.Payload.Note,
		Source:   item.Payload.Source,
		QueuedAt: item.CreatedAt,
	})
	if err != nil {
		return false, fmt.Errorf("marshal share: %w", err)
	}

	result, err := c.cb.Execute(func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.DeliveryTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.APIBaseURL+"/v1/shares", bytes.NewReader(body))
		if err != nil {
			return false, fmt.Errorf("build share request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", uuid.NewString())
		if c.cfg.APIToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return false, fmt.Errorf("post share: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return true, nil
		case resp.StatusCode == http.StatusConflict:
			c.logger.Info("Share already recorded upstream", zap.String("id", item.ID))
			return true, nil
		default:
			return false, fmt.Errorf("share rejected: %s", resp.Status)
		}
	})
	if err != nil {
		c.logger.Warn("Delivery attempt failed", zap.Error(err), zap.String("id", item.ID))
		return false, err
	}
	return result.(bool), nil
}

// Healthy probes the journal API. Used by the connectivity watcher to detect
// offline/online transitions.
func (c *Client) Healthy(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.APIBaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 500
}
