package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"jastip/internal/config"
	"jastip/pkg/breaker"
	"jastip/pkg/log"
)

// Notifier delivers a message to a recipient through an external
// messaging collaborator.
type Notifier interface {
	Send(ctx context.Context, recipientPhone, message string, metadata map[string]string) error
}

// GatewayNotifier sends messages through an HTTP messaging gateway.
// Deliveries are rate limited and run behind a circuit breaker so a
// degraded gateway fails fast instead of tying up worker slots.
type GatewayNotifier struct {
	url     string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *breaker.CircuitBreaker
}

// NewGatewayNotifier creates a gateway notifier
func NewGatewayNotifier(cfg config.NotificationConfig) *GatewayNotifier {
	return &GatewayNotifier{
		url:    cfg.GatewayURL,
		apiKey: cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breaker: breaker.NewCircuitBreaker("notification-gateway", breaker.Config{
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
		}),
	}
}

type gatewayRequest struct {
	Phone    string            `json:"phone"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Send delivers a message through the gateway
func (n *GatewayNotifier) Send(ctx context.Context, recipientPhone, message string, metadata map[string]string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	return n.breaker.Execute(ctx, func() error {
		body, err := json.Marshal(gatewayRequest{
			Phone:    recipientPhone,
			Message:  message,
			Metadata: metadata,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build notification request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if n.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+n.apiKey)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			return fmt.Errorf("notification gateway unreachable: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("notification gateway returned status %d", resp.StatusCode)
		}

		log.WithFields(map[string]interface{}{
			"recipient": recipientPhone,
		}).Debug("Notification delivered")
		return nil
	})
}
