package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spec-kit/field-service/internal/config"
)

// GatewayClient sends messages through an HTTP messaging gateway. The
// connected flag tracks the outcome of the most recent gateway contact
// (send or ping).
type GatewayClient struct {
	sendURL   string
	pingURL   string
	client    *http.Client
	logger    *zap.Logger
	connected atomic.Bool
}

// NewGatewayClient builds a client from gateway configuration.
func NewGatewayClient(cfg config.GatewayConfig, logger *zap.Logger) *GatewayClient {
	return &GatewayClient{
		sendURL: cfg.SendURL,
		pingURL: cfg.PingURL,
		client:  &http.Client{Timeout: cfg.SendTimeout()},
		logger:  logger,
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send posts one message to the gateway.
func (g *GatewayClient) Send(ctx context.Context, address, body string) error {
	if g.sendURL == "" {
		g.connected.Store(false)
		return errors.New("gateway send url not configured")
	}

	payload, err := json.Marshal(sendRequest{To: address, Body: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.connected.Store(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		g.connected.Store(false)
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	g.connected.Store(true)
	return nil
}

// Connected reports the last known gateway reachability.
func (g *GatewayClient) Connected() bool {
	return g.connected.Load()
}

// Ping refreshes the connected flag. Called by the dispatch loop between
// cycles; failures are logged, not returned.
func (g *GatewayClient) Ping(ctx context.Context) {
	if g.pingURL == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.pingURL, nil)
	if err != nil {
		return
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.connected.Store(false)
		g.logger.Debug("gateway ping failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	g.connected.Store(resp.StatusCode < 300)
}
