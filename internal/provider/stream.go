package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// StreamClient reads payment status pushes from the provider's websocket feed.
type StreamClient struct {
	Endpoint string
	APIKey   string
	Conn     *websocket.Conn
}

func NewStreamClient(endpoint, apiKey string) *StreamClient {
	return &StreamClient{Endpoint: endpoint, APIKey: apiKey}
}

func (c *StreamClient) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.APIKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, header)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *StreamClient) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *StreamClient) Subscribe(ctx context.Context) error {
	return c.Conn.WriteJSON(map[string]any{
		"action":  "subscribe",
		"channel": "payments",
	})
}

// Read blocks for the next frame. Cancelling ctx closes the connection so the
// pending read returns.
func (c *StreamClient) Read(ctx context.Context) ([]byte, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Conn.Close()
		case <-done:
		}
	}()
	_, msg, err := c.Conn.ReadMessage()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return msg, err
}

// ParseStreamMessage extracts a status update from a feed frame. Frames that
// are not payment updates (acks, heartbeats) return ok=false.
func ParseStreamMessage(msg []byte) (Status, bool, error) {
	var env struct {
		Type  string          `json:"type"`
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return Status{}, false, err
	}
	if env.Error != nil {
		return Status{}, false, errors.New(env.Error.Message)
	}
	if !strings.EqualFold(env.Type, "payment.status") || len(env.Data) == 0 {
		return Status{}, false, nil
	}

	var p statusPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return Status{}, false, err
	}
	if p.PaymentID == "" {
		return Status{}, false, errors.New("payment update without payment_id")
	}
	st, err := p.parse()
	if err != nil {
		return Status{}, false, err
	}
	return st, true, nil
}

// StreamAuto in provider.ws_endpoint derives the feed URL from the API base.
const StreamAuto = "auto"

// StreamEndpoint resolves the configured feed setting. An empty setting
// disables the stream.
func StreamEndpoint(setting, base string) string {
	if setting == StreamAuto {
		return DefaultStreamEndpoint(base)
	}
	return setting
}

// DefaultStreamEndpoint derives the feed URL from an HTTP API base URL.
func DefaultStreamEndpoint(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		if strings.HasSuffix(base, "/stream") {
			return base
		}
		return base + "/stream"
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/stream"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/stream"
	}
	return ""
}
