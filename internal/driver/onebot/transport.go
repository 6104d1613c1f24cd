package onebot

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	defaultReadLimit   = 16 << 20
	defaultEventBuffer = 256
)

var (
	// ErrNotConnected indicates no OneBot implementation is attached.
	ErrNotConnected = errors.New("onebot: no active connection")
	// ErrActionFailed indicates the implementation rejected an action.
	ErrActionFailed = errors.New("onebot: action failed")
)

// ActionCaller invokes OneBot actions and returns their data field.
type ActionCaller interface {
	Call(ctx context.Context, action string, params any) (gjson.Result, error)
}

type actionRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo,omitempty"`
}

// Hub accepts reverse WebSocket connections and HTTP event posts from one
// OneBot implementation.
//
// Frames with an echo field answer pending actions; everything else is queued
// as an inbound event.
type Hub struct {
	logger      *slog.Logger
	accessToken string
	events      chan []byte

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan []byte
}

// NewHub creates a hub with a bounded inbound event queue.
func NewHub(logger *slog.Logger, accessToken string, buffer int) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	return &Hub{
		logger:      logger,
		accessToken: accessToken,
		events:      make(chan []byte, buffer),
		pending:     make(map[string]chan []byte),
	}
}

// Events streams raw inbound event frames.
func (h *Hub) Events() <-chan []byte {
	return h.events
}

// Routes mounts the WebSocket and HTTP intake endpoints.
func (h *Hub) Routes(wsPath string, eventPath string) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(h.authorize)
	router.Get(wsPath, h.serveWebSocket)
	router.Post(eventPath, h.serveEventPost)

	return router
}

func (h *Hub) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.accessToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.accessToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Hub) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "onebot websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(defaultReadLimit)

	h.attach(conn)
	h.logger.InfoContext(r.Context(),
		"onebot implementation connected",
		"remote_addr", r.RemoteAddr,
		"self_id", r.Header.Get("X-Self-ID"),
	)

	err = h.readLoop(r.Context(), conn)
	h.detach(conn)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.WarnContext(r.Context(), "onebot websocket closed", "error", err)
	}
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		messageType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read onebot frame: %w", err)
		}
		if messageType != websocket.MessageText {
			continue
		}

		if echo := gjson.GetBytes(data, "echo"); echo.Exists() && !gjson.GetBytes(data, "post_type").Exists() {
			h.resolve(echo.String(), data)
			continue
		}
		if err := h.enqueue(ctx, data); err != nil {
			return err
		}
	}
}

func (h *Hub) serveEventPost(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, defaultReadLimit))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if !gjson.ValidBytes(data) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.enqueue(r.Context(), data); err != nil {
		http.Error(w, "event queue unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) enqueue(ctx context.Context, data []byte) error {
	select {
	case h.events <- data:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue onebot event: %w", ctx.Err())
	}
}

func (h *Hub) attach(conn *websocket.Conn) {
	h.mu.Lock()
	previous := h.conn
	h.conn = conn
	h.mu.Unlock()

	if previous != nil {
		_ = previous.Close(websocket.StatusGoingAway, "replaced by a newer connection")
	}
}

func (h *Hub) detach(conn *websocket.Conn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()

	_ = conn.CloseNow()
}

func (h *Hub) resolve(echo string, data []byte) {
	h.mu.Lock()
	waiter, exists := h.pending[echo]
	delete(h.pending, echo)
	h.mu.Unlock()

	if !exists {
		h.logger.Debug("onebot response without waiter", "echo", echo)
		return
	}
	waiter <- data
}

// Call sends one action over the active WebSocket and waits for its response.
func (h *Hub) Call(ctx context.Context, action string, params any) (gjson.Result, error) {
	h.mu.Lock()
	conn := h.conn
	if conn == nil {
		h.mu.Unlock()
		return gjson.Result{}, fmt.Errorf("call %s: %w", action, ErrNotConnected)
	}
	echo := uuid.NewString()
	waiter := make(chan []byte, 1)
	h.pending[echo] = waiter
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, echo)
		h.mu.Unlock()
	}()

	request, err := json.Marshal(actionRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("call %s encode: %w", action, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, request); err != nil {
		return gjson.Result{}, fmt.Errorf("call %s write: %w", action, err)
	}

	select {
	case response := <-waiter:
		return parseActionResponse(action, response)
	case <-ctx.Done():
		return gjson.Result{}, fmt.Errorf("call %s: %w", action, ctx.Err())
	}
}

// HTTPCaller invokes actions against a OneBot HTTP API endpoint.
type HTTPCaller struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

// NewHTTPCaller creates an HTTP API caller rooted at baseURL.
func NewHTTPCaller(baseURL string, accessToken string, client *http.Client) *HTTPCaller {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPCaller{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client:      client,
	}
}

// Call posts one action and decodes its response.
func (c *HTTPCaller) Call(ctx context.Context, action string, params any) (gjson.Result, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("call %s encode: %w", action, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+action, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("call %s request: %w", action, err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	response, err := c.client.Do(request)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("call %s: %w", action, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, defaultReadLimit))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("call %s read: %w", action, err)
	}
	if response.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("call %s: %w: http status %d", action, ErrActionFailed, response.StatusCode)
	}

	return parseActionResponse(action, data)
}

// ActionError reports a rejected action with its retcode.
type ActionError struct {
	Action  string
	Retcode int64
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("onebot action %s failed: retcode %d %s", e.Action, e.Retcode, e.Message)
}

// Unwrap lets callers match ErrActionFailed.
func (e *ActionError) Unwrap() error {
	return ErrActionFailed
}

func parseActionResponse(action string, data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("call %s: invalid response json", action)
	}

	response := gjson.ParseBytes(data)
	if response.Get("status").String() == "failed" || response.Get("retcode").Int() != 0 {
		message := response.Get("wording").String()
		if message == "" {
			message = response.Get("message").String()
		}
		return gjson.Result{}, &ActionError{
			Action:  action,
			Retcode: response.Get("retcode").Int(),
			Message: message,
		}
	}

	return response.Get("data"), nil
}

var (
	_ ActionCaller = (*Hub)(nil)
	_ ActionCaller = (*HTTPCaller)(nil)
)
