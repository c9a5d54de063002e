package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const maxMessageBytes = 64 << 10

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Handler upgrades GET /ws?client={clientID} to a progress session.
type Handler struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewHandler creates a websocket handler.
func NewHandler(cfg Config) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{cfg: cfg, ctx: ctx, cancel: cancel}
}

// ValidClientID reports whether id can name a client's local storage.
func ValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client")
	if !ValidClientID(clientID) {
		http.Error(w, "invalid client id", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.Origins,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "client_id", clientID, "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	client, err := NewClient(ctx, h.cfg, clientID)
	if err != nil {
		slog.Error("session setup failed", "client_id", clientID, "error", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	slog.Info("session opened", "client_id", clientID)

	defer func() {
		if err := client.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("session teardown incomplete", "client_id", clientID, "error", err)
		}
		slog.Info("session closed", "client_id", clientID)
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logReadError(clientID, err)
			return
		}

		resp := client.HandleMessage(ctx, data)
		if err := wsjson.Write(ctx, conn, resp); err != nil {
			slog.Warn("websocket write failed", "client_id", clientID, "error", err)
			return
		}
	}
}

// Close stops every open session and waits, bounded by ctx, for their
// teardown flushes.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func logReadError(clientID string, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		slog.Debug("websocket closed by client", "client_id", clientID)
		return
	}
	if errors.Is(err, context.Canceled) {
		slog.Debug("websocket read cancelled", "client_id", clientID)
		return
	}
	slog.Warn("websocket read failed", "client_id", clientID, "error", err)
}
