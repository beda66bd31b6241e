package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"board-sync/remote"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 1024

	sendBuffer = 64
)

var errConnectionClosed = errors.New("websocket connection closed")

// WebSocket is a push channel over a websocket connection. The bearer token
// is fetched from Tokens on every (re)connection.
type WebSocket struct {
	URL     string
	Tokens  remote.TokenSource
	Dialer  *websocket.Dialer
	Log     *log.Logger
	Metrics *Metrics

	// NewBackOff returns the reconnect policy. The default retries forever
	// with exponential delays capped at 30s.
	NewBackOff func() backoff.BackOff

	rooms roomSet

	mu   sync.Mutex
	send chan []byte
}

// NewWebSocket creates a websocket transport for url.
func NewWebSocket(url string, tokens remote.TokenSource) *WebSocket {
	return &WebSocket{
		URL:    url,
		Tokens: tokens,
		Dialer: websocket.DefaultDialer,
		Log:    log.StandardLogger(),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Run connects and delivers events to h until ctx is cancelled. A rejected
// token ends Run with an error wrapping remote.ErrUnauthorized.
func (w *WebSocket) Run(ctx context.Context, h Handler) error {
	newBackOff := w.NewBackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}
	b := backoff.WithContext(newBackOff(), ctx)
	connected := false
	for {
		err := w.serve(ctx, h, connected, func() {
			connected = true
			b.Reset()
		})
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, remote.ErrUnauthorized) {
			w.Log.WithError(err).Error("websocket token rejected, giving up")
			return err
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		w.Log.WithError(err).WithField("retryIn", wait).Error("websocket disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// serve runs one connection. onConnect is called once the socket is up.
func (w *WebSocket) serve(ctx context.Context, h Handler, reconnect bool, onConnect func()) error {
	header := http.Header{}
	if w.Tokens != nil {
		token, err := w.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("websocket token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := w.Dialer.DialContext(ctx, w.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("dial %s: %w", w.URL, remote.ErrUnauthorized)
		}
		return fmt.Errorf("dial %s: %w", w.URL, err)
	}
	defer conn.Close()
	onConnect()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Rejoin before anything else is read or queued.
	send := make(chan []byte, sendBuffer)
	w.mu.Lock()
	rooms := w.rooms.list()
	w.send = send
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		if w.send == send {
			w.send = nil
		}
		w.mu.Unlock()
	}()
	for _, r := range rooms {
		frame, err := encodeCommand("join", r)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("rejoin %s: %w", r.Channel(), err)
		}
	}
	w.Log.WithFields(log.Fields{"url": w.URL, "rooms": len(rooms), "reconnect": reconnect}).Info("websocket connected")
	w.Metrics.connected("websocket", reconnect)
	h.Connected(ctx, reconnect)

	done := make(chan struct{})
	defer close(done)
	go w.writePump(ctx, conn, send, done)
	return w.readPump(conn, h)
}

func (w *WebSocket) readPump(conn *websocket.Conn, h Handler) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errConnectionClosed
			}
			return err
		}
		ev, err := decodeEvent(message)
		if err != nil {
			w.Log.WithError(err).Warn("malformed websocket frame")
			continue
		}
		h.HandleEvent(ev)
	}
}

func (w *WebSocket) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			conn.Close()
			return
		case frame := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				w.Log.WithError(err).Error("websocket write failed")
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// Join enters room now if connected and on every later connection.
func (w *WebSocket) Join(ctx context.Context, room Room) error {
	w.rooms.add(room)
	return w.enqueue(ctx, "join", room)
}

// Leave exits room.
func (w *WebSocket) Leave(ctx context.Context, room Room) error {
	if !w.rooms.remove(room) {
		return nil
	}
	return w.enqueue(ctx, "leave", room)
}

func (w *WebSocket) enqueue(ctx context.Context, action string, room Room) error {
	frame, err := encodeCommand(action, room)
	if err != nil {
		return err
	}
	w.mu.Lock()
	send := w.send
	w.mu.Unlock()
	if send == nil {
		return nil
	}
	select {
	case send <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
