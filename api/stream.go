package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/storage"
)

const defaultHeartbeat = 30 * time.Second

// streamBoard pushes a board snapshot as a server-sent event on every store
// change. Bursts of changes collapse into one snapshot. "null" is sent while
// no board is loaded.
func streamBoard(store *storage.Store, logger *log.Logger, heartbeat time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		changes, cancel := store.Subscribe()
		defer cancel()

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set("Connection", "keep-alive")
		c.Response().WriteHeader(http.StatusOK)
		// Write an initial comment to ensure headers are flushed to the client.
		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		send := func() bool {
			data := []byte("null")
			if b, err := store.Snapshot(); err == nil {
				if data, err = sonic.Marshal(b); err != nil {
					logger.WithError(err).Error("encode board snapshot")
					return false
				}
			}
			if _, err := c.Response().Write([]byte("event: board\ndata: ")); err != nil {
				return false
			}
			if _, err := c.Response().Write(data); err != nil {
				return false
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return false
			}
			flusher.Flush()
			return true
		}
		if !send() {
			return nil
		}

		ctx := c.Request().Context()
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-changes:
				if !send() {
					return nil
				}
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}
