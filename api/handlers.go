package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/mutation"
	"board-sync/remote"
	"board-sync/session"
	"board-sync/storage"
)

const maxBodySize = 1 << 20

// Mutator applies optimistic writes. *mutation.Client satisfies it.
type Mutator interface {
	CreateItem(ctx context.Context, item domain.Item) (domain.Item, error)
	UpdateItem(ctx context.Context, id string, p domain.ItemPatch) error
	UpdateValue(ctx context.Context, itemID, columnID string, v domain.Value) error
	DeleteItem(ctx context.Context, id string) error
	DeleteItems(ctx context.Context, ids []string) error
	ReorderItems(ctx context.Context, ps []domain.ItemPosition) error
}

// Boards opens and reports the current board. *session.Session satisfies it.
type Boards interface {
	Open(ctx context.Context, workspaceID, boardID string) (*session.View, error)
	View() *session.View
}

// Options tunes Register.
type Options struct {
	// Token, when set, is required as a bearer token on /api routes.
	Token string
	// Registry enables request metrics and GET /metrics.
	Registry *prometheus.Registry
	// Heartbeat is the keepalive interval of GET /api/stream.
	Heartbeat time.Duration
}

type openRequest struct {
	WorkspaceID string `json:"workspaceId"`
	BoardID     string `json:"boardId"`
}

type selectionResponse struct {
	Selected []string `json:"selected"`
}

// Register wires the local API routes onto the echo instance.
func Register(e *echo.Echo, store *storage.Store, boards Boards, mutations Mutator, logger *log.Logger, opts Options) {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.Registry != nil {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Namespace:  "boardsync",
			Subsystem:  "api",
			Registerer: opts.Registry,
		}))
		e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: opts.Registry}))
	}
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	g := e.Group("/api", BearerToken(opts.Token))
	g.GET("/board", getBoard(store))
	g.POST("/board/open", openBoard(boards, logger))
	g.DELETE("/board", closeBoard(boards))
	g.GET("/items", getItems(store))
	g.PUT("/filter", putFilter(store))
	g.POST("/items", createItem(mutations, logger))
	g.PATCH("/items/:id", updateItem(mutations, logger))
	g.PUT("/items/:id/values/:columnId", updateValue(mutations, logger))
	g.DELETE("/items/:id", deleteItem(mutations, logger))
	g.POST("/items/delete", deleteItems(store, mutations, logger))
	g.POST("/items/reorder", reorderItems(mutations, logger))
	g.POST("/selection/:id", toggleSelection(store))
	g.POST("/selection", selectAll(store))
	g.DELETE("/selection", clearSelection(store))
	g.GET("/stream", streamBoard(store, logger, opts.Heartbeat))
}

func getBoard(store *storage.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := store.Snapshot()
		if errors.Is(err, storage.ErrNoBoard) {
			return c.String(http.StatusNotFound, err.Error())
		}
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, b)
	}
}

func openBoard(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req openRequest
		if err := decodeBody(c, &req); err != nil || req.BoardID == "" {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		v, err := boards.Open(c.Request().Context(), req.WorkspaceID, req.BoardID)
		if err != nil {
			return failure(c, logger, "open board", err)
		}
		return c.JSON(http.StatusOK, openRequest{WorkspaceID: v.WorkspaceID, BoardID: v.BoardID})
	}
}

func closeBoard(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		if v := boards.View(); v != nil {
			v.Close()
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// getItems evaluates the query filter without touching the stored one. With
// no query parameters the stored filter applies.
func getItems(store *storage.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		q := c.QueryParams()
		if !q.Has("search") && !q.Has("status") && !q.Has("priority") {
			return c.JSON(http.StatusOK, store.FilteredItems())
		}
		f := storage.Filter{
			Search:           q.Get("search"),
			Status:           q.Get("status"),
			Priority:         q.Get("priority"),
			StatusColumnID:   q.Get("statusColumnId"),
			PriorityColumnID: q.Get("priorityColumnId"),
		}
		return c.JSON(http.StatusOK, storage.ApplyFilter(store.Items(), store.Columns(), f))
	}
}

func putFilter(store *storage.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		var f storage.Filter
		if err := decodeBody(c, &f); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		store.SetFilter(f)
		return c.JSON(http.StatusOK, store.FilteredItems())
	}
}

func createItem(mutations Mutator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var item domain.Item
		if err := decodeBody(c, &item); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if strings.TrimSpace(item.Name) == "" {
			return c.String(http.StatusBadRequest, "name is required")
		}
		created, err := mutations.CreateItem(c.Request().Context(), item)
		if err != nil {
			return failure(c, logger, "create item", err)
		}
		return c.JSON(http.StatusCreated, created)
	}
}

func updateItem(mutations Mutator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var p domain.ItemPatch
		if err := decodeBody(c, &p); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if p.Empty() {
			return c.NoContent(http.StatusNoContent)
		}
		if err := mutations.UpdateItem(c.Request().Context(), c.Param("id"), p); err != nil {
			return failure(c, logger, "update item", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// updateValue takes the bare column value as body; it is decoded with the
// column's type by the mutation client.
func updateValue(mutations Mutator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
		if err != nil || len(strings.TrimSpace(string(raw))) == 0 {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		var v domain.Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := mutations.UpdateValue(c.Request().Context(), c.Param("id"), c.Param("columnId"), v); err != nil {
			return failure(c, logger, "update value", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteItem(mutations Mutator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := mutations.DeleteItem(c.Request().Context(), c.Param("id")); err != nil {
			return failure(c, logger, "delete item", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// deleteItems deletes the listed ids, or the current selection when the body
// is empty.
func deleteItems(store *storage.Store, mutations Mutator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		var ids []string
		if len(strings.TrimSpace(string(raw))) == 0 {
			ids = store.Selection()
		} else if ids, err = domain.DecodeIDs(raw); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if len(ids) == 0 {
			return c.NoContent(http.StatusNoContent)
		}
		if err := mutations.DeleteItems(c.Request().Context(), ids); err != nil {
			return failure(c, logger, "delete items", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func reorderItems(mutations Mutator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		ps, err := domain.DecodeItemPositions(raw)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := mutations.ReorderItems(c.Request().Context(), ps); err != nil {
			return failure(c, logger, "reorder items", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func toggleSelection(store *storage.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !store.ToggleItemSelection(c.Param("id")) {
			return c.String(http.StatusNotFound, "item not found")
		}
		return c.JSON(http.StatusOK, selectionResponse{Selected: store.Selection()})
	}
}

func selectAll(store *storage.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		store.SelectAllItems()
		return c.JSON(http.StatusOK, selectionResponse{Selected: store.Selection()})
	}
}

func clearSelection(store *storage.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		store.ClearSelection()
		return c.NoContent(http.StatusNoContent)
	}
}

func decodeBody(c echo.Context, out any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	return dec.Decode(out)
}

// failure maps mutation and remote errors to a status code. The optimistic
// state has already been rolled back by the time it runs.
func failure(c echo.Context, logger *log.Logger, op string, err error) error {
	status := http.StatusInternalServerError
	var se *remote.StatusError
	switch {
	case errors.Is(err, mutation.ErrScopeClosed), errors.Is(err, session.ErrNoView):
		status = http.StatusConflict
	case errors.Is(err, mutation.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidValue):
		status = http.StatusBadRequest
	case errors.Is(err, remote.ErrUnauthorized):
		status = http.StatusBadGateway
	case errors.As(err, &se):
		status = http.StatusBadGateway
		if se.NotFound() {
			status = http.StatusNotFound
		}
	case remote.IsTransient(err):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("op", op).Error("request failed")
	}
	return c.String(status, err.Error())
}
