package mutation

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"board-sync/domain"
)

// PlaceholderPrefix marks ids generated locally for optimistic inserts.
const PlaceholderPrefix = "tmp-"

func newPlaceholder() string { return PlaceholderPrefix + uuid.NewString() }

// start opens the span of an operation and binds its request context to sc.
func (c *Client) start(ctx context.Context, sc *scope, op, entityID string) (context.Context, trace.Span, context.CancelFunc) {
	ctx, span := c.tracer.Start(ctx, "mutation."+op, trace.WithAttributes(
		attribute.String("board.id", sc.boardID),
		attribute.String("entity.id", entityID),
	))
	reqCtx, cancel := sc.bind(ctx)
	return reqCtx, span, cancel
}

// UpdateItem renames, regroups or moves an item.
func (c *Client) UpdateItem(ctx context.Context, id string, p domain.ItemPatch) error {
	if p.Empty() {
		return nil
	}
	var ws []fieldWrite
	if p.Name != nil {
		ws = append(ws, fieldWrite{itemNameField(id), *p.Name})
	}
	if p.GroupID != nil {
		ws = append(ws, fieldWrite{itemGroupField(id), *p.GroupID})
	}
	if p.Position != nil {
		ws = append(ws, fieldWrite{itemPositionField(id), *p.Position})
	}
	return c.update(ctx, "update_item", id, ws, func(ctx context.Context) error {
		return c.remote.UpdateItem(ctx, id, p)
	})
}

// UpdateValue sets one column value of an item. Unresolved values are
// decoded with the column's type first.
func (c *Client) UpdateValue(ctx context.Context, itemID, columnID string, v domain.Value) error {
	v, err := v.Resolve(c.store.ColumnType(columnID))
	if err != nil {
		return err
	}
	ws := []fieldWrite{{itemValueField(itemID, columnID), v}}
	return c.update(ctx, "update_value", itemID, ws, func(ctx context.Context) error {
		return c.remote.UpdateValue(ctx, itemID, columnID, v)
	})
}

// ReorderItems applies positions and group moves in one request.
func (c *Client) ReorderItems(ctx context.Context, ps []domain.ItemPosition) error {
	if len(ps) == 0 {
		return nil
	}
	sc, err := c.currentScope()
	if err != nil {
		return err
	}
	ws := make([]fieldWrite, 0, len(ps))
	for _, p := range ps {
		ws = append(ws, fieldWrite{itemPositionField(p.ID), p.Position})
		if p.GroupID != nil {
			ws = append(ws, fieldWrite{itemGroupField(p.ID), *p.GroupID})
		}
	}
	return c.update(ctx, "reorder_items", sc.boardID, ws, func(ctx context.Context) error {
		return c.remote.ReorderItems(ctx, sc.boardID, ps)
	})
}

// CreateItem inserts a placeholder right away and replaces it with the
// canonical item once the server answers. The placeholder id doubles as the
// client id the server echoes back on item:created.
func (c *Client) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	const op = "create_item"
	placeholder := newPlaceholder()
	item.ID, item.ClientID = placeholder, placeholder

	c.mu.Lock()
	sc := c.scope
	if sc == nil {
		c.mu.Unlock()
		return domain.Item{}, ErrScopeClosed
	}
	item.BoardID = sc.boardID
	pc := &pendingCreate{item: item.Clone()}
	c.creates[placeholder] = pc
	c.store.AddItem(item)
	c.mu.Unlock()

	reqCtx, span, cancel := c.start(ctx, sc, op, placeholder)
	defer span.End()
	created, err := c.remote.CreateItem(reqCtx, sc.boardID, item)
	cancel()

	c.mu.Lock()
	if c.scope != sc {
		c.mu.Unlock()
		c.finish(span, op, resultScopeClosed, ErrScopeClosed)
		return domain.Item{}, ErrScopeClosed
	}
	delete(c.creates, placeholder)
	if err != nil {
		c.store.DeleteItem(placeholder)
		c.mu.Unlock()
		c.Metrics.rollback(op)
		c.fail(op, placeholder, err)
		c.finish(span, op, resultError, err)
		return domain.Item{}, err
	}
	if created.ClientID == "" {
		created.ClientID = placeholder
	}
	if pc.cancelled {
		c.store.DeleteItem(created.ID)
		c.mu.Unlock()
		if err := c.remote.DeleteItem(ctx, created.ID); err != nil && !gone(err) {
			c.Log.WithError(err).WithField("id", created.ID).Warn("delete of cancelled item failed")
		}
		c.finish(span, op, resultOK, nil)
		return created, nil
	}
	c.store.ReplaceItem(placeholder, created)
	c.mu.Unlock()
	span.SetAttributes(attribute.String("item.id", created.ID))
	c.finish(span, op, resultOK, nil)
	return created, nil
}

// DeleteItem removes the item right away and restores it at its former
// index if the server refuses. Deleting a placeholder cancels its creation.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.DeleteItems(ctx, []string{id})
}

type removal struct {
	item  domain.Item
	index int
}

// DeleteItems removes several items with one request.
func (c *Client) DeleteItems(ctx context.Context, ids []string) error {
	op := "delete_items"
	if len(ids) == 1 {
		op = "delete_item"
	}

	c.mu.Lock()
	sc := c.scope
	if sc == nil {
		c.mu.Unlock()
		return ErrScopeClosed
	}
	var removed []removal
	var sent []string
	for _, id := range ids {
		if pc, ok := c.creates[id]; ok {
			pc.cancelled = true
			c.store.DeleteItem(id)
			continue
		}
		if it, idx, ok := c.store.DeleteItem(id); ok {
			removed = append(removed, removal{it, idx})
		}
		c.deletes[id] = struct{}{}
		sent = append(sent, id)
	}
	c.mu.Unlock()
	if len(sent) == 0 {
		return nil
	}

	reqCtx, span, cancel := c.start(ctx, sc, op, sent[0])
	defer span.End()
	var err error
	if len(sent) == 1 {
		err = c.remote.DeleteItem(reqCtx, sent[0])
	} else {
		err = c.remote.DeleteItems(reqCtx, sent)
	}
	cancel()

	c.mu.Lock()
	if c.scope != sc {
		c.mu.Unlock()
		c.finish(span, op, resultScopeClosed, ErrScopeClosed)
		return ErrScopeClosed
	}
	for _, id := range sent {
		delete(c.deletes, id)
	}
	if err == nil || gone(err) {
		c.mu.Unlock()
		c.finish(span, op, resultOK, nil)
		return nil
	}
	for i := len(removed) - 1; i >= 0; i-- {
		c.store.InsertItemAt(removed[i].index, removed[i].item)
	}
	c.mu.Unlock()
	c.Metrics.rollback(op)
	c.fail(op, sent[0], err)
	c.finish(span, op, resultError, err)
	return err
}
