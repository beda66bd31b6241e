package mutation

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"board-sync/domain"
)

// CreateColumn adds a placeholder column and swaps in the canonical one when
// the server answers.
func (c *Client) CreateColumn(ctx context.Context, col domain.Column) (domain.Column, error) {
	const op = "create_column"
	if !col.Type.Known() {
		return domain.Column{}, fmt.Errorf("unknown column type %q", col.Type)
	}
	placeholder := newPlaceholder()
	col.ID = placeholder

	c.mu.Lock()
	sc := c.scope
	if sc == nil {
		c.mu.Unlock()
		return domain.Column{}, ErrScopeClosed
	}
	col.BoardID = sc.boardID
	c.store.AddColumn(col)
	c.mu.Unlock()

	reqCtx, span, cancel := c.start(ctx, sc, op, placeholder)
	defer span.End()
	created, err := c.remote.CreateColumn(reqCtx, sc.boardID, col)
	cancel()

	c.mu.Lock()
	if c.scope != sc {
		c.mu.Unlock()
		c.finish(span, op, resultScopeClosed, ErrScopeClosed)
		return domain.Column{}, ErrScopeClosed
	}
	_, idx, _ := c.store.DeleteColumn(placeholder)
	if err != nil {
		c.mu.Unlock()
		c.Metrics.rollback(op)
		c.fail(op, placeholder, err)
		c.finish(span, op, resultError, err)
		return domain.Column{}, err
	}
	if _, exists := c.store.Column(created.ID); !exists {
		if idx < 0 {
			c.store.AddColumn(created)
		} else {
			c.store.InsertColumnAt(idx, created)
		}
	}
	c.mu.Unlock()
	c.finish(span, op, resultOK, nil)
	return created, nil
}

// UpdateColumn renames, reconfigures or moves a column.
func (c *Client) UpdateColumn(ctx context.Context, id string, p domain.ColumnPatch) error {
	var ws []fieldWrite
	if p.Title != nil {
		ws = append(ws, fieldWrite{columnTitleField(id), *p.Title})
	}
	if p.Settings != nil {
		ws = append(ws, fieldWrite{columnSettingsField(id), p.Settings.Clone()})
	}
	if p.Position != nil {
		ws = append(ws, fieldWrite{columnPositionField(id), *p.Position})
	}
	if len(ws) == 0 {
		return nil
	}
	return c.update(ctx, "update_column", id, ws, func(ctx context.Context) error {
		return c.remote.UpdateColumn(ctx, id, p)
	})
}

// ReorderColumns moves several columns. Each column is updated with its own
// request, all settled together.
func (c *Client) ReorderColumns(ctx context.Context, ps []domain.Position) error {
	if len(ps) == 0 {
		return nil
	}
	sc, err := c.currentScope()
	if err != nil {
		return err
	}
	ws := make([]fieldWrite, 0, len(ps))
	for _, p := range ps {
		ws = append(ws, fieldWrite{columnPositionField(p.ID), p.Position})
	}
	return c.update(ctx, "reorder_columns", sc.boardID, ws, func(ctx context.Context) error {
		for _, p := range ps {
			pos := p.Position
			if err := c.remote.UpdateColumn(ctx, p.ID, domain.ColumnPatch{Position: &pos}); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteColumn removes the column and restores it if the server refuses.
func (c *Client) DeleteColumn(ctx context.Context, id string) error {
	const op = "delete_column"
	c.mu.Lock()
	sc := c.scope
	if sc == nil {
		c.mu.Unlock()
		return ErrScopeClosed
	}
	col, idx, ok := c.store.DeleteColumn(id)
	c.mu.Unlock()

	reqCtx, span, cancel := c.start(ctx, sc, op, id)
	defer span.End()
	err := c.remote.DeleteColumn(reqCtx, id)
	cancel()

	c.mu.Lock()
	if c.scope != sc {
		c.mu.Unlock()
		c.finish(span, op, resultScopeClosed, ErrScopeClosed)
		return ErrScopeClosed
	}
	if err == nil || gone(err) {
		c.mu.Unlock()
		c.finish(span, op, resultOK, nil)
		return nil
	}
	if ok {
		c.store.InsertColumnAt(idx, col)
	}
	c.mu.Unlock()
	c.Metrics.rollback(op)
	c.fail(op, id, err)
	c.finish(span, op, resultError, err)
	return err
}

// AddLabel appends a label to a status or priority column. An empty label
// id is generated.
func (c *Client) AddLabel(ctx context.Context, columnID string, l domain.Label) (domain.Label, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	err := c.editLabels(ctx, "add_label", columnID, func(labels []domain.Label) []domain.Label {
		if slices.ContainsFunc(labels, func(x domain.Label) bool { return x.ID == l.ID }) {
			return labels
		}
		return append(labels, l)
	})
	return l, err
}

// UpdateLabel changes the name and color of a label.
func (c *Client) UpdateLabel(ctx context.Context, columnID string, l domain.Label) error {
	return c.editLabels(ctx, "update_label", columnID, func(labels []domain.Label) []domain.Label {
		for i := range labels {
			if labels[i].ID == l.ID {
				labels[i] = l
			}
		}
		return labels
	})
}

// DeleteLabel removes a label from a column.
func (c *Client) DeleteLabel(ctx context.Context, columnID, labelID string) error {
	return c.editLabels(ctx, "delete_label", columnID, func(labels []domain.Label) []domain.Label {
		return slices.DeleteFunc(labels, func(x domain.Label) bool { return x.ID == labelID })
	})
}

// editLabels writes the column settings with an edited label set. Labels
// live in the column settings, so concurrent label edits share one clock.
func (c *Client) editLabels(ctx context.Context, op, columnID string, edit func([]domain.Label) []domain.Label) error {
	col, ok := c.store.Column(columnID)
	if !ok {
		return fmt.Errorf("column %s: %w", columnID, ErrNotFound)
	}
	if !col.Type.Labeled() {
		return fmt.Errorf("column %s of type %s has no labels", columnID, col.Type)
	}
	settings := col.Settings.Clone()
	settings.Labels = edit(settings.Labels)
	ws := []fieldWrite{{columnSettingsField(columnID), settings}}
	return c.update(ctx, op, columnID, ws, func(ctx context.Context) error {
		return c.remote.UpdateColumn(ctx, columnID, domain.ColumnPatch{Settings: &settings})
	})
}

// CreateGroup adds a placeholder group and swaps in the canonical one when
// the server answers.
func (c *Client) CreateGroup(ctx context.Context, g domain.Group) (domain.Group, error) {
	const op = "create_group"
	placeholder := newPlaceholder()
	g.ID = placeholder

	c.mu.Lock()
	sc := c.scope
	if sc == nil {
		c.mu.Unlock()
		return domain.Group{}, ErrScopeClosed
	}
	g.BoardID = sc.boardID
	c.store.AddGroup(g)
	c.mu.Unlock()

	reqCtx, span, cancel := c.start(ctx, sc, op, placeholder)
	defer span.End()
	created, err := c.remote.CreateGroup(reqCtx, sc.boardID, g)
	cancel()

	c.mu.Lock()
	if c.scope != sc {
		c.mu.Unlock()
		c.finish(span, op, resultScopeClosed, ErrScopeClosed)
		return domain.Group{}, ErrScopeClosed
	}
	removal, _ := c.store.DeleteGroup(placeholder)
	if err != nil {
		c.mu.Unlock()
		c.Metrics.rollback(op)
		c.fail(op, placeholder, err)
		c.finish(span, op, resultError, err)
		return domain.Group{}, err
	}
	if _, exists := c.store.Group(created.ID); !exists {
		removal.Group = created
		c.store.RestoreGroup(removal)
	}
	c.mu.Unlock()
	c.finish(span, op, resultOK, nil)
	return created, nil
}

// UpdateGroup renames, recolors, collapses or moves a group.
func (c *Client) UpdateGroup(ctx context.Context, id string, p domain.GroupPatch) error {
	ws := groupPatchFields(id, p)
	if len(ws) == 0 {
		return nil
	}
	return c.update(ctx, "update_group", id, ws, func(ctx context.Context) error {
		return c.remote.UpdateGroup(ctx, id, p)
	})
}

// DeleteGroup removes the group, ungrouping its items, and restores both if
// the server refuses.
func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	const op = "delete_group"
	c.mu.Lock()
	sc := c.scope
	if sc == nil {
		c.mu.Unlock()
		return ErrScopeClosed
	}
	removal, ok := c.store.DeleteGroup(id)
	c.mu.Unlock()

	reqCtx, span, cancel := c.start(ctx, sc, op, id)
	defer span.End()
	err := c.remote.DeleteGroup(reqCtx, id)
	cancel()

	c.mu.Lock()
	if c.scope != sc {
		c.mu.Unlock()
		c.finish(span, op, resultScopeClosed, ErrScopeClosed)
		return ErrScopeClosed
	}
	if err == nil || gone(err) {
		c.mu.Unlock()
		c.finish(span, op, resultOK, nil)
		return nil
	}
	if ok {
		c.store.RestoreGroup(removal)
	}
	c.mu.Unlock()
	c.Metrics.rollback(op)
	c.fail(op, id, err)
	c.finish(span, op, resultError, err)
	return err
}

// RenameBoard changes the name of the open board.
func (c *Client) RenameBoard(ctx context.Context, name string) error {
	sc, err := c.currentScope()
	if err != nil {
		return err
	}
	ws := []fieldWrite{{boardNameField(sc.boardID), name}}
	return c.update(ctx, "rename_board", sc.boardID, ws, func(ctx context.Context) error {
		return c.remote.UpdateBoard(ctx, sc.boardID, domain.BoardPatch{Name: &name})
	})
}
