package remote

import (
	"context"
	"net/http"
	"net/url"

	"board-sync/domain"
)

func esc(id string) string { return url.PathEscape(id) }

// GetBoard fetches the board with its columns, groups and items. Item values
// come back normalized.
func (c *Client) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	var b domain.Board
	err := c.do(ctx, http.MethodGet, "/boards/"+esc(boardID), nil, func(data []byte) error {
		var err error
		b, err = domain.DecodeBoard(data)
		return err
	})
	if err != nil {
		return domain.Board{}, err
	}
	if err := b.Normalize(); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

type createItemRequest struct {
	Name     string                  `json:"name"`
	GroupID  *string                 `json:"groupId"`
	Position int                     `json:"position"`
	Values   map[string]domain.Value `json:"values,omitempty"`
	ClientID string                  `json:"clientId,omitempty"`
}

// CreateItem creates an item on the board. The item's ClientID is sent as the
// correlation id the server echoes back.
func (c *Client) CreateItem(ctx context.Context, boardID string, item domain.Item) (domain.Item, error) {
	req := createItemRequest{
		Name:     item.Name,
		Position: item.Position,
		Values:   item.Values,
		ClientID: item.ClientID,
	}
	if item.GroupID != "" {
		req.GroupID = &item.GroupID
	}
	var out domain.Item
	err := c.do(ctx, http.MethodPost, "/boards/"+esc(boardID)+"/items", req, func(data []byte) error {
		var err error
		out, err = domain.DecodeItem(data)
		return err
	})
	if err != nil {
		return domain.Item{}, err
	}
	if out.ClientID == "" {
		out.ClientID = item.ClientID
	}
	return out, nil
}

// UpdateItem sends the patched fields. An empty GroupID is sent as null.
func (c *Client) UpdateItem(ctx context.Context, itemID string, p domain.ItemPatch) error {
	body := map[string]any{}
	if p.Name != nil {
		body["name"] = *p.Name
	}
	if p.Position != nil {
		body["position"] = *p.Position
	}
	if p.GroupID != nil {
		if *p.GroupID == "" {
			body["groupId"] = nil
		} else {
			body["groupId"] = *p.GroupID
		}
	}
	return c.do(ctx, http.MethodPut, "/items/"+esc(itemID), body, nil)
}

// UpdateValue sets one column value of an item.
func (c *Client) UpdateValue(ctx context.Context, itemID, columnID string, v domain.Value) error {
	body := map[string]any{"value": v}
	return c.do(ctx, http.MethodPut, "/items/"+esc(itemID)+"/values/"+esc(columnID), body, nil)
}

func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	return c.do(ctx, http.MethodDelete, "/items/"+esc(itemID), nil, nil)
}

func (c *Client) DeleteItems(ctx context.Context, itemIDs []string) error {
	return c.do(ctx, http.MethodPost, "/items/bulk-delete", map[string]any{"itemIds": itemIDs}, nil)
}

func (c *Client) ReorderItems(ctx context.Context, boardID string, ps []domain.ItemPosition) error {
	return c.do(ctx, http.MethodPut, "/boards/"+esc(boardID)+"/items/reorder", map[string]any{"items": ps}, nil)
}

func (c *Client) CreateColumn(ctx context.Context, boardID string, col domain.Column) (domain.Column, error) {
	body := map[string]any{
		"title":    col.Title,
		"type":     col.Type,
		"settings": col.Settings,
		"position": col.Position,
	}
	var out domain.Column
	err := c.do(ctx, http.MethodPost, "/boards/"+esc(boardID)+"/columns", body, func(data []byte) error {
		var err error
		out, err = domain.DecodeColumn(data)
		return err
	})
	return out, err
}

func (c *Client) UpdateColumn(ctx context.Context, columnID string, p domain.ColumnPatch) error {
	return c.do(ctx, http.MethodPut, "/columns/"+esc(columnID), p, nil)
}

func (c *Client) DeleteColumn(ctx context.Context, columnID string) error {
	return c.do(ctx, http.MethodDelete, "/columns/"+esc(columnID), nil, nil)
}

func (c *Client) CreateGroup(ctx context.Context, boardID string, g domain.Group) (domain.Group, error) {
	body := map[string]any{"name": g.Name, "color": g.Color, "position": g.Position}
	var out domain.Group
	err := c.do(ctx, http.MethodPost, "/boards/"+esc(boardID)+"/groups", body, func(data []byte) error {
		var err error
		out, err = domain.DecodeGroup(data)
		return err
	})
	return out, err
}

func (c *Client) UpdateGroup(ctx context.Context, groupID string, p domain.GroupPatch) error {
	return c.do(ctx, http.MethodPut, "/groups/"+esc(groupID), p, nil)
}

func (c *Client) DeleteGroup(ctx context.Context, groupID string) error {
	return c.do(ctx, http.MethodDelete, "/groups/"+esc(groupID), nil, nil)
}

func (c *Client) CreateBoard(ctx context.Context, workspaceID, name string) (domain.Board, error) {
	var out domain.Board
	err := c.do(ctx, http.MethodPost, "/workspaces/"+esc(workspaceID)+"/boards", map[string]any{"name": name}, func(data []byte) error {
		var err error
		out, err = domain.DecodeBoard(data)
		return err
	})
	return out, err
}

func (c *Client) UpdateBoard(ctx context.Context, boardID string, p domain.BoardPatch) error {
	return c.do(ctx, http.MethodPut, "/boards/"+esc(boardID), p, nil)
}

func (c *Client) DeleteBoard(ctx context.Context, boardID string) error {
	return c.do(ctx, http.MethodDelete, "/boards/"+esc(boardID), nil, nil)
}

func (c *Client) CreateWorkspace(ctx context.Context, name string) (domain.Workspace, error) {
	var out domain.Workspace
	err := c.do(ctx, http.MethodPost, "/workspaces", map[string]any{"name": name}, into(&out))
	return out, err
}

// ListMembers returns the members of a workspace, bare or as {"members": [...]}.
func (c *Client) ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	var out []domain.Member
	err := c.do(ctx, http.MethodGet, "/workspaces/"+esc(workspaceID)+"/members", nil, func(data []byte) error {
		if len(data) > 0 && data[0] == '{' {
			var wrapped struct {
				Members []domain.Member `json:"members"`
			}
			if err := into(&wrapped)(data); err != nil {
				return err
			}
			out = wrapped.Members
			return nil
		}
		return into(&out)(data)
	})
	return out, err
}
