package domain

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Inbound push channel events.
const (
	ItemCreated      = "item:created"
	ItemUpdated      = "item:updated"
	ItemValueUpdated = "item:value_updated"
	ItemDeleted      = "item:deleted"
	ItemsDeleted     = "items:deleted"
	ItemsReordered   = "items:reordered"
	ColumnCreated    = "column:created"
	ColumnUpdated    = "column:updated"
	ColumnDeleted    = "column:deleted"
	ColumnsReordered = "columns:reordered"
	LabelCreated     = "label:created"
	LabelUpdated     = "label:updated"
	LabelDeleted     = "label:deleted"
	GroupCreated     = "group:created"
	GroupUpdated     = "group:updated"
	GroupDeleted     = "group:deleted"
	GroupsReordered  = "groups:reordered"
	BoardCreated     = "board:created"
	BoardUpdated     = "board:updated"
	BoardDeleted     = "board:deleted"
	MemberAdded      = "member:added"
	MemberRemoved    = "member:removed"
)

// Outbound room membership commands.
const (
	JoinWorkspace  = "join:workspace"
	JoinBoard      = "join:board"
	LeaveWorkspace = "leave:workspace"
	LeaveBoard     = "leave:board"
)

// Event is a named message received from the push channel. ID is optional
// and used for deduplication when present.
type Event struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"event"`
	BoardID     string          `json:"boardId,omitempty"`
	WorkspaceID string          `json:"workspaceId,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Time        int64           `json:"time,omitempty"`
}

// ValueUpdate is the payload of item:value_updated.
type ValueUpdate struct {
	ItemID   string          `json:"itemId"`
	ColumnID string          `json:"columnId"`
	Value    json.RawMessage `json:"value"`
}

// LabelChange is the payload of the label events.
type LabelChange struct {
	ColumnID string `json:"columnId"`
	Label    Label  `json:"label"`
	LabelID  string `json:"labelId,omitempty"`
}

// MemberChange is the payload of the member events.
type MemberChange struct {
	WorkspaceID string `json:"workspaceId,omitempty"`
	Member      Member `json:"member"`
	UserID      string `json:"userId,omitempty"`
}

// ItemUpdate is a decoded item:updated payload. Values holds unresolved
// column values carried along with the field patch.
type ItemUpdate struct {
	ID     string
	Patch  ItemPatch
	Values map[string]Value
}

// DecodeItem reads an item payload, bare or wrapped as {"item": {...}}.
func DecodeItem(data []byte) (Item, error) {
	var it Item
	err := decodeEntity(data, "item", &it)
	return it, err
}

func DecodeColumn(data []byte) (Column, error) {
	var c Column
	err := decodeEntity(data, "column", &c)
	return c, err
}

func DecodeGroup(data []byte) (Group, error) {
	var g Group
	err := decodeEntity(data, "group", &g)
	return g, err
}

func DecodeBoard(data []byte) (Board, error) {
	var b Board
	err := decodeEntity(data, "board", &b)
	return b, err
}

// DecodeID reads the id of a deleted entity from {"id"} or {"<kind>Id"}.
func DecodeID(data []byte, kind string) (string, error) {
	f, err := fields(data)
	if err != nil {
		return "", err
	}
	for _, k := range []string{"id", kind + "Id"} {
		if raw, ok := f[k]; ok {
			var id string
			if err := sonic.Unmarshal(raw, &id); err != nil {
				return "", fmt.Errorf("decode %s: %w", k, err)
			}
			return id, nil
		}
	}
	return "", fmt.Errorf("missing %s id", kind)
}

// DecodeIDs reads a bulk delete payload: a bare list, {"ids"} or {"itemIds"}.
func DecodeIDs(data []byte) ([]string, error) {
	var ids []string
	err := decodeList(data, []string{"ids", "itemIds"}, &ids)
	return ids, err
}

// DecodeItemPositions reads items:reordered, bare or as {"items": [...]}.
func DecodeItemPositions(data []byte) ([]ItemPosition, error) {
	var ps []ItemPosition
	err := decodeList(data, []string{"items"}, &ps)
	return ps, err
}

// DecodePositions reads columns:reordered and groups:reordered.
func DecodePositions(data []byte, key string) ([]Position, error) {
	var ps []Position
	err := decodeList(data, []string{key}, &ps)
	return ps, err
}

// DecodeItemUpdate reads a partial item. A null groupId moves the item out
// of its group while an absent one leaves it alone.
func DecodeItemUpdate(data []byte) (ItemUpdate, error) {
	f, err := entityFields(data, "item")
	if err != nil {
		return ItemUpdate{}, err
	}
	var u ItemUpdate
	if err := optional(f, "id", &u.ID); err != nil {
		return ItemUpdate{}, err
	}
	if u.ID == "" {
		return ItemUpdate{}, fmt.Errorf("missing item id")
	}
	if u.Patch.Name, err = optionalPtr[string](f, "name"); err != nil {
		return ItemUpdate{}, err
	}
	if u.Patch.Position, err = optionalPtr[int](f, "position"); err != nil {
		return ItemUpdate{}, err
	}
	if raw, ok := f["groupId"]; ok {
		var g *string
		if err := sonic.Unmarshal(raw, &g); err != nil {
			return ItemUpdate{}, fmt.Errorf("decode groupId: %w", err)
		}
		group := ""
		if g != nil {
			group = *g
		}
		u.Patch.GroupID = &group
	}
	if raw, ok := f["values"]; ok {
		if err := sonic.Unmarshal(raw, &u.Values); err != nil {
			return ItemUpdate{}, fmt.Errorf("decode values: %w", err)
		}
	}
	return u, nil
}

// DecodeColumnUpdate reads a partial column.
func DecodeColumnUpdate(data []byte) (string, ColumnPatch, error) {
	f, err := entityFields(data, "column")
	if err != nil {
		return "", ColumnPatch{}, err
	}
	var id string
	var p ColumnPatch
	if err := optional(f, "id", &id); err != nil {
		return "", p, err
	}
	if p.Title, err = optionalPtr[string](f, "title"); err != nil {
		return "", p, err
	}
	if p.Settings, err = optionalPtr[ColumnSettings](f, "settings"); err != nil {
		return "", p, err
	}
	if p.Position, err = optionalPtr[int](f, "position"); err != nil {
		return "", p, err
	}
	return id, p, nil
}

// DecodeGroupUpdate reads a partial group.
func DecodeGroupUpdate(data []byte) (string, GroupPatch, error) {
	f, err := entityFields(data, "group")
	if err != nil {
		return "", GroupPatch{}, err
	}
	var id string
	var p GroupPatch
	if err := optional(f, "id", &id); err != nil {
		return "", p, err
	}
	if p.Name, err = optionalPtr[string](f, "name"); err != nil {
		return "", p, err
	}
	if p.Color, err = optionalPtr[string](f, "color"); err != nil {
		return "", p, err
	}
	if p.Collapsed, err = optionalPtr[bool](f, "collapsed"); err != nil {
		return "", p, err
	}
	if p.Position, err = optionalPtr[int](f, "position"); err != nil {
		return "", p, err
	}
	return id, p, nil
}

// DecodeBoardUpdate reads a partial board.
func DecodeBoardUpdate(data []byte) (string, BoardPatch, error) {
	f, err := entityFields(data, "board")
	if err != nil {
		return "", BoardPatch{}, err
	}
	var id string
	var p BoardPatch
	if err := optional(f, "id", &id); err != nil {
		return "", p, err
	}
	if p.Name, err = optionalPtr[string](f, "name"); err != nil {
		return "", p, err
	}
	return id, p, nil
}

func fields(data []byte) (map[string]json.RawMessage, error) {
	var f map[string]json.RawMessage
	if err := sonic.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return f, nil
}

// entityFields returns the fields of the entity, unwrapping {"<key>": {...}}.
func entityFields(data []byte, key string) (map[string]json.RawMessage, error) {
	f, err := fields(data)
	if err != nil {
		return nil, err
	}
	if inner, ok := f[key]; ok && len(inner) > 0 && inner[0] == '{' {
		return fields(inner)
	}
	return f, nil
}

func decodeEntity(data []byte, key string, out any) error {
	f, err := fields(data)
	if err != nil {
		return err
	}
	if inner, ok := f[key]; ok && len(inner) > 0 && inner[0] == '{' {
		data = inner
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func decodeList(data []byte, keys []string, out any) error {
	if len(data) > 0 && data[0] == '{' {
		f, err := fields(data)
		if err != nil {
			return err
		}
		found := false
		for _, k := range keys {
			if raw, ok := f[k]; ok {
				data, found = raw, true
				break
			}
		}
		if !found {
			return fmt.Errorf("missing %s list", keys[0])
		}
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", keys[0], err)
	}
	return nil
}

func optional(f map[string]json.RawMessage, key string, out any) error {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// optionalPtr returns nil for absent or null fields.
func optionalPtr[T any](f map[string]json.RawMessage, key string) (*T, error) {
	raw, ok := f[key]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var v T
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}
