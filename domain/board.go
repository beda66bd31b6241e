package domain

// ColumnType tags the kind of values a column holds. The set is closed.
type ColumnType string

const (
	ColumnText     ColumnType = "text"
	ColumnNumber   ColumnType = "number"
	ColumnDate     ColumnType = "date"
	ColumnPerson   ColumnType = "person"
	ColumnStatus   ColumnType = "status"
	ColumnPriority ColumnType = "priority"
	ColumnProgress ColumnType = "progress"
	ColumnCheckbox ColumnType = "checkbox"
	ColumnFiles    ColumnType = "files"
)

// Known reports whether t belongs to the closed set of column types.
func (t ColumnType) Known() bool {
	switch t {
	case ColumnText, ColumnNumber, ColumnDate, ColumnPerson, ColumnStatus,
		ColumnPriority, ColumnProgress, ColumnCheckbox, ColumnFiles:
		return true
	}
	return false
}

// Labeled reports whether values of t reference a label of the column.
func (t ColumnType) Labeled() bool {
	return t == ColumnStatus || t == ColumnPriority
}

// Label is one entry of a status or priority column's ordered label set.
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// ColumnSettings carries the type-specific configuration of a column.
type ColumnSettings struct {
	Labels []Label `json:"labels,omitempty"`
	Prefix string  `json:"prefix,omitempty"`
	Suffix string  `json:"suffix,omitempty"`
}

// Clone returns a copy that shares no slices with s.
func (s ColumnSettings) Clone() ColumnSettings {
	if s.Labels != nil {
		s.Labels = append([]Label(nil), s.Labels...)
	}
	return s
}

// LabelName returns the display name of the label with the given id.
func (s ColumnSettings) LabelName(id string) (string, bool) {
	for _, l := range s.Labels {
		if l.ID == id {
			return l.Name, true
		}
	}
	return "", false
}

type Column struct {
	ID       string         `json:"id"`
	BoardID  string         `json:"boardId,omitempty"`
	Title    string         `json:"title"`
	Type     ColumnType     `json:"type"`
	Settings ColumnSettings `json:"settings"`
	Position int            `json:"position"`
}

type Group struct {
	ID        string `json:"id"`
	BoardID   string `json:"boardId,omitempty"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	Collapsed bool   `json:"collapsed,omitempty"`
	Position  int    `json:"position"`
}

// Item is a row of a board. GroupID is empty for ungrouped items. ClientID
// carries the placeholder id of the optimistic insert that created it, when
// the server echoes it back.
type Item struct {
	ID       string           `json:"id"`
	BoardID  string           `json:"boardId,omitempty"`
	ClientID string           `json:"clientId,omitempty"`
	Name     string           `json:"name"`
	GroupID  string           `json:"groupId,omitempty"`
	Position int              `json:"position"`
	Values   map[string]Value `json:"values,omitempty"`
}

// Clone returns a deep copy of the item.
func (i Item) Clone() Item {
	if i.Values != nil {
		vals := make(map[string]Value, len(i.Values))
		for k, v := range i.Values {
			vals[k] = v.Clone()
		}
		i.Values = vals
	}
	return i
}

// ResolveValues normalizes every value of the item using the column type
// returned by typeOf. Values of unknown columns are kept verbatim.
func (i *Item) ResolveValues(typeOf func(columnID string) ColumnType) error {
	for colID, v := range i.Values {
		rv, err := v.Resolve(typeOf(colID))
		if err != nil {
			return err
		}
		i.Values[colID] = rv
	}
	return nil
}

type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Board is the wholesale snapshot of one board as served by the API.
type Board struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspaceId,omitempty"`
	Name        string   `json:"name"`
	Columns     []Column `json:"columns"`
	Groups      []Group  `json:"groups"`
	Items       []Item   `json:"items"`
	Members     []Member `json:"members,omitempty"`
}

// Normalize resolves all item values against the board's own columns.
func (b *Board) Normalize() error {
	types := make(map[string]ColumnType, len(b.Columns))
	for _, c := range b.Columns {
		types[c.ID] = c.Type
	}
	typeOf := func(id string) ColumnType { return types[id] }
	for i := range b.Items {
		if err := b.Items[i].ResolveValues(typeOf); err != nil {
			return err
		}
	}
	return nil
}

type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ItemPatch carries partial item updates. A non-nil GroupID pointing to the
// empty string moves the item out of its group.
type ItemPatch struct {
	Name     *string `json:"name,omitempty"`
	GroupID  *string `json:"groupId,omitempty"`
	Position *int    `json:"position,omitempty"`
}

// Empty reports whether the patch touches no field.
func (p ItemPatch) Empty() bool {
	return p.Name == nil && p.GroupID == nil && p.Position == nil
}

type ColumnPatch struct {
	Title    *string         `json:"title,omitempty"`
	Settings *ColumnSettings `json:"settings,omitempty"`
	Position *int            `json:"position,omitempty"`
}

type GroupPatch struct {
	Name      *string `json:"name,omitempty"`
	Color     *string `json:"color,omitempty"`
	Collapsed *bool   `json:"collapsed,omitempty"`
	Position  *int    `json:"position,omitempty"`
}

type BoardPatch struct {
	Name *string `json:"name,omitempty"`
}

// ItemPosition moves an item; a nil GroupID keeps the current group.
type ItemPosition struct {
	ID       string  `json:"id"`
	Position int     `json:"position"`
	GroupID  *string `json:"groupId,omitempty"`
}

type Position struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}
