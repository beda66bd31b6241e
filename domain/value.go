package domain

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrInvalidValue is returned when a raw value cannot be read for the type of
// its column.
var ErrInvalidValue = errors.New("invalid column value")

// File is an attachment stored in a files column.
type File struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url,omitempty"`
	Size       int64  `json:"size,omitempty"`
	StoredName string `json:"storedName,omitempty"`
}

// Value is a normalized column value. Type selects which field is
// meaningful. A Value with an empty Type is unresolved: it holds the raw
// bytes received for a column this client does not know yet.
type Value struct {
	Type     ColumnType
	Set      bool
	Text     string
	Number   float64
	Date     string
	UserIDs  []string
	LabelID  string
	Progress int
	Checked  bool
	Files    []File
	Raw      []byte
}

func TextValue(s string) Value { return Value{Type: ColumnText, Set: true, Text: s} }

func NumberValue(n float64) Value { return Value{Type: ColumnNumber, Set: true, Number: n} }

func DateValue(d string) Value { return Value{Type: ColumnDate, Set: d != "", Date: d} }

func PersonValue(ids ...string) Value {
	return Value{Type: ColumnPerson, Set: true, UserIDs: append([]string{}, ids...)}
}

func StatusValue(labelID string) Value {
	return Value{Type: ColumnStatus, Set: labelID != "", LabelID: labelID}
}

func PriorityValue(labelID string) Value {
	return Value{Type: ColumnPriority, Set: labelID != "", LabelID: labelID}
}

func ProgressValue(p int) Value {
	return Value{Type: ColumnProgress, Set: true, Progress: clampProgress(float64(p))}
}

func CheckboxValue(b bool) Value { return Value{Type: ColumnCheckbox, Set: true, Checked: b} }

func FilesValue(files ...File) Value {
	return Value{Type: ColumnFiles, Set: true, Files: append([]File{}, files...)}
}

// EmptyValue is the cleared value of a column of type t.
func EmptyValue(t ColumnType) Value { return Value{Type: t} }

// DecodeValue normalizes any accepted wire shape of a value of column type t.
// A JSON null or empty input yields the cleared value. Unknown types keep the
// raw bytes and are emitted back unchanged.
func DecodeValue(t ColumnType, raw []byte) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return EmptyValue(t), nil
	}
	if !t.Known() {
		return Value{Type: t, Set: true, Raw: append([]byte(nil), raw...)}, nil
	}
	if t == ColumnFiles {
		return decodeFiles(raw)
	}

	var v any
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return Value{}, fmt.Errorf("%w: %s: %v", ErrInvalidValue, t, err)
	}
	if obj, ok := v.(map[string]any); ok {
		v = unwrap(t, obj)
		if v == nil {
			return EmptyValue(t), nil
		}
	}

	switch t {
	case ColumnText:
		switch x := v.(type) {
		case string:
			return TextValue(x), nil
		case float64:
			return TextValue(strconv.FormatFloat(x, 'f', -1, 64)), nil
		case bool:
			return TextValue(strconv.FormatBool(x)), nil
		}
	case ColumnNumber:
		switch x := v.(type) {
		case float64:
			return NumberValue(x), nil
		case string:
			if strings.TrimSpace(x) == "" {
				return EmptyValue(t), nil
			}
			n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err == nil {
				return NumberValue(n), nil
			}
		}
	case ColumnDate:
		if x, ok := v.(string); ok {
			return DateValue(x), nil
		}
	case ColumnPerson:
		if ids, ok := personIDs(v); ok {
			return PersonValue(ids...), nil
		}
	case ColumnStatus, ColumnPriority:
		switch x := v.(type) {
		case string:
			return Value{Type: t, Set: x != "", LabelID: x}, nil
		case float64:
			return Value{Type: t, Set: true, LabelID: strconv.FormatFloat(x, 'f', -1, 64)}, nil
		}
	case ColumnProgress:
		switch x := v.(type) {
		case float64:
			return Value{Type: t, Set: true, Progress: clampProgress(x)}, nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err == nil {
				return Value{Type: t, Set: true, Progress: clampProgress(n)}, nil
			}
		}
	case ColumnCheckbox:
		switch x := v.(type) {
		case bool:
			return CheckboxValue(x), nil
		case string:
			b, err := strconv.ParseBool(x)
			if err == nil {
				return CheckboxValue(b), nil
			}
		}
	}
	return Value{}, fmt.Errorf("%w: %s: %s", ErrInvalidValue, t, raw)
}

// unwrap strips the object wrappers accepted around scalar values.
func unwrap(t ColumnType, obj map[string]any) any {
	keys := map[ColumnType][]string{
		ColumnText:     {"text", "value"},
		ColumnNumber:   {"number", "value"},
		ColumnDate:     {"date", "value"},
		ColumnPerson:   {"userIds", "personsAndTeams", "persons"},
		ColumnStatus:   {"labelId", "id", "index"},
		ColumnPriority: {"labelId", "id", "index"},
		ColumnProgress: {"progress", "value"},
		ColumnCheckbox: {"checked", "value"},
	}[t]
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v
		}
	}
	return obj
}

// personIDs accepts a list of ids or a list of {id} objects.
func personIDs(v any) ([]string, bool) {
	list, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok {
			if s == "" {
				return []string{}, true
			}
			return []string{s}, true
		}
		return nil, false
	}
	ids := make([]string, 0, len(list))
	for _, e := range list {
		switch x := e.(type) {
		case string:
			ids = append(ids, x)
		case float64:
			ids = append(ids, strconv.FormatFloat(x, 'f', -1, 64))
		case map[string]any:
			id, ok := x["id"]
			if !ok {
				return nil, false
			}
			switch y := id.(type) {
			case string:
				ids = append(ids, y)
			case float64:
				ids = append(ids, strconv.FormatFloat(y, 'f', -1, 64))
			default:
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return ids, true
}

func decodeFiles(raw []byte) (Value, error) {
	var files []File
	if raw[0] == '{' {
		var wrapped struct {
			Files []File `json:"files"`
		}
		if err := sonic.Unmarshal(raw, &wrapped); err != nil {
			return Value{}, fmt.Errorf("%w: files: %v", ErrInvalidValue, err)
		}
		files = wrapped.Files
	} else if err := sonic.Unmarshal(raw, &files); err != nil {
		return Value{}, fmt.Errorf("%w: files: %v", ErrInvalidValue, err)
	}
	return FilesValue(files...), nil
}

// clampProgress clamps before converting so huge inputs cannot overflow int.
func clampProgress(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	return int(math.Round(min(max(f, 0), 100)))
}

// Resolve decodes an unresolved value for column type t. Resolved values and
// values of unknown columns are returned unchanged.
func (v Value) Resolve(t ColumnType) (Value, error) {
	if v.Type != "" || t == "" {
		return v, nil
	}
	return DecodeValue(t, v.Raw)
}

// IsEmpty reports whether the value is cleared.
func (v Value) IsEmpty() bool { return !v.Set }

// MarshalJSON emits the canonical bare shape of the value.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Set {
		if v.Type == "" && len(v.Raw) > 0 {
			return v.Raw, nil
		}
		return []byte("null"), nil
	}
	switch v.Type {
	case ColumnText:
		return sonic.Marshal(v.Text)
	case ColumnNumber:
		return sonic.Marshal(v.Number)
	case ColumnDate:
		return sonic.Marshal(v.Date)
	case ColumnPerson:
		if v.UserIDs == nil {
			return []byte("[]"), nil
		}
		return sonic.Marshal(v.UserIDs)
	case ColumnStatus, ColumnPriority:
		return sonic.Marshal(v.LabelID)
	case ColumnProgress:
		return []byte(strconv.Itoa(v.Progress)), nil
	case ColumnCheckbox:
		return []byte(strconv.FormatBool(v.Checked)), nil
	case ColumnFiles:
		if v.Files == nil {
			return []byte("[]"), nil
		}
		return sonic.Marshal(v.Files)
	}
	if len(v.Raw) == 0 {
		return []byte("null"), nil
	}
	return v.Raw, nil
}

// UnmarshalJSON keeps the raw bytes. The value stays unresolved until the
// column type is known, see Resolve.
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = Value{Raw: append([]byte(nil), bytes.TrimSpace(data)...)}
	return nil
}

// String renders the value for search matching.
func (v Value) String() string {
	if !v.Set {
		return ""
	}
	switch v.Type {
	case ColumnText:
		return v.Text
	case ColumnNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case ColumnDate:
		return v.Date
	case ColumnPerson:
		return strings.Join(v.UserIDs, " ")
	case ColumnStatus, ColumnPriority:
		return v.LabelID
	case ColumnProgress:
		return strconv.Itoa(v.Progress)
	case ColumnCheckbox:
		if v.Checked {
			return "true"
		}
		return ""
	case ColumnFiles:
		names := make([]string, 0, len(v.Files))
		for _, f := range v.Files {
			names = append(names, f.Name)
		}
		return strings.Join(names, " ")
	}
	return string(v.Raw)
}

// Equal reports whether both values normalize to the same content.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || v.Set != o.Set {
		return false
	}
	if !v.Set {
		return v.Type != "" || bytes.Equal(v.Raw, o.Raw)
	}
	switch v.Type {
	case ColumnText:
		return v.Text == o.Text
	case ColumnNumber:
		return v.Number == o.Number
	case ColumnDate:
		return v.Date == o.Date
	case ColumnPerson:
		return slices.Equal(v.UserIDs, o.UserIDs)
	case ColumnStatus, ColumnPriority:
		return v.LabelID == o.LabelID
	case ColumnProgress:
		return v.Progress == o.Progress
	case ColumnCheckbox:
		return v.Checked == o.Checked
	case ColumnFiles:
		return slices.Equal(v.Files, o.Files)
	}
	return bytes.Equal(v.Raw, o.Raw)
}

// Clone returns a copy that shares no slices with v.
func (v Value) Clone() Value {
	if v.UserIDs != nil {
		v.UserIDs = slices.Clone(v.UserIDs)
	}
	if v.Files != nil {
		v.Files = slices.Clone(v.Files)
	}
	if v.Raw != nil {
		v.Raw = slices.Clone(v.Raw)
	}
	return v
}
