package events

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// registry maps the _cls tag stored with each event to a constructor for
// the matching concrete type. Unknown tags are dropped on decode rather
// than failing the whole row; old feeds may reference retired event types.
var registry = map[string]func() Eventer{
	"IssueNotif":   func() Eventer { return &IssueNotif{} },
	"CommentNotif": func() Eventer { return &CommentNotif{} },
	"Comment":      func() Eventer { return &Comment{} },
}

// List is an event feed persisted as a JSON array in a text column. Decode
// dispatches on the _cls tag each element was stored with.
type List []Eventer

// Clone deep-copies an event through its JSON form. Deliveries to
// different feeds carry different origins, so each append gets its own
// copy.
func Clone(ev Eventer) Eventer {
	raw, err := json.Marshal(ev)
	if err != nil {
		return ev
	}
	cp := registry[ev.Kind()]()
	if err := json.Unmarshal(raw, cp); err != nil {
		return ev
	}
	return cp
}

// Dict renders one event the way feeds serialize it: the concrete fields
// plus the _cls tag and render template.
func Dict(ev Eventer) map[string]interface{} {
	raw, err := json.Marshal(ev)
	if err != nil {
		return map[string]interface{}{"_cls": ev.Kind()}
	}
	dct := map[string]interface{}{}
	_ = json.Unmarshal(raw, &dct)
	dct["_cls"] = ev.Kind()
	dct["template"] = ev.Template()
	return dct
}

// Dicts renders a whole feed for API responses.
func Dicts(lst List) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(lst))
	for _, ev := range lst {
		out = append(out, Dict(ev))
	}
	return out
}

func (l List) Value() (driver.Value, error) {
	dicts := make([]map[string]interface{}, 0, len(l))
	for _, ev := range l {
		dicts = append(dicts, Dict(ev))
	}
	raw, err := json.Marshal(dicts)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (l *List) Scan(value interface{}) error {
	if value == nil {
		*l = List{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("events: cannot scan %T into List", value)
	}
	if len(raw) == 0 {
		*l = List{}
		return nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return err
	}
	out := make(List, 0, len(elems))
	for _, elem := range elems {
		var tag struct {
			Cls string `json:"_cls"`
		}
		if err := json.Unmarshal(elem, &tag); err != nil {
			return err
		}
		factory, ok := registry[tag.Cls]
		if !ok {
			continue
		}
		ev := factory()
		if err := json.Unmarshal(elem, ev); err != nil {
			return err
		}
		out = append(out, ev)
	}
	*l = out
	return nil
}
