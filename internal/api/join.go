package api

import (
	"strings"

	"crowdlink/internal/apperror"
)

// NoBase is the profile sentinel suppressing the native-column pass, for
// profiles that enumerate every key themselves.
const NoBase = "__dont_base"

// DefaultJoin is the profile used when a request or nested spec names none.
const DefaultJoin = "standard_join"

// NestedSpec serializes a related object under Attr using the named
// profile of the related object's own type.
type NestedSpec struct {
	Attr string
	Prof string
}

// JoinProfile is one compiled serialization profile.
type JoinProfile struct {
	Base   bool
	Keys   []string
	Omit   []string
	Nested []NestedSpec
}

// ParseProfile compiles a profile declaration. Entries are the NoBase
// sentinel, "-column" exclusions, "attr:profile" nested specs, or plain
// attribute keys.
func ParseProfile(entries []string) *JoinProfile {
	prof := &JoinProfile{Base: true}
	for _, entry := range entries {
		switch {
		case entry == NoBase:
			prof.Base = false
		case strings.HasPrefix(entry, "-"):
			prof.Omit = append(prof.Omit, strings.TrimPrefix(entry, "-"))
		case strings.Contains(entry, ":"):
			parts := strings.SplitN(entry, ":", 2)
			nested := NestedSpec{Attr: parts[0], Prof: parts[1]}
			if nested.Prof == "" {
				nested.Prof = DefaultJoin
			}
			prof.Nested = append(prof.Nested, nested)
		default:
			prof.Keys = append(prof.Keys, entry)
		}
	}
	return prof
}

// Serialize renders one resource under the named join profile: the base
// column pass minus exclusions, attribute overlays, the type tag, then
// nested objects each under their own type's profile.
func Serialize(c *Ctx, m *Meta, obj Resource, profName string) (map[string]interface{}, error) {
	prof, err := m.profile(profName)
	if err != nil {
		return nil, err
	}

	dct := map[string]interface{}{}
	if prof.Base {
		base, err := baseDict(c, obj)
		if err != nil {
			return nil, err
		}
		for _, key := range prof.Omit {
			delete(base, key)
		}
		dct = base
	}

	for _, key := range prof.Keys {
		val, err := m.Attrs[key](c, obj)
		if err != nil {
			return nil, err
		}
		dct[key] = convert(val)
	}
	dct["_cls"] = typeName(obj)

	for _, nested := range prof.Nested {
		val, err := m.Attrs[nested.Attr](c, obj)
		if err != nil {
			return nil, err
		}
		rendered, err := serializeNested(c, val, nested.Prof)
		if err != nil {
			return nil, err
		}
		dct[nested.Attr] = rendered
	}
	return dct, nil
}

func serializeNested(c *Ctx, val interface{}, profName string) (interface{}, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case Resource:
		sub, ok := MetaFor(v.ACLName())
		if !ok {
			return nil, apperror.Syntax("no registered type for %q", v.ACLName())
		}
		return Serialize(c, sub, v, profName)
	case []Resource:
		out := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			sub, ok := MetaFor(item.ACLName())
			if !ok {
				return nil, apperror.Syntax("no registered type for %q", item.ACLName())
			}
			dct, err := Serialize(c, sub, item, profName)
			if err != nil {
				return nil, err
			}
			out = append(out, dct)
		}
		return out, nil
	}
	return convert(val), nil
}
