package api

import (
	"fmt"

	"crowdlink/internal/apperror"
	"crowdlink/internal/models"
)

// AttrFunc computes one serialized attribute of a resource. The dispatcher
// calls these for every non-column key a join profile names.
type AttrFunc func(c *Ctx, obj Resource) (interface{}, error)

// SetFunc applies one virtual field assignment on PUT, for fields that are
// not plain columns (vote_status, subscribed, report_status).
type SetFunc func(c *Ctx, obj Resource, val interface{}) error

// ActionFunc runs a named PATCH action. obj is nil for class actions.
type ActionFunc func(c *Ctx, obj Resource, params map[string]interface{}) (interface{}, error)

// Action declares a PATCH action's argument contract. A request missing a
// required argument, or carrying one neither list names, fails with a
// syntax error before the action runs.
type Action struct {
	Required []string
	Optional []string
	Fn       ActionFunc
}

// Meta is the complete declaration of one dispatched entity type.
type Meta struct {
	// Name is the URL segment and ACL entity name, e.g. "issue".
	Name string
	// New returns a pointer to a zero value of the model.
	New func() Resource
	// Preload lists relations loaded on every single-instance lookup so
	// Roles and AbsURL have what they need.
	Preload []string
	// Joins declares the named serialization profiles. Entries are plain
	// attribute keys, "-column" exclusions, the NoBase sentinel, or
	// "attr:profile" nested specs.
	Joins map[string][]string
	// Attrs computes every non-column key the profiles reference.
	Attrs map[string]AttrFunc
	// Editable overrides PUT assignment for virtual fields. Plain column
	// assignments go through schema reflection and need no entry here.
	Editable map[string]SetFunc

	Actions      map[string]Action
	ClassActions map[string]Action

	// Create builds and persists a new instance on POST. owner is the
	// caller, or the explicit other user an admin created for.
	Create func(c *Ctx, owner *models.User, params map[string]interface{}) (Resource, error)

	// Lookup resolves a single instance from alternative unique keys
	// (username, url_key pairs). Returns ok=false when the params carry
	// none of its keys, letting the dispatcher fall back to id or a
	// collection query.
	Lookup func(c *Ctx, params map[string]interface{}) (obj Resource, ok bool, err error)
	// LookupKeys are the parameter names Lookup consumes, stripped from
	// PUT's field loop so they aren't treated as assignments.
	LookupKeys []string

	profiles map[string]*JoinProfile
}

func (m *Meta) profile(name string) (*JoinProfile, error) {
	prof, ok := m.profiles[name]
	if !ok {
		return nil, apperror.Syntax("unknown join profile %q for %s", name, m.Name)
	}
	return prof, nil
}

var registry = map[string]*Meta{}

// Register compiles a Meta's join profiles and adds it to the dispatch
// table. Profiles referencing an attribute no AttrFunc computes are a
// programming error caught at boot.
func Register(m *Meta) {
	m.profiles = make(map[string]*JoinProfile, len(m.Joins))
	for name, entries := range m.Joins {
		prof := ParseProfile(entries)
		for _, key := range prof.Keys {
			if _, ok := m.Attrs[key]; !ok {
				panic(fmt.Sprintf("api: %s profile %s references unknown attr %q", m.Name, name, key))
			}
		}
		for _, nested := range prof.Nested {
			if _, ok := m.Attrs[nested.Attr]; !ok {
				panic(fmt.Sprintf("api: %s profile %s references unknown attr %q", m.Name, name, nested.Attr))
			}
		}
		m.profiles[name] = prof
	}
	registry[m.Name] = m
}

// MetaFor resolves a registered entity by name.
func MetaFor(name string) (*Meta, bool) {
	m, ok := registry[name]
	return m, ok
}
