// Package acl compiles the YAML access-control file into role → token-set
// maps. Tokens are flat capability strings ("view_standard_join",
// "edit_title", "action_vote", "class_create"); a request is allowed when
// the union of the caller's roles contains the needed token.
package acl

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Set is a compiled collection of ACL tokens.
type Set map[string]struct{}

func (s Set) Has(token string) bool {
	_, ok := s[token]
	return ok
}

func (s Set) add(tokens ...string) {
	for _, t := range tokens {
		s[t] = struct{}{}
	}
}

func (s Set) union(other Set) {
	for t := range other {
		s[t] = struct{}{}
	}
}

// Keys returns the tokens sorted, for stable serialization.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for t := range s {
		keys = append(keys, t)
	}
	sort.Strings(keys)
	return keys
}

// roleSpec is the YAML shape of one role's grants. The view/edit/action/
// class lists precipitate prefixed tokens; grant holds tokens used as-is.
type roleSpec struct {
	Inherit []string `yaml:"inherit"`
	View    []string `yaml:"view"`
	Edit    []string `yaml:"edit"`
	Action  []string `yaml:"action"`
	Class   []string `yaml:"class"`
	Grant   []string `yaml:"grant"`
}

// Index holds the compiled tables for every entity type.
type Index struct {
	entities map[string]map[string]Set
}

// Parse compiles a YAML ACL document, resolving inherit chains within each
// entity. Inheriting an undefined role is a configuration error.
func Parse(data []byte) (*Index, error) {
	var doc map[string]map[string]roleSpec
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("acl: %w", err)
	}

	ix := &Index{entities: make(map[string]map[string]Set, len(doc))}
	for entity, roles := range doc {
		compiled := make(map[string]Set, len(roles))
		for name := range roles {
			set, err := compileRole(entity, name, roles, nil)
			if err != nil {
				return nil, err
			}
			compiled[name] = set
		}
		ix.entities[entity] = compiled
	}
	return ix, nil
}

func compileRole(entity, name string, roles map[string]roleSpec, seen []string) (Set, error) {
	for _, prev := range seen {
		if prev == name {
			return nil, fmt.Errorf("acl: inherit cycle through %q in entity %q", name, entity)
		}
	}
	spec, ok := roles[name]
	if !ok {
		return nil, fmt.Errorf("acl: entity %q inherits undefined role %q", entity, name)
	}

	set := Set{}
	for _, parent := range spec.Inherit {
		parentSet, err := compileRole(entity, parent, roles, append(seen, name))
		if err != nil {
			return nil, err
		}
		set.union(parentSet)
	}
	set.add(prefix("view", spec.View)...)
	set.add(prefix("edit", spec.Edit)...)
	set.add(prefix("action", spec.Action)...)
	set.add(prefix("class", spec.Class)...)
	set.add(spec.Grant...)
	return set, nil
}

func prefix(p string, keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = p + "_" + k
	}
	return out
}

// LoadFile reads and compiles an ACL file.
func LoadFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("acl: %w", err)
	}
	return Parse(data)
}

// Mix returns the union of token sets for the given roles on an entity.
// Unknown roles contribute nothing.
func (ix *Index) Mix(entity string, roles []string) Set {
	allowed := Set{}
	table, ok := ix.entities[entity]
	if !ok {
		return allowed
	}
	for _, role := range roles {
		allowed.union(table[role])
	}
	return allowed
}

// Can reports whether any of the roles grants the token on the entity.
func (ix *Index) Can(entity string, roles []string, token string) bool {
	return ix.Mix(entity, roles).Has(token)
}

// Default is the process-wide index, loaded once at boot.
var Default = &Index{entities: map[string]map[string]Set{}}

func SetDefault(ix *Index) { Default = ix }
