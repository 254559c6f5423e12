package models

import (
	"crowdlink/internal/acl"
)

// Thing discriminant values. Polymorphic relations (votes, subscriptions,
// reports, earmarks) store one of these alongside the row id instead of an
// open-ended foreign key.
const (
	ThingIssue    = "Issue"
	ThingProject  = "Project"
	ThingSolution = "Solution"
	ThingUser     = "User"
)

// Thingy is implemented by every model that can be the target of a vote,
// subscription, report or earmark.
type Thingy interface {
	ThingRef() (thingType string, id uint)
}

// Enum is an ordered list of state names for an integer status column.
// Serialized as a name → index map so clients can translate both ways.
type Enum []string

func (e Enum) Name(i int) string {
	if i < 0 || i >= len(e) {
		return ""
	}
	return e[i]
}

func (e Enum) Index(name string) int {
	for i, n := range e {
		if n == name {
			return i
		}
	}
	return -1
}

func (e Enum) Map() map[string]int {
	m := make(map[string]int, len(e))
	for i, n := range e {
		m[n] = i
	}
	return m
}

// RoleHolder is the slice of the model contract the ACL checks need.
type RoleHolder interface {
	ACLName() string
	Roles(u *User) []string
}

// GlobalRoles are the roles a user holds independent of any instance. A nil
// user is the anonymous caller.
func GlobalRoles(u *User) []string {
	if u == nil {
		return []string{"anonymous"}
	}
	roles := []string{"user"}
	if u.Role == "admin" {
		roles = append(roles, "admin")
	}
	return roles
}

// UserACL is the full token set a user holds on an object instance.
func UserACL(obj RoleHolder, u *User) acl.Set {
	roles := append(obj.Roles(u), GlobalRoles(u)...)
	return acl.Default.Mix(obj.ACLName(), roles)
}

// Can answers instance-level permission checks.
func Can(obj RoleHolder, u *User, token string) bool {
	return UserACL(obj, u).Has(token)
}

// CanCls answers class-level checks (creation, class actions), which use
// only global roles.
func CanCls(entity string, u *User, token string) bool {
	return acl.Default.Can(entity, GlobalRoles(u), token)
}
