// Package api implements the generic CRUD dispatcher: a single set of
// GET/POST/PUT/PATCH/DELETE verbs served over every registered entity type.
// Per-entity behavior is declared in a Meta (join profiles, computed
// attributes, actions) rather than written as endpoint code.
package api

import (
	"strconv"

	"gorm.io/gorm"

	"crowdlink/internal/models"
)

// Ctx carries the per-request state every dispatcher call needs: the
// database handle and the authenticated caller. User is nil for anonymous
// requests.
type Ctx struct {
	DB   *gorm.DB
	User *models.User
}

// Resource is the contract every dispatched entity satisfies.
type Resource interface {
	PrimaryID() uint
	ACLName() string
	Roles(u *models.User) []string
}

// toUint coerces a parameter that may arrive as a query-string value or a
// JSON number.
func toUint(v interface{}) (uint, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint(n), true
	case uint:
		return n, true
	case string:
		parsed, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return uint(parsed), true
	}
	return 0, false
}

func toString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func toInt(v interface{}, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}
