package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"crowdlink/internal/apperror"
)

const maxPageSize = 100

// operator is one comparison predicate usable in a __filters clause.
// Unary operators take no value; binary ones take either a literal value
// or a second field name.
type operator struct {
	sql   string
	arity int
}

var operators = map[string]operator{
	"eq":          {"=", 1},
	"ne":          {"<>", 1},
	"gt":          {">", 1},
	"lt":          {"<", 1},
	"ge":          {">=", 1},
	"le":          {"<=", 1},
	"like":        {"LIKE", 1},
	"ilike":       {"ILIKE", 1},
	"in":          {"IN", 1},
	"not_in":      {"NOT IN", 1},
	"is_null":     {"IS NULL", 0},
	"is_not_null": {"IS NOT NULL", 0},
}

// operatorAliases folds the accepted spellings onto canonical names.
var operatorAliases = map[string]string{
	"==": "eq", "equals": "eq", "equal_to": "eq",
	"!=": "ne", "neq": "ne", "not_equal_to": "ne", "does_not_equal": "ne",
	">": "gt", "<": "lt",
	">=": "ge", "gte": "ge", "geq": "ge",
	"<=": "le", "lte": "le", "leq": "le",
}

type filterSpec struct {
	Op    string      `json:"op"`
	Name  string      `json:"name"`
	Val   interface{} `json:"val"`
	Field string      `json:"field"`
}

// search applies the __filters, __filter_by and __order_by parameters to a
// collection query. Every referenced field name is validated against the
// model schema; a bad name or operator is a client syntax error, distinct
// from not-found.
func search(c *Ctx, m *Meta, query *gorm.DB, params map[string]interface{}) (*gorm.DB, error) {
	sch, err := modelSchema(c.DB, m.New())
	if err != nil {
		return nil, err
	}

	if raw, ok := params["__filters"]; ok {
		delete(params, "__filters")
		specs, err := decodeFilters(raw)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			query, err = applyFilter(sch, query, spec, m.Name)
			if err != nil {
				return nil, err
			}
		}
	}

	if raw, ok := params["__order_by"]; ok {
		delete(params, "__order_by")
		keys, err := decodeStrings(raw)
		if err != nil {
			return nil, apperror.Syntax("__order_by must be a list of field names")
		}
		for _, key := range keys {
			desc := strings.HasPrefix(key, "-")
			name := strings.TrimPrefix(key, "-")
			field := lookUpField(sch, name)
			if field == nil {
				return nil, apperror.Syntax(
					"order_by key %q accessed invalid field on model %s", name, m.Name)
			}
			if desc {
				query = query.Order(field.DBName + " DESC")
			} else {
				query = query.Order(field.DBName)
			}
		}
	}

	if raw, ok := params["__filter_by"]; ok {
		delete(params, "__filter_by")
		pairs, err := decodeMap(raw)
		if err != nil {
			return nil, apperror.Syntax("__filter_by must be a JSON object")
		}
		conds := make(map[string]interface{}, len(pairs))
		for key, val := range pairs {
			field := lookUpField(sch, key)
			if field == nil {
				return nil, apperror.Syntax(
					"filter_by key %q accessed invalid field on model %s", key, m.Name)
			}
			conds[field.DBName] = val
		}
		if len(conds) > 0 {
			query = query.Where(conds)
		}
	}

	return query, nil
}

func applyFilter(sch *schema.Schema, query *gorm.DB, spec filterSpec, model string) (*gorm.DB, error) {
	name := spec.Op
	if canon, ok := operatorAliases[name]; ok {
		name = canon
	}
	op, ok := operators[name]
	if !ok {
		return nil, apperror.Syntax("unknown filter operator %q", spec.Op)
	}
	field := lookUpField(sch, spec.Name)
	if field == nil {
		return nil, apperror.Syntax(
			"filter operator %q accessed invalid field %q on model %s", spec.Op, spec.Name, model)
	}

	if op.arity == 0 {
		return query.Where(fmt.Sprintf("%s %s", field.DBName, op.sql)), nil
	}
	if spec.Field != "" {
		other := lookUpField(sch, spec.Field)
		if other == nil {
			return nil, apperror.Syntax(
				"filter operator %q accessed invalid field %q on model %s", spec.Op, spec.Field, model)
		}
		return query.Where(fmt.Sprintf("%s %s %s", field.DBName, op.sql, other.DBName)), nil
	}
	if spec.Val == nil {
		return nil, apperror.Syntax(
			"filter operator %q was missing required arguments on model %s", spec.Op, model)
	}
	return query.Where(fmt.Sprintf("%s %s ?", field.DBName, op.sql), spec.Val), nil
}

// paginate applies pg and pg_size, clamped to the server maximum.
func paginate(query *gorm.DB, params map[string]interface{}) *gorm.DB {
	size := toInt(params["pg_size"], maxPageSize)
	delete(params, "pg_size")
	if size > maxPageSize || size < 1 {
		size = maxPageSize
	}
	page := toInt(params["pg"], 1)
	delete(params, "pg")
	if page < 1 {
		page = 1
	}
	return query.Offset((page - 1) * size).Limit(size)
}

// decodeFilters accepts the parameter either as a JSON string (query
// param) or as an already-decoded body value.
func decodeFilters(raw interface{}) ([]filterSpec, error) {
	var specs []filterSpec
	switch v := raw.(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &specs); err != nil {
			return nil, apperror.Syntax("__filters must be a JSON list of filter clauses")
		}
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return nil, apperror.Syntax("__filters must be a JSON list of filter clauses")
		}
		if err := json.Unmarshal(buf, &specs); err != nil {
			return nil, apperror.Syntax("__filters must be a JSON list of filter clauses")
		}
	}
	return specs, nil
}

func decodeStrings(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case string:
		var keys []string
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			// a bare field name is accepted as a single-element list
			return []string{v}, nil
		}
		return keys, nil
	case []interface{}:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("not a string list")
			}
			keys = append(keys, s)
		}
		return keys, nil
	case []string:
		return v, nil
	}
	return nil, fmt.Errorf("not a string list")
}

func decodeMap(raw interface{}) (map[string]interface{}, error) {
	switch v := raw.(type) {
	case string:
		pairs := map[string]interface{}{}
		if err := json.Unmarshal([]byte(v), &pairs); err != nil {
			return nil, err
		}
		return pairs, nil
	case map[string]interface{}:
		return v, nil
	}
	return nil, fmt.Errorf("not a map")
}
