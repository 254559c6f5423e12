package api

import (
	"errors"
	"reflect"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crowdlink/internal/apperror"
	"crowdlink/internal/models"
)

// getObj resolves a single instance from the request parameters: the
// type's alternative unique keys first, the integer primary key second.
// Returns nil with no error when the params carry no lookup key at all.
func getObj(c *Ctx, m *Meta, params map[string]interface{}) (Resource, error) {
	if m.Lookup != nil {
		obj, ok, err := m.Lookup(c, params)
		if err != nil {
			return nil, err
		}
		if ok {
			return obj, nil
		}
	}
	raw, ok := params["id"]
	if !ok {
		return nil, nil
	}
	delete(params, "id")
	id, ok := toUint(raw)
	if !ok {
		return nil, apperror.Syntax("id must be a positive integer")
	}
	obj := m.New()
	query := c.DB
	for _, rel := range m.Preload {
		query = query.Preload(rel)
	}
	if err := query.First(obj, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound(m.Name)
		}
		return nil, err
	}
	return obj, nil
}

// Get retrieves a single instance when the params carry a lookup key, or
// runs a filtered, sorted, paginated collection query otherwise. Every
// returned object is permission-checked against the requested join
// profile.
func Get(c *Ctx, m *Meta, params map[string]interface{}) ([]map[string]interface{}, error) {
	join := DefaultJoin
	if raw, ok := params["join_prof"]; ok {
		delete(params, "join_prof")
		if s, ok := toString(raw); ok {
			join = s
		}
	}

	obj, err := getObj(c, m, params)
	if err != nil {
		return nil, err
	}
	if obj != nil {
		if !models.Can(obj, c.User, "view_"+join) {
			return nil, apperror.Forbidden()
		}
		dct, err := Serialize(c, m, obj, join)
		if err != nil {
			return nil, err
		}
		return []map[string]interface{}{dct}, nil
	}

	query := c.DB.Model(m.New())
	for _, rel := range m.Preload {
		query = query.Preload(rel)
	}
	query, err = search(c, m, query, params)
	if err != nil {
		return nil, err
	}

	one := truthy(params["__one"])
	delete(params, "__one")
	if one {
		query = query.Limit(2)
	} else {
		query = paginate(query, params)
	}

	objs, err := findAll(query, m)
	if err != nil {
		return nil, err
	}
	if one {
		if len(objs) == 0 {
			return nil, apperror.NotFound(m.Name)
		}
		if len(objs) > 1 {
			return nil, apperror.Syntax("only one result requested, but multiple results found")
		}
	}

	out := make([]map[string]interface{}, 0, len(objs))
	for _, item := range objs {
		if !models.Can(item, c.User, "view_"+join) {
			return nil, apperror.Forbidden()
		}
		dct, err := Serialize(c, m, item, join)
		if err != nil {
			return nil, err
		}
		out = append(out, dct)
	}
	return out, nil
}

func findAll(query *gorm.DB, m *Meta) ([]Resource, error) {
	elemType := reflect.TypeOf(m.New())
	slice := reflect.New(reflect.SliceOf(elemType))
	if err := query.Find(slice.Interface()).Error; err != nil {
		return nil, err
	}
	elems := slice.Elem()
	out := make([]Resource, 0, elems.Len())
	for i := 0; i < elems.Len(); i++ {
		out = append(out, elems.Index(i).Interface().(Resource))
	}
	return out, nil
}

// Post creates a new instance. Ownership defaults to the caller; an
// explicit __username or __user_id requires the create-for-other class
// permission and resolves the named user instead.
func Post(c *Ctx, m *Meta, params map[string]interface{}) (map[string]interface{}, error) {
	if m.Create == nil {
		return nil, apperror.Forbidden()
	}

	var owner *models.User
	rawName, hasName := params["__username"]
	rawID, hasID := params["__user_id"]
	if hasName || hasID {
		if !models.CanCls(m.Name, c.User, "class_create_other") {
			return nil, apperror.Forbidden()
		}
		query := c.DB
		if hasID {
			id, ok := toUint(rawID)
			if !ok {
				return nil, apperror.Syntax("__user_id must be a positive integer")
			}
			query = query.Where("id = ?", id)
		}
		if hasName {
			name, ok := toString(rawName)
			if !ok {
				return nil, apperror.Syntax("__username must be a string")
			}
			query = query.Where("username = ?", strings.ToLower(name))
		}
		var target models.User
		if err := query.First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperror.NotFound("user")
			}
			return nil, err
		}
		owner = &target
		delete(params, "__username")
		delete(params, "__user_id")
	} else {
		if !models.CanCls(m.Name, c.User, "class_create") {
			return nil, apperror.Forbidden()
		}
		owner = c.User
	}

	obj, err := m.Create(c, owner, params)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	return Serialize(c, m, obj, DefaultJoin)
}

// Put updates plain fields one by one. Each field name is individually
// permission-checked before assignment; the first forbidden field aborts
// the whole request with nothing written.
func Put(c *Ctx, m *Meta, params map[string]interface{}) error {
	obj, err := getObj(c, m, params)
	if err != nil {
		return err
	}
	if obj == nil {
		return apperror.Syntax("no lookup key provided")
	}

	skip := map[string]bool{"id": true}
	for _, key := range m.LookupKeys {
		skip[key] = true
	}
	type virtual struct {
		set SetFunc
		val interface{}
	}
	var virtuals []virtual
	columns := false
	for key, val := range params {
		if skip[key] {
			continue
		}
		if !models.Can(obj, c.User, "edit_"+key) {
			return apperror.Forbidden()
		}
		if setter, ok := m.Editable[key]; ok {
			virtuals = append(virtuals, virtual{setter, val})
			continue
		}
		if err := setColumn(c, obj, key, val); err != nil {
			return err
		}
		columns = true
	}

	// Virtual setters run after every permission check has passed so a
	// late forbidden field cannot leave their side effects behind. They
	// persist their own state; the instance is only re-saved when a plain
	// column actually changed.
	for _, v := range virtuals {
		if err := v.set(c, obj, v.val); err != nil {
			return err
		}
	}
	if !columns {
		return nil
	}
	return c.DB.Omit(clause.Associations).Save(obj).Error
}

// Patch invokes a named action on a resolved instance, or on the class
// itself when __cls is set. The action name is permission-checked before
// dispatch and the argument list is validated against the action's
// declared contract.
func Patch(c *Ctx, m *Meta, params map[string]interface{}) (interface{}, error) {
	rawAction, ok := params["__action"]
	if !ok {
		return nil, apperror.Syntax("__action is required")
	}
	delete(params, "__action")
	name, ok := toString(rawAction)
	if !ok {
		return nil, apperror.Syntax("__action must be a string")
	}
	cls := truthy(params["__cls"])
	delete(params, "__cls")

	if cls {
		if !models.CanCls(m.Name, c.User, "action_"+name) {
			return nil, apperror.Forbidden()
		}
		act, ok := m.ClassActions[name]
		if !ok {
			return nil, apperror.Syntax("unknown action %q on %s", name, m.Name)
		}
		if err := checkArity(act, params); err != nil {
			return nil, err
		}
		return act.Fn(c, nil, params)
	}

	obj, err := getObj(c, m, params)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, apperror.Syntax("no lookup key provided")
	}
	for _, key := range m.LookupKeys {
		delete(params, key)
	}
	if !models.Can(obj, c.User, "action_"+name) {
		return nil, apperror.Forbidden()
	}
	act, ok := m.Actions[name]
	if !ok {
		return nil, apperror.Syntax("unknown action %q on %s", name, m.Name)
	}
	if err := checkArity(act, params); err != nil {
		return nil, err
	}
	return act.Fn(c, obj, params)
}

// Delete removes a single permission-checked instance and reports how
// many rows went away.
func Delete(c *Ctx, m *Meta, params map[string]interface{}) (int64, error) {
	obj, err := getObj(c, m, params)
	if err != nil {
		return 0, err
	}
	if obj == nil {
		return 0, apperror.Syntax("no lookup key provided")
	}
	if !models.Can(obj, c.User, "delete") {
		return 0, apperror.Forbidden()
	}
	res := c.DB.Delete(obj)
	return res.RowsAffected, res.Error
}

func checkArity(act Action, params map[string]interface{}) error {
	for _, req := range act.Required {
		if _, ok := params[req]; !ok {
			return apperror.Syntax("action missing required argument %q", req)
		}
	}
	allowed := make(map[string]bool, len(act.Required)+len(act.Optional))
	for _, key := range act.Required {
		allowed[key] = true
	}
	for _, key := range act.Optional {
		allowed[key] = true
	}
	for key := range params {
		if !allowed[key] {
			return apperror.Syntax("unexpected action argument %q", key)
		}
	}
	return nil
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1"
	case float64:
		return b != 0
	case int:
		return b != 0
	}
	return false
}
