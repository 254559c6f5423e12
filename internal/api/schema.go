package api

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"crowdlink/internal/acl"
	"crowdlink/internal/apperror"
	"crowdlink/internal/events"
	"crowdlink/internal/models"
)

var schemaCache = &sync.Map{}

func modelSchema(db *gorm.DB, obj interface{}) (*schema.Schema, error) {
	return schema.Parse(obj, schemaCache, db.NamingStrategy)
}

// jsonKey is the key a column serializes under: the json tag when present,
// the column name otherwise. A "-" tag means the column never serializes.
func jsonKey(field *schema.Field) (string, bool) {
	tag := field.StructField.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	name := strings.SplitN(tag, ",", 2)[0]
	if name == "" {
		name = field.DBName
	}
	return name, true
}

// baseDict renders every serializable native column of a model, the step a
// join profile's base pass performs before attribute overlays.
func baseDict(c *Ctx, obj Resource) (map[string]interface{}, error) {
	sch, err := modelSchema(c.DB, obj)
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(obj)
	dct := make(map[string]interface{}, len(sch.DBNames))
	for _, dbName := range sch.DBNames {
		field := sch.FieldsByDBName[dbName]
		key, ok := jsonKey(field)
		if !ok {
			continue
		}
		val, _ := field.ValueOf(context.Background(), rv)
		dct[key] = convert(val)
	}
	return dct, nil
}

// setColumn assigns one plain column on PUT, resolving the client-supplied
// name against the model schema. Unknown names and hidden columns are
// client errors.
func setColumn(c *Ctx, obj Resource, name string, val interface{}) error {
	sch, err := modelSchema(c.DB, obj)
	if err != nil {
		return err
	}
	field := lookUpField(sch, name)
	if field == nil {
		return apperror.Syntax("unknown field %q", name)
	}
	if _, ok := jsonKey(field); !ok {
		return apperror.Syntax("unknown field %q", name)
	}
	if err := field.Set(context.Background(), reflect.ValueOf(obj), val); err != nil {
		return apperror.Syntax("bad value for field %q", name)
	}
	return nil
}

// lookUpField resolves a client-facing name to a schema field, accepting
// the json key, the column name, or the struct field name.
func lookUpField(sch *schema.Schema, name string) *schema.Field {
	for _, dbName := range sch.DBNames {
		field := sch.FieldsByDBName[dbName]
		if key, ok := jsonKey(field); ok && key == name {
			return field
		}
	}
	if field := sch.LookUpField(name); field != nil && field.DBName != "" {
		return field
	}
	return nil
}

// convert post-processes values into their wire shapes: timestamps as
// milliseconds since epoch, enums as name to index maps, token sets as
// name to true maps, feeds as tagged dicts.
func convert(val interface{}) interface{} {
	switch v := val.(type) {
	case time.Time:
		return v.UnixMilli()
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.UnixMilli()
	case models.Enum:
		return v.Map()
	case acl.Set:
		out := make(map[string]bool, len(v))
		for _, key := range v.Keys() {
			out[key] = true
		}
		return out
	case events.List:
		return events.Dicts(v)
	}
	return val
}

func typeName(obj Resource) string {
	t := reflect.TypeOf(obj)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
