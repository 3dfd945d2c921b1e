package resolvers

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/pkg/errors"

	schema "github.com/hanpama/appsynclocal/internal/schema"
)

// SerializeLeaf converts a resolved scalar or enum value into a JSON-safe
// value for the named type.
func SerializeLeaf(sch *schema.Schema, typeName string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	value = deref(value)
	if value == nil {
		return nil, nil
	}

	if t := sch.Types[typeName]; t != nil && t.Kind == schema.TypeKindEnum {
		return serializeEnum(t, value)
	}

	switch typeName {
	case "Int", "AWSTimestamp":
		if ts, ok := value.(time.Time); ok && typeName == "AWSTimestamp" {
			return ts.Unix(), nil
		}
		return serializeInt(value)
	case "Float":
		return serializeFloat(value)
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, errors.Errorf("Boolean cannot represent %T", value)
	case "String", "ID", "AWSEmail", "AWSURL", "AWSPhone", "AWSIPAddress":
		return serializeString(typeName, value)
	case "AWSDateTime":
		return serializeTime(value, time.RFC3339Nano)
	case "AWSDate":
		return serializeTime(value, "2006-01-02")
	case "AWSTime":
		return serializeTime(value, "15:04:05.000Z07:00")
	case "AWSJSON":
		if s, ok := value.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Wrap(err, "AWSJSON")
		}
		return string(b), nil
	}
	return value, nil
}

func deref(value any) any {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

func serializeEnum(t *schema.Type, value any) (any, error) {
	var name string
	switch v := value.(type) {
	case string:
		name = v
	case fmt.Stringer:
		name = v.String()
	default:
		return nil, errors.Errorf("enum %s cannot represent %T", t.Name, value)
	}
	for _, ev := range t.EnumValues {
		if ev.Name == name {
			return name, nil
		}
	}
	return nil, errors.Errorf("enum %s cannot represent value %q", t.Name, name)
}

func serializeInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int8, int16, int32, int64, uint8, uint16, uint32:
		return reflect.ValueOf(v).Convert(reflect.TypeOf(int64(0))).Interface(), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, errors.Errorf("Int cannot represent %d", v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, errors.Errorf("Int cannot represent %d", v)
		}
		return int64(v), nil
	case float32:
		return serializeInt(float64(v))
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, errors.Errorf("Int cannot represent non-integer value %v", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Errorf("Int cannot represent %q", v)
		}
		return n, nil
	}
	return nil, errors.Errorf("Int cannot represent %T", value)
}

func serializeFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return reflect.ValueOf(v).Convert(reflect.TypeOf(float64(0))).Interface(), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.Errorf("Float cannot represent %q", v)
		}
		return f, nil
	}
	return nil, errors.Errorf("Float cannot represent %T", value)
}

func serializeString(typeName string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case bool:
		if typeName == "ID" {
			return nil, errors.Errorf("ID cannot represent %T", value)
		}
		return strconv.FormatBool(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(v), nil
	}
	return nil, errors.Errorf("%s cannot represent %T", typeName, value)
}

func serializeTime(value any, layout string) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(layout), nil
	case string:
		return v, nil
	}
	return nil, errors.Errorf("cannot serialize %T as a date/time", value)
}
