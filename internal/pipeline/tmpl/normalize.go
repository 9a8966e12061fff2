package tmpl

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Templater lets domain types choose their template representation.
type Templater interface {
	TemplateData() map[string]interface{}
}

var nullTokens = map[string]struct{}{
	"null": {}, "none": {}, "nil": {}, "undefined": {}, "<nil>": {},
}

// Normalize deep-copies data into the template value model (string, bool, int64,
// float64, []interface{}, map[string]interface{}) and replaces absent values and
// null-like tokens with "".
func Normalize(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		if _, isNull := nullTokens[strings.ToLower(strings.TrimSpace(x))]; isNull {
			return ""
		}
		return x
	case bool, int64, float64:
		return x
	case int:
		return int64(x)
	case map[string]interface{}:
		return Normalize(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = normalizeValue(item)
		}
		return out
	case []string:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = normalizeValue(item)
		}
		return out
	case Templater:
		return Normalize(x.TemplateData())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return normalizeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Sprint(v)
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizeValue(iter.Value().Interface())
		}
		return out
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return normalizeValue(rv.String())
	}
	return normalizeValue(fmt.Sprint(v))
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int64:
		return x != 0
	case float64:
		return x != 0
	case []interface{}:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	default:
		return true
	}
}
