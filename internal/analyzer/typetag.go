package analyzer

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"

	"hybriddb/internal/domain"
)

// ── Type tagging ───────────────────────────────────────────
// Tags are structural: a numeric string is a string, and 30, 30.0 and
// json.Number("30") are all int.

type absent struct{}

// Absent is the value passed for a known field missing from a record.
var Absent any = absent{}

// TagOf returns the structural type tag of v. It never fails; values it
// cannot classify are tagged unknown.
func TagOf(v any) domain.TypeTag {
	switch x := v.(type) {
	case nil, absent:
		return domain.TypeNull
	case bool:
		return domain.TypeBool
	case string:
		return domain.TypeString
	case json.Number:
		return numberTag(string(x))
	case float64:
		return floatTag(x)
	case float32:
		return floatTag(float64(x))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return domain.TypeInt
	case []any:
		return domain.TypeArray
	case map[string]any:
		return domain.TypeObject
	}
	return reflectTag(reflect.ValueOf(v))
}

func reflectTag(rv reflect.Value) domain.TypeTag {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return domain.TypeNull
		}
		return TagOf(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		return domain.TypeArray
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return domain.TypeObject
		}
	case reflect.String:
		return domain.TypeString
	case reflect.Bool:
		return domain.TypeBool
	}
	return domain.TypeUnknown
}

func floatTag(f float64) domain.TypeTag {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return domain.TypeFloat
	}
	if f == math.Trunc(f) {
		return domain.TypeInt
	}
	return domain.TypeFloat
}

func numberTag(s string) domain.TypeTag {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return domain.TypeInt
	}
	f, ok := new(big.Float).SetString(s)
	if !ok {
		return domain.TypeUnknown
	}
	if f.IsInt() {
		return domain.TypeInt
	}
	return domain.TypeFloat
}

// valueKey is the canonical identity of a value for distinct counting.
// Numerically equal values share a key whatever their representation.
// Nulls have no key.
func valueKey(v any, tag domain.TypeTag) (string, bool) {
	switch tag {
	case domain.TypeNull:
		return "", false
	case domain.TypeString:
		if s, ok := v.(string); ok {
			return "s:" + s, true
		}
		return "s:" + fmt.Sprint(v), true
	case domain.TypeBool:
		return "b:" + fmt.Sprint(v), true
	case domain.TypeInt, domain.TypeFloat:
		return "n:" + numberText(v), true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "x:" + fmt.Sprintf("%#v", v), true
	}
	return "j:" + string(b), true
}

func numberText(v any) string {
	var f *big.Float
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		pf, ok := new(big.Float).SetString(string(x))
		if !ok {
			return string(x)
		}
		f = pf
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return strconv.FormatFloat(x, 'g', -1, 64)
		}
		if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return numberText(float64(x))
	default:
		return fmt.Sprint(v)
	}
	if f.IsInt() {
		i, _ := f.Int(nil)
		return i.String()
	}
	return f.Text('g', -1)
}
