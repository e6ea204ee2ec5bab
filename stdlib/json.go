package stdlib

import (
	"encoding/json"

	"github.com/wudi/heyvm/heap"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// toJSONable converts a *values.Value into plain Go data encoding/json can
// marshal, the bridge between the tagged-union runtime value and the
// standard library's reflection-based encoder.
func toJSONable(v *values.Value) interface{} {
	v = v.Deref()
	switch {
	case v.IsNull():
		return nil
	case v.IsBool():
		return v.ToBool()
	case v.IsInt():
		return v.ToInt()
	case v.IsFloat():
		return v.ToFloat()
	case v.IsString():
		return v.ToString()
	case v.IsArray():
		return arrayToJSONable(v)
	case v.IsObject():
		return objectToJSONable(v)
	default:
		return v.ToString()
	}
}

// arrayToJSONable emits a JSON array when keys are a contiguous 0-based
// int sequence (a PHP "list"), and a JSON object otherwise, matching
// json_encode's own list-detection rule.
func arrayToJSONable(v *values.Value) interface{} {
	keys := v.ArrayKeys()
	if isList(keys) {
		out := make([]interface{}, len(keys))
		for i, k := range keys {
			out[i] = toJSONable(v.ArrayGet(k))
		}
		return out
	}
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		out[k.ToString()] = toJSONable(v.ArrayGet(k))
	}
	return out
}

func isList(keys []*values.Value) bool {
	for i, k := range keys {
		if !k.IsInt() || k.ToInt() != int64(i) {
			return false
		}
	}
	return true
}

func objectToJSONable(v *values.Value) interface{} {
	o := v.Deref()
	out := map[string]interface{}{}
	for _, name := range o.ObjectPropertyNames() {
		out[name] = toJSONable(o.ObjectGet(name))
	}
	return out
}

// fromJSON converts decoded Go data back into a *values.Value tree. PHP
// objects decode to associative arrays here regardless of the assoc flag;
// json_decode never builds stdClass objects.
func fromJSON(v interface{}) *values.Value {
	switch t := v.(type) {
	case nil:
		return values.NewNull()
	case bool:
		return values.NewBool(t)
	case float64:
		if t == float64(int64(t)) {
			return values.NewInt(int64(t))
		}
		return values.NewFloat(t)
	case string:
		return values.NewString(t)
	case []interface{}:
		arr := values.NewArray()
		for _, item := range t {
			child := fromJSON(item)
			arr.ArrayAppend(child) // the array's edge retains it
			child.Release(heap.Active())
		}
		return arr
	case map[string]interface{}:
		arr := values.NewArray()
		for k, item := range t {
			key := values.NewString(k)
			child := fromJSON(item)
			arr.ArraySet(key, child)
			key.Release(heap.Active())
			child.Release(heap.Active())
		}
		return arr
	default:
		return values.NewNull()
	}
}

func init() {
	define("json_encode", 1, 2, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		data := toJSONable(args[0])
		var out []byte
		var err error
		if len(args) > 1 && args[1].ToInt()&128 != 0 { // JSON_PRETTY_PRINT
			out, err = json.MarshalIndent(data, "", "    ")
		} else {
			out, err = json.Marshal(data)
		}
		if err != nil {
			return values.NewBool(false), nil
		}
		return values.NewString(string(out)), nil
	})

	define("json_decode", 1, 3, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		var data interface{}
		if err := json.Unmarshal([]byte(args[0].ToString()), &data); err != nil {
			return values.NewNull(), nil
		}
		return fromJSON(data), nil
	})
}
