package stdlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/heyvm/values"
)

func jsonEncode(t *testing.T, v *values.Value) string {
	t.Helper()
	entry, ok := ByName("json_encode")
	require.True(t, ok)
	out, err := entry.Fn(nil, []*values.Value{v})
	require.NoError(t, err)
	return out.ToString()
}

func jsonDecode(t *testing.T, s string) *values.Value {
	t.Helper()
	entry, ok := ByName("json_decode")
	require.True(t, ok)
	out, err := entry.Fn(nil, []*values.Value{values.NewString(s)})
	require.NoError(t, err)
	return out
}

func TestJSONEncodeListVsObject(t *testing.T) {
	list := values.NewArray()
	list.ArrayAppend(values.NewInt(1))
	list.ArrayAppend(values.NewInt(2))
	assert.Equal(t, "[1,2]", jsonEncode(t, list))

	obj := values.NewArray()
	obj.ArraySet(values.NewString("a"), values.NewInt(1))
	assert.Equal(t, `{"a":1}`, jsonEncode(t, obj))

	// A gap in the integer keys demotes the array to a JSON object.
	gappy := values.NewArray()
	gappy.ArraySet(values.NewInt(0), values.NewString("x"))
	gappy.ArraySet(values.NewInt(2), values.NewString("y"))
	assert.Equal(t, `{"0":"x","2":"y"}`, jsonEncode(t, gappy))
}

func TestJSONRoundTripLooseEquality(t *testing.T) {
	orig := values.NewArray()
	orig.ArraySet(values.NewString("name"), values.NewString("ana"))
	orig.ArraySet(values.NewString("age"), values.NewInt(30))
	orig.ArraySet(values.NewString("score"), values.NewFloat(1.5))
	orig.ArraySet(values.NewString("active"), values.NewBool(true))
	orig.ArraySet(values.NewString("meta"), values.NewNull())
	nested := values.NewArray()
	nested.ArrayAppend(values.NewInt(1))
	nested.ArrayAppend(values.NewString("two"))
	orig.ArraySet(values.NewString("tags"), nested)

	decoded := jsonDecode(t, jsonEncode(t, orig))
	assert.True(t, orig.Equal(decoded), "decode(encode(v)) == v under loose equality")
}

func TestJSONDecodeScalars(t *testing.T) {
	assert.Equal(t, int64(5), jsonDecode(t, "5").ToInt())
	assert.True(t, jsonDecode(t, "5").IsInt(), "whole numbers decode as int")
	assert.True(t, jsonDecode(t, "5.5").IsFloat())
	assert.True(t, jsonDecode(t, "null").IsNull())
	assert.True(t, jsonDecode(t, "not json at all").IsNull(), "malformed input decodes to null")
}
