package values

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keysAsStrings(v *Value) []string {
	var out []string
	for _, k := range v.ArrayKeys() {
		out = append(out, k.ToString())
	}
	return out
}

func TestInsertionOrderPreserved(t *testing.T) {
	arr := NewArray()
	arr.ArraySet(NewString("b"), NewInt(2))
	arr.ArraySet(NewString("a"), NewInt(1))
	arr.ArraySet(NewString("c"), NewInt(3))

	assert.Equal(t, []string{"b", "a", "c"}, keysAsStrings(arr))

	// Updating an existing key keeps its original position.
	arr.ArraySet(NewString("b"), NewInt(20))
	assert.Equal(t, []string{"b", "a", "c"}, keysAsStrings(arr))
	assert.Equal(t, int64(20), arr.ArrayGet(NewString("b")).ToInt())
}

func TestUnsetThenReinsertMovesToEnd(t *testing.T) {
	arr := NewArray()
	arr.ArraySet(NewString("x"), NewInt(1))
	arr.ArraySet(NewString("y"), NewInt(2))
	arr.ArrayUnset(NewString("x"))
	arr.ArraySet(NewString("x"), NewInt(3))

	assert.Equal(t, []string{"y", "x"}, keysAsStrings(arr))
	assert.Equal(t, 2, arr.ArrayCount())
}

func TestNextIndexTracksMaxIntegerKey(t *testing.T) {
	arr := NewArray()
	arr.ArrayAppend(NewString("a")) // key 0
	arr.ArraySet(NewInt(10), NewString("b"))
	arr.ArrayAppend(NewString("c")) // key 11

	assert.Equal(t, []string{"0", "10", "11"}, keysAsStrings(arr))

	// Appending after an unset of the max key still advances, never reuses.
	arr.ArrayUnset(NewInt(11))
	arr.ArrayAppend(NewString("d")) // key 12
	assert.Equal(t, []string{"0", "10", "12"}, keysAsStrings(arr))
}

func TestNumericStringKeyCanonicalization(t *testing.T) {
	arr := NewArray()
	arr.ArraySet(NewString("7"), NewString("via string"))
	assert.Equal(t, "via string", arr.ArrayGet(NewInt(7)).ToString(),
		`"7" and 7 address the same slot`)

	arr.ArraySet(NewInt(7), NewString("via int"))
	assert.Equal(t, 1, arr.ArrayCount())
	assert.Equal(t, "via int", arr.ArrayGet(NewString("7")).ToString())

	// Leading zero keeps the string form: a distinct slot.
	arr.ArraySet(NewString("01"), NewString("leading zero"))
	assert.Equal(t, 2, arr.ArrayCount())
	assert.Equal(t, "leading zero", arr.ArrayGet(NewString("01")).ToString())
	assert.True(t, arr.ArrayGet(NewInt(1)).IsNull())

	// Overflowing int64 stays a string key.
	arr.ArraySet(NewString("99999999999999999999"), NewBool(true))
	assert.Equal(t, 3, arr.ArrayCount())

	// Negative canonical integers coerce; "-0" does not.
	k := StrKey("-3")
	assert.True(t, k.IsInt)
	assert.Equal(t, int64(-3), k.Int)
	assert.False(t, StrKey("-0").IsInt)
	assert.False(t, StrKey("+1").IsInt)
}

func TestKeyCoercionFromValues(t *testing.T) {
	arr := NewArray()
	arr.ArraySet(NewBool(true), NewString("t"))
	arr.ArraySet(NewFloat(2.9), NewString("f"))
	arr.ArraySet(NewNull(), NewString("n"))

	assert.Equal(t, "t", arr.ArrayGet(NewInt(1)).ToString())
	assert.Equal(t, "f", arr.ArrayGet(NewInt(2)).ToString(), "float keys truncate")
	assert.Equal(t, "n", arr.ArrayGet(NewString("")).ToString(), "null key is the empty string")
}

func TestSnapshotIgnoresLaterMutation(t *testing.T) {
	arr := NewArray()
	arr.ArraySet(NewString("a"), NewInt(1))
	arr.ArraySet(NewString("b"), NewInt(2))

	snap := arr.ArraySnapshot()
	require.Len(t, snap, 2)

	arr.ArrayUnset(NewString("a"))
	arr.ArraySet(NewString("c"), NewInt(3))

	assert.Equal(t, "a", snap[0].Key.String())
	assert.Equal(t, "b", snap[1].Key.String())
	assert.Len(t, snap, 2, "the snapshot is fixed at the moment it was taken")
}

func TestArrayUnionFirstWins(t *testing.T) {
	a := NewArray()
	a.ArraySet(NewString("k"), NewString("left"))
	b := NewArray()
	b.ArraySet(NewString("k"), NewString("right"))
	b.ArraySet(NewString("only"), NewInt(9))

	union := a.Add(b)
	assert.Equal(t, "left", union.ArrayGet(NewString("k")).ToString())
	assert.Equal(t, int64(9), union.ArrayGet(NewString("only")).ToInt())
	assert.Equal(t, 2, union.ArrayCount())
}
