package values

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarConversions(t *testing.T) {
	assert.Equal(t, int64(0), NewNull().ToInt())
	assert.Equal(t, int64(1), NewBool(true).ToInt())
	assert.Equal(t, "1", NewBool(true).ToString())
	assert.Equal(t, "", NewBool(false).ToString())
	assert.Equal(t, int64(42), NewString("42abc").ToInt())
	assert.Equal(t, int64(-7), NewString("  -7.9xyz").ToInt())
	assert.Equal(t, 3.5, NewString("3.5e0trailer").ToFloat())
	assert.Equal(t, "120", NewInt(120).ToString())
	assert.False(t, NewString("0").ToBool())
	assert.False(t, NewString("").ToBool())
	assert.True(t, NewString("0.0").ToBool())
}

func TestNumericStringDetection(t *testing.T) {
	assert.True(t, NewString("12").IsNumericString())
	assert.True(t, NewString(" 3.14 ").IsNumericString())
	assert.True(t, NewString("1e3").IsNumericString())
	assert.False(t, NewString("12abc").IsNumericString())
	assert.False(t, NewString("").IsNumericString())
	assert.False(t, NewInt(12).IsNumericString())
}

func TestLooseEquality(t *testing.T) {
	assert.True(t, NewInt(1).Equal(NewFloat(1.0)))
	assert.True(t, NewString("10").Equal(NewInt(10)))
	assert.True(t, NewBool(true).Equal(NewInt(7)))
	assert.True(t, NewNull().Equal(NewNull()))
	assert.False(t, NewNull().Equal(NewInt(0)))
	assert.False(t, NewString("abc").Equal(NewInt(0)))
}

func TestStrictIdentity(t *testing.T) {
	assert.True(t, NewInt(3).Identical(NewInt(3)))
	assert.False(t, NewInt(3).Identical(NewFloat(3.0)))
	assert.True(t, NewString("x").Identical(NewString("x")))

	a := NewArray()
	b := NewArray()
	a.ArrayAppend(NewInt(1))
	b.ArrayAppend(NewInt(1))
	assert.True(t, a.Identical(b), "arrays compare by content and order under ===")
	assert.True(t, a.Equal(b))

	o1 := NewObject(testShape{})
	o2 := NewObject(testShape{})
	assert.False(t, o1.Identical(o2), "distinct objects are never ===")
	assert.True(t, o1.Identical(o1))
}

func TestSpaceshipComparison(t *testing.T) {
	assert.Equal(t, -1, NewInt(1).Compare(NewInt(2)))
	assert.Equal(t, 0, NewInt(2).Compare(NewInt(2)))
	assert.Equal(t, 1, NewInt(3).Compare(NewInt(2)))
	assert.Equal(t, 0, NewString("10").Compare(NewInt(10)))
	assert.Equal(t, -1, NewBool(false).Compare(NewBool(true)))
}

func TestIntegerOverflowPromotesToFloat(t *testing.T) {
	sum := NewInt(math.MaxInt64).Add(NewInt(1))
	require.True(t, sum.IsFloat(), "int64 overflow must promote to float")
	assert.InDelta(t, float64(math.MaxInt64)+1, sum.ToFloat(), 1024)

	diff := NewInt(math.MinInt64).Subtract(NewInt(1))
	require.True(t, diff.IsFloat())

	prod := NewInt(math.MaxInt64).Multiply(NewInt(2))
	require.True(t, prod.IsFloat())

	ok := NewInt(2).Multiply(NewInt(3))
	require.True(t, ok.IsInt())
	assert.Equal(t, int64(6), ok.ToInt())
}

func TestDivisionSemantics(t *testing.T) {
	v, err := NewInt(10).Divide(NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.ToInt())
	assert.True(t, v.IsInt(), "exact integer division stays int")

	v, err = NewInt(7).Divide(NewInt(2))
	require.NoError(t, err)
	assert.True(t, v.IsFloat())
	assert.Equal(t, 3.5, v.ToFloat())

	_, err = NewInt(1).Divide(NewInt(0))
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = NewInt(1).Modulo(NewInt(0))
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestReferenceAssignSharesStorage(t *testing.T) {
	inner := NewInt(1)
	ref := NewReference(inner)
	alias := NewReference(inner)

	ref.Assign(NewInt(2))
	assert.Equal(t, int64(2), alias.Deref().ToInt())
	assert.Equal(t, int64(2), inner.ToInt())
	assert.True(t, ref.IsReference())
	assert.Equal(t, int64(2), ref.ToInt(), "conversions read through the reference")
}

func TestConcat(t *testing.T) {
	out := NewString("a").Concat(NewInt(1))
	assert.Equal(t, "a1", out.ToString())
}

// testShape is a minimal ShapeDescriptor for object-identity tests.
type testShape struct{}

func (testShape) ID() uint32                 { return 1 }
func (testShape) ClassName() string          { return "stdClass" }
func (testShape) SlotFor(string) (int, bool) { return 0, false }
func (testShape) SlotCount() int             { return 0 }
func (testShape) PropertyNames() []string    { return nil }
