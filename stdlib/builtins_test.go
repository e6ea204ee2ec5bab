package stdlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

func TestDispatchTableIsConsistent(t *testing.T) {
	id, ok := IDByName("intdiv")
	require.True(t, ok)
	entry, ok := ByID(id)
	require.True(t, ok)
	assert.Equal(t, "intdiv", entry.Name)
	assert.Equal(t, 2, entry.MinArgs)
	assert.Equal(t, 2, entry.MaxArgs)

	_, ok = IDByName("definitely_not_a_builtin")
	assert.False(t, ok)
}

func TestIntdivRaisesOnZeroDivisor(t *testing.T) {
	entry, ok := ByName("intdiv")
	require.True(t, ok)

	v, err := entry.Fn(nil, []*values.Value{values.NewInt(7), values.NewInt(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.ToInt())

	_, err = entry.Fn(nil, []*values.Value{values.NewInt(1), values.NewInt(0)})
	assert.ErrorIs(t, err, values.ErrDivisionByZero)
}

func TestGCCollectCyclesWithoutContext(t *testing.T) {
	entry, ok := ByName("gc_collect_cycles")
	require.True(t, ok)
	v, err := entry.Fn(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.ToInt())
}

func TestRegisterInstallsFunctionsAndClasses(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, Register(reg))

	fn, ok := reg.GetFunction("strlen")
	require.True(t, ok)
	assert.True(t, fn.IsBuiltin)

	for _, name := range []string{"Exception", "RuntimeException", "DivisionByZeroError", "stdClass"} {
		_, err := reg.GetClass(name)
		assert.NoError(t, err, name)
	}
	assert.True(t, reg.IsInstanceOf("DivisionByZeroError", "ArithmeticError"))
	assert.True(t, reg.IsInstanceOf("ArgumentCountError", "TypeError"))
	assert.True(t, reg.IsInstanceOf("RuntimeException", "Throwable"))
}

func TestNewExceptionBuildsThrowable(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, Register(reg))

	exc, err := NewException(reg, "RuntimeException", "boom")
	require.NoError(t, err)
	assert.Equal(t, "RuntimeException", exc.ObjectClassName())
	assert.Equal(t, "boom", exc.ObjectGet("message").ToString())
	assert.Equal(t, int64(0), exc.ObjectGet("code").ToInt())

	_, err = NewException(reg, "NoSuchClass", "x")
	assert.Error(t, err)
}

func TestSplObjectIDIsStablePerObject(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, Register(reg))
	shape, err := reg.FinalizeClass("stdClass")
	require.NoError(t, err)

	entry, ok := ByName("spl_object_id")
	require.True(t, ok)

	a := values.NewObject(shape)
	b := values.NewObject(shape)
	idA1, err := entry.Fn(nil, []*values.Value{a})
	require.NoError(t, err)
	idA2, err := entry.Fn(nil, []*values.Value{a})
	require.NoError(t, err)
	idB, err := entry.Fn(nil, []*values.Value{b})
	require.NoError(t, err)

	assert.Equal(t, idA1.ToInt(), idA2.ToInt())
	assert.NotEqual(t, idA1.ToInt(), idB.ToInt())
}
