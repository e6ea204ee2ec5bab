package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/heyvm/values"
)

func TestFinalizeClassAssignsStableShape(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterClass(&Class{
		Name: "Point",
		Properties: map[string]*Property{
			"x": {Name: "x"},
			"y": {Name: "y"},
		},
	}))

	shape, err := reg.FinalizeClass("Point")
	require.NoError(t, err)
	assert.Equal(t, 2, shape.SlotCount())

	again, err := reg.FinalizeClass("Point")
	require.NoError(t, err)
	assert.Same(t, shape, again, "finalization is idempotent")
	assert.Equal(t, shape.ID(), again.ID())
}

func TestFinalizeClassInheritsParentLayoutPrefix(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterClass(&Class{
		Name:       "Base",
		Properties: map[string]*Property{"a": {Name: "a"}},
	}))
	require.NoError(t, reg.RegisterClass(&Class{
		Name:       "Derived",
		Parent:     "Base",
		Properties: map[string]*Property{"b": {Name: "b"}},
	}))

	baseShape, err := reg.FinalizeClass("Base")
	require.NoError(t, err)
	derivedShape, err := reg.FinalizeClass("Derived")
	require.NoError(t, err)

	baseSlot, ok := baseShape.SlotFor("a")
	require.True(t, ok)
	derivedSlot, ok := derivedShape.SlotFor("a")
	require.True(t, ok)
	assert.Equal(t, baseSlot, derivedSlot, "inherited properties keep the parent's offsets")

	_, ok = derivedShape.SlotFor("b")
	assert.True(t, ok)
	assert.NotEqual(t, baseShape.ID(), derivedShape.ID())
}

func TestFinalizeClassComposesTraitProperties(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterTrait(&Trait{
		Name:       "HasName",
		Properties: map[string]*Property{"name": {Name: "name"}},
	}))
	require.NoError(t, reg.RegisterClass(&Class{
		Name:       "User",
		Traits:     []string{"HasName"},
		Properties: map[string]*Property{"id": {Name: "id"}},
	}))

	shape, err := reg.FinalizeClass("User")
	require.NoError(t, err)
	_, ok := shape.SlotFor("name")
	assert.True(t, ok, "trait properties join the using class's shape")
	_, ok = shape.SlotFor("id")
	assert.True(t, ok)
}

func TestFinalizeClassDetectsCircularInheritance(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterClass(&Class{Name: "A", Parent: "B", Properties: map[string]*Property{}}))
	require.NoError(t, reg.RegisterClass(&Class{Name: "B", Parent: "A", Properties: map[string]*Property{}}))

	_, err := reg.FinalizeClass("A")
	assert.Error(t, err)
}

func TestStaticPropertiesStayOutOfShape(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterClass(&Class{
		Name: "Counter",
		Properties: map[string]*Property{
			"count":    {Name: "count", IsStatic: true},
			"instance": {Name: "instance"},
		},
	}))
	shape, err := reg.FinalizeClass("Counter")
	require.NoError(t, err)
	_, ok := shape.SlotFor("count")
	assert.False(t, ok)
	assert.Equal(t, 1, shape.SlotCount())
}

func TestIsInstanceOfWalksHierarchy(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterInterface(&Interface{Name: "Countable"}))
	require.NoError(t, reg.RegisterClass(&Class{Name: "Collection", Interfaces: []string{"Countable"}, Properties: map[string]*Property{}}))
	require.NoError(t, reg.RegisterClass(&Class{Name: "TypedCollection", Parent: "Collection", Properties: map[string]*Property{}}))

	assert.True(t, reg.IsInstanceOf("TypedCollection", "TypedCollection"))
	assert.True(t, reg.IsInstanceOf("TypedCollection", "Collection"))
	assert.True(t, reg.IsInstanceOf("TypedCollection", "countable"), "lookups are case-insensitive")
	assert.False(t, reg.IsInstanceOf("Collection", "TypedCollection"))
}

func TestRegistryLookupsAreCaseInsensitive(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterFunction(&Function{Name: "strLen"}))
	fn, ok := reg.GetFunction("STRLEN")
	require.True(t, ok)
	assert.Equal(t, "strLen", fn.Name)

	require.NoError(t, reg.RegisterConstant(&Constant{Name: "PHP_EOL", Value: values.NewString("\n")}))
	cst, ok := reg.GetConstant("php_eol")
	require.True(t, ok)
	assert.Equal(t, "\n", cst.Value.ToString())
}

func TestObjectLayoutFollowsShape(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterClass(&Class{
		Name:       "Pair",
		Properties: map[string]*Property{"first": {Name: "first"}, "second": {Name: "second"}},
	}))
	shape, err := reg.FinalizeClass("Pair")
	require.NoError(t, err)

	obj := values.NewObject(shape)
	obj.ObjectSet("first", values.NewInt(1))
	slot, ok := shape.SlotFor("first")
	require.True(t, ok)
	assert.Equal(t, int64(1), obj.ObjectGetSlot(slot).ToInt())
	assert.Equal(t, "Pair", obj.ObjectClassName())
}
