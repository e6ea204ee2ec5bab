package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStringMatchesClassNames(t *testing.T) {
	assert.Equal(t, "DivisionByZeroError", DivisionByZeroError.String())
	assert.Equal(t, "ArgumentCountError", ArgumentCountError.String())
	assert.Equal(t, "Error", Kind(99).String())
}

func TestVMErrorFormatting(t *testing.T) {
	err := Newf(TypeError, "expected %s, got %s", "int", "string")
	assert.Equal(t, "TypeError: expected int, got string", err.Error())
	assert.True(t, err.Recoverable())

	fatal := New(FatalError, "stack overflow")
	assert.False(t, fatal.Recoverable())
}

func TestListAccumulates(t *testing.T) {
	var l List
	assert.False(t, l.HasErrors())
	l.Add(New(ValueError, "bad domain"))
	l.Add(New(TypeError, "bad type"))
	assert.True(t, l.HasErrors())
	assert.Equal(t, "ValueError: bad domain; TypeError: bad type", l.Error())
}
