package values

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortStringsShareAnInternedBox(t *testing.T) {
	a := NewString("hello")
	b := NewString("hello")
	require.NotNil(t, a.Box())
	assert.Same(t, a.Box(), b.Box(), "identical short strings resolve to one pooled box")
	assert.True(t, a.Identical(b))

	// The pool holds its own reference: releasing every holder leaves the
	// interned box alive for the next lookup.
	a.Release(nil)
	b.Release(nil)
	c := NewString("hello")
	assert.Same(t, c.Box(), a.Box())
	assert.False(t, c.Box().Destroyed())
}

func TestLongStringsGetTheirOwnBox(t *testing.T) {
	long := strings.Repeat("x", 48)
	a := NewString(long)
	b := NewString(long)
	require.NotNil(t, a.Box())
	assert.NotSame(t, a.Box(), b.Box(), "only short strings intern")
	assert.True(t, a.Identical(b), "=== still compares content, not identity")

	box := a.Box()
	a.Release(nil)
	assert.True(t, box.Destroyed(), "the last reference frees an uninterned string")
	assert.False(t, b.Box().Destroyed())
}

func TestStringEncodingTags(t *testing.T) {
	enc, ok := NewString("plain ascii").StringEncodingOf()
	require.True(t, ok)
	assert.Equal(t, EncASCII, enc)

	enc, _ = NewString("héllo wörld").StringEncodingOf()
	assert.Equal(t, EncUTF8, enc)

	enc, _ = NewString("\xff\xfe\x00").StringEncodingOf()
	assert.Equal(t, EncBinary, enc)

	_, ok = NewInt(1).StringEncodingOf()
	assert.False(t, ok)
}

func TestStringsAreImmutable(t *testing.T) {
	a := NewString("foo")
	b := a.Concat(NewString("bar"))
	assert.Equal(t, "foo", a.ToString(), "concatenation never mutates its operands")
	assert.Equal(t, "foobar", b.ToString())
	assert.NotSame(t, a.Box(), b.Box(), "the result lives in a new box")
}

func TestStringValueRoundTrip(t *testing.T) {
	v := NewString("42")
	assert.Equal(t, int64(42), v.ToInt())
	assert.Equal(t, "42", v.ToString())
	assert.True(t, v.IsString())

	s := v.stringData()
	require.NotNil(t, s)
	assert.Equal(t, 2, s.Len())
}
