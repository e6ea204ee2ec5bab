// Package values implements PHP's tagged-union runtime value
// representation: scalars inline, composites heap-allocated and
// reference-counted through the heap package.
package values

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wudi/heyvm/heap"
)

// ErrDivisionByZero is returned by Divide/Modulo; the vm package wraps it
// in a catchable DivisionByZeroError exception object.
var ErrDivisionByZero = errors.New("division by zero")

// Type is the runtime tag of a Value.
type Type byte

const (
	TypeNull Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeArray
	TypeObject
	TypeClosure
	TypeResource
	TypeReference
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeBool:
		return "boolean"
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "double"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	case TypeClosure:
		return "object"
	case TypeResource:
		return "resource"
	case TypeReference:
		return "reference"
	default:
		return "unknown"
	}
}

// Value is PHP's tagged union. Scalars (null/bool/int/float) are stored
// inline; strings and composites (array/object/closure/resource) carry a
// *heap.Box alongside the concrete struct in composite, so Retain/Release
// can manage the box without every call site needing a type switch.
type Value struct {
	typ       Type
	b         bool
	i         int64
	f         float64
	box       *heap.Box
	composite interface{}
	ref       *Value // only for TypeReference
}

func NewNull() *Value           { return &Value{typ: TypeNull} }
func NewBool(b bool) *Value     { return &Value{typ: TypeBool, b: b} }
func NewInt(i int64) *Value     { return &Value{typ: TypeInt, i: i} }
func NewFloat(f float64) *Value { return &Value{typ: TypeFloat, f: f} }

// NewReference wraps target so writes through the reference are visible
// to every alias (PHP's `&$x`).
func NewReference(target *Value) *Value {
	return &Value{typ: TypeReference, ref: target}
}

func (v *Value) Type() Type { return v.typ }

// Box returns the heap box backing a composite value, following any
// reference chain first; nil for scalars. The VM uses this to
// Retain/Release across assignment, parameter passing, and scope teardown.
func (v *Value) Box() *heap.Box { return v.Deref().box }

// Retain bumps the backing box's strong count, a no-op for scalars.
// Reference cells are transparent: retaining a reference retains its
// target.
func (v *Value) Retain() {
	if b := v.Deref().box; b != nil {
		b.Retain()
	}
}

// Release drops the backing box's strong count, a no-op for scalars.
func (v *Value) Release(c *heap.Collector) {
	if b := v.Deref().box; b != nil {
		b.Release(c)
	}
}

// retainVal/releaseVal are the container-edge bookkeeping the array,
// object, and closure types use when a field write gains or drops a
// reference; releases go to the process-wide collector so a still-alive
// box whose count dropped becomes a cycle-root candidate.
func retainVal(v *Value) {
	if v != nil {
		v.Retain()
	}
}

func releaseVal(v *Value) {
	if v != nil {
		v.Release(heap.Active())
	}
}

func (v *Value) IsNull() bool      { return v.typ == TypeNull }
func (v *Value) IsBool() bool      { return v.typ == TypeBool }
func (v *Value) IsInt() bool       { return v.typ == TypeInt }
func (v *Value) IsFloat() bool     { return v.typ == TypeFloat }
func (v *Value) IsString() bool    { return v.typ == TypeString }
func (v *Value) IsArray() bool     { return v.typ == TypeArray }
func (v *Value) IsObject() bool    { return v.typ == TypeObject }
func (v *Value) IsClosure() bool   { return v.typ == TypeClosure }
func (v *Value) IsResource() bool  { return v.typ == TypeResource }
func (v *Value) IsReference() bool { return v.typ == TypeReference }
func (v *Value) IsNumeric() bool   { return v.typ == TypeInt || v.typ == TypeFloat }

// IsNumericString reports whether a string value looks like a PHP numeric
// string: optional whitespace, sign, digits, optional fraction/exponent,
// optional trailing whitespace.
func (v *Value) IsNumericString() bool {
	if v.typ != TypeString {
		return false
	}
	s := strings.TrimSpace(v.stringValue())
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// Assign overwrites the value in place with src's tag and payload,
// following references on both sides, so every alias of a reference cell
// observes the write. The cell retains the incoming box before releasing
// the one it held, which makes self-assignment safe.
func (v *Value) Assign(src *Value) {
	dst := v.Deref()
	src = src.Deref()
	if src.box != nil {
		src.box.Retain()
	}
	if dst.box != nil {
		dst.box.Release(heap.Active())
	}
	dst.typ = src.typ
	dst.b = src.b
	dst.i = src.i
	dst.f = src.f
	dst.box = src.box
	dst.composite = src.composite
	dst.ref = nil
}

// Deref follows a reference chain to the underlying value.
func (v *Value) Deref() *Value {
	if v.typ == TypeReference {
		return v.ref.Deref()
	}
	return v
}

// TypeName returns PHP's gettype() string for the value.
func (v *Value) TypeName() string { return v.Deref().typ.String() }

// --- scalar conversions ---

func (v *Value) ToBool() bool {
	v = v.Deref()
	switch v.typ {
	case TypeNull:
		return false
	case TypeBool:
		return v.b
	case TypeInt:
		return v.i != 0
	case TypeFloat:
		return v.f != 0.0 && !math.IsNaN(v.f)
	case TypeString:
		s := v.stringValue()
		return s != "" && s != "0"
	case TypeArray:
		return v.ArrayCount() > 0
	case TypeObject, TypeClosure:
		return true
	default:
		return false
	}
}

// phpStringToInt parses the leading numeric prefix of s the way PHP's
// (int) cast does: optional whitespace and sign, digits, a decimal point
// stops the integer part (no rounding), anything else ends parsing.
func phpStringToInt(s string) int64 {
	if s == "" {
		return 0
	}
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r' || s[i] == '\v' || s[i] == '\f') {
		i++
	}
	if i >= len(s) {
		return 0
	}
	sign := int64(1)
	if s[i] == '+' || s[i] == '-' {
		if s[i] == '-' {
			sign = -1
		}
		i++
	}
	var intPart int64
	for i < len(s) {
		ch := s[i]
		if ch >= '0' && ch <= '9' {
			digit := int64(ch - '0')
			if intPart > (math.MaxInt64-digit)/10 {
				break
			}
			intPart = intPart*10 + digit
		} else {
			break
		}
		i++
	}
	return sign * intPart
}

// phpStringToFloat parses the leading numeric prefix of s as a float,
// including decimal points and scientific notation, the way PHP's
// (float) cast does.
func phpStringToFloat(s string) float64 {
	if s == "" {
		return 0.0
	}
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r' || s[i] == '\v' || s[i] == '\f') {
		i++
	}
	start := i
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digitsStart := i
	hasDecimal := false
	hasExponent := false
	for i < len(s) {
		ch := s[i]
		if ch >= '0' && ch <= '9' {
			// digit
		} else if ch == '.' && !hasDecimal && !hasExponent {
			hasDecimal = true
		} else if (ch == 'e' || ch == 'E') && !hasExponent && i > digitsStart {
			hasExponent = true
			if i+1 < len(s) && (s[i+1] == '+' || s[i+1] == '-') {
				i++
			}
		} else {
			break
		}
		i++
	}
	numeric := s[start:i]
	if numeric == "" || numeric == "+" || numeric == "-" {
		return 0.0
	}
	f, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0.0
	}
	return f
}

func (v *Value) ToInt() int64 {
	v = v.Deref()
	switch v.typ {
	case TypeNull:
		return 0
	case TypeBool:
		if v.b {
			return 1
		}
		return 0
	case TypeInt:
		return v.i
	case TypeFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return 0
		}
		return int64(v.f)
	case TypeString:
		return phpStringToInt(v.stringValue())
	case TypeArray:
		return int64(v.ArrayCount())
	default:
		return 0
	}
}

func (v *Value) ToFloat() float64 {
	v = v.Deref()
	switch v.typ {
	case TypeNull:
		return 0.0
	case TypeBool:
		if v.b {
			return 1.0
		}
		return 0.0
	case TypeInt:
		return float64(v.i)
	case TypeFloat:
		return v.f
	case TypeString:
		return phpStringToFloat(v.stringValue())
	case TypeArray:
		return float64(v.ArrayCount())
	default:
		return 0.0
	}
}

func (v *Value) ToString() string {
	v = v.Deref()
	switch v.typ {
	case TypeNull:
		return ""
	case TypeBool:
		if v.b {
			return "1"
		}
		return ""
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return formatFloat(v.f)
	case TypeString:
		return v.stringValue()
	case TypeArray:
		return "Array"
	case TypeObject:
		if o := v.objectData(); o != nil {
			return fmt.Sprintf("Object(%s)", o.ClassName())
		}
		return "Object"
	case TypeClosure:
		return "Closure"
	case TypeResource:
		return "Resource"
	default:
		return ""
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "NAN"
	}
	if math.IsInf(f, 1) {
		return "INF"
	}
	if math.IsInf(f, -1) {
		return "-INF"
	}
	return strconv.FormatFloat(f, 'G', 14, 64)
}

// --- equality & comparison ---

func (v *Value) Equal(other *Value) bool {
	v, other = v.Deref(), other.Deref()
	if v.typ == other.typ {
		if v.typ == TypeArray {
			return v.arrayEqual(other)
		}
		return v.identical(other)
	}
	if v.IsNull() || other.IsNull() {
		return v.IsNull() && other.IsNull()
	}
	if v.IsBool() || other.IsBool() {
		return v.ToBool() == other.ToBool()
	}
	if v.IsNumeric() && other.IsNumeric() {
		if v.IsFloat() || other.IsFloat() {
			return v.ToFloat() == other.ToFloat()
		}
		return v.ToInt() == other.ToInt()
	}
	if (v.IsNumericString() && other.IsNumeric()) || (v.IsNumeric() && other.IsNumericString()) {
		return v.ToFloat() == other.ToFloat()
	}
	if v.IsString() && other.IsString() {
		return v.stringValue() == other.stringValue()
	}
	if v.IsArray() && other.IsArray() {
		return v.arrayEqual(other)
	}
	return false
}

func (v *Value) Identical(other *Value) bool {
	v, other = v.Deref(), other.Deref()
	if v.typ != other.typ {
		return false
	}
	return v.identical(other)
}

func (v *Value) identical(other *Value) bool {
	switch v.typ {
	case TypeNull:
		return true
	case TypeBool:
		return v.b == other.b
	case TypeInt:
		return v.i == other.i
	case TypeFloat:
		return v.f == other.f
	case TypeString:
		return v.stringValue() == other.stringValue()
	case TypeArray:
		return v.arrayIdentical(other)
	case TypeObject, TypeClosure, TypeResource:
		return v.box == other.box
	default:
		return false
	}
}

// Compare returns -1/0/1 for v</==/> other under PHP's `<=>` rules.
func (v *Value) Compare(other *Value) int {
	v, other = v.Deref(), other.Deref()
	if v.IsNull() && other.IsNull() {
		return 0
	}
	if v.IsBool() || other.IsBool() || v.IsNull() || other.IsNull() {
		vb, ob := v.ToBool(), other.ToBool()
		switch {
		case vb == ob:
			return 0
		case !vb:
			return -1
		default:
			return 1
		}
	}
	if v.IsNumeric() && other.IsNumeric() {
		return compareFloats(v.ToFloat(), other.ToFloat())
	}
	if (v.IsNumericString() && other.IsNumeric()) || (v.IsNumeric() && other.IsNumericString()) ||
		(v.IsNumericString() && other.IsNumericString()) {
		return compareFloats(v.ToFloat(), other.ToFloat())
	}
	if v.IsArray() && other.IsArray() {
		return compareInts(int64(v.ArrayCount()), int64(other.ArrayCount()))
	}
	return strings.Compare(v.ToString(), other.ToString())
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// --- arithmetic ---

func (v *Value) Add(other *Value) *Value {
	if v.IsArray() && other.IsArray() {
		return v.arrayUnion(other)
	}
	if v.IsInt() && other.IsInt() {
		a, b := v.i, other.i
		sum := a + b
		if (b > 0 && sum < a) || (b < 0 && sum > a) {
			return NewFloat(float64(a) + float64(b))
		}
		return NewInt(sum)
	}
	return NewFloat(v.ToFloat() + other.ToFloat())
}

func (v *Value) Subtract(other *Value) *Value {
	if v.IsInt() && other.IsInt() {
		a, b := v.i, other.i
		diff := a - b
		if (b < 0 && diff < a) || (b > 0 && diff > a) {
			return NewFloat(float64(a) - float64(b))
		}
		return NewInt(diff)
	}
	return NewFloat(v.ToFloat() - other.ToFloat())
}

func (v *Value) Multiply(other *Value) *Value {
	if v.IsInt() && other.IsInt() {
		a, b := v.i, other.i
		if a == 0 || b == 0 {
			return NewInt(0)
		}
		p := a * b
		if p/b != a {
			return NewFloat(float64(a) * float64(b))
		}
		return NewInt(p)
	}
	return NewFloat(v.ToFloat() * other.ToFloat())
}

func (v *Value) Divide(other *Value) (*Value, error) {
	of := other.ToFloat()
	if of == 0.0 {
		return nil, ErrDivisionByZero
	}
	if v.IsInt() && other.IsInt() && other.i != 0 && v.i%other.i == 0 {
		return NewInt(v.i / other.i), nil
	}
	return NewFloat(v.ToFloat() / of), nil
}

func (v *Value) Modulo(other *Value) (*Value, error) {
	oi := other.ToInt()
	if oi == 0 {
		return nil, ErrDivisionByZero
	}
	return NewInt(v.ToInt() % oi), nil
}

func (v *Value) Power(other *Value) *Value {
	base, exp := v.ToFloat(), other.ToFloat()
	result := math.Pow(base, exp)
	if v.IsInt() && other.IsInt() && other.i >= 0 && result == math.Trunc(result) &&
		result >= math.MinInt64 && result <= math.MaxInt64 {
		return NewInt(int64(result))
	}
	return NewFloat(result)
}

func (v *Value) Concat(other *Value) *Value {
	return NewString(v.ToString() + other.ToString())
}

// --- debug formatting ---

func (v *Value) String() string { return v.ToString() }

func (v *Value) VarDump() string {
	var b strings.Builder
	v.appendVarDump(&b, 0, map[*PHPArray]bool{})
	return b.String()
}

func (v *Value) appendVarDump(b *strings.Builder, indent int, visited map[*PHPArray]bool) {
	pad := strings.Repeat("  ", indent)
	v = v.Deref()
	switch v.typ {
	case TypeNull:
		b.WriteString("NULL")
	case TypeBool:
		fmt.Fprintf(b, "bool(%t)", v.b)
	case TypeInt:
		fmt.Fprintf(b, "int(%d)", v.i)
	case TypeFloat:
		fmt.Fprintf(b, "float(%s)", formatFloat(v.f))
	case TypeString:
		s := v.stringValue()
		fmt.Fprintf(b, "string(%d) %q", len(s), s)
	case TypeArray:
		a := v.arrayData()
		if a == nil || visited[a] {
			b.WriteString("*RECURSION*")
			return
		}
		visited[a] = true
		snap := a.Snapshot()
		fmt.Fprintf(b, "array(%d) {\n", len(snap))
		for _, p := range snap {
			fmt.Fprintf(b, "%s  [%s]=>\n%s  ", pad, formatVarDumpKey(p.Key), pad)
			p.Value.appendVarDump(b, indent+1, visited)
			b.WriteString("\n")
		}
		fmt.Fprintf(b, "%s}", pad)
	case TypeObject:
		o := v.objectData()
		fmt.Fprintf(b, "object(%s)#%d", o.ClassName(), o.ObjectID())
		b.WriteString(" {\n")
		fmt.Fprintf(b, "%s}", pad)
	case TypeClosure:
		b.WriteString("object(Closure)")
	default:
		fmt.Fprintf(b, "%s", v.ToString())
	}
}

func formatVarDumpKey(k ArrayKey) string {
	if k.IsInt {
		return strconv.FormatInt(k.Int, 10)
	}
	return fmt.Sprintf("%q", k.Str)
}

func (v *Value) PrintR() string {
	var b strings.Builder
	v.appendPrintR(&b, 0, map[*PHPArray]bool{})
	return b.String()
}

func (v *Value) appendPrintR(b *strings.Builder, indent int, visited map[*PHPArray]bool) {
	v = v.Deref()
	switch v.typ {
	case TypeArray:
		a := v.arrayData()
		if a == nil || visited[a] {
			b.WriteString("Array\n *RECURSION*")
			return
		}
		visited[a] = true
		pad := strings.Repeat("    ", indent)
		b.WriteString("Array\n" + pad + "(\n")
		for _, p := range a.Snapshot() {
			fmt.Fprintf(b, "%s    [%s] => ", pad, p.Key.String())
			p.Value.appendPrintR(b, indent+2, visited)
			b.WriteString("\n")
		}
		b.WriteString(pad + ")\n")
	case TypeObject:
		o := v.objectData()
		pad := strings.Repeat("    ", indent)
		fmt.Fprintf(b, "%s Object\n%s(\n%s)\n", o.ClassName(), pad, pad)
	default:
		b.WriteString(v.ToString())
	}
}
