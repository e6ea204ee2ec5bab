package ast

import "fmt"

// IntLiteral is a literal_int.
type IntLiteral struct {
	Base
	Value int64
}

func NewIntLiteral(v int64) *IntLiteral {
	return &IntLiteral{Base: Base{Kind: KindLiteralInt}, Value: v}
}
func (n *IntLiteral) String() string { return fmt.Sprintf("%d", n.Value) }

// FloatLiteral is a literal_float.
type FloatLiteral struct {
	Base
	Value float64
}

func NewFloatLiteral(v float64) *FloatLiteral {
	return &FloatLiteral{Base: Base{Kind: KindLiteralFloat}, Value: v}
}
func (n *FloatLiteral) String() string { return fmt.Sprintf("%g", n.Value) }

// StringLiteral is a literal_string. The AST contract indexes strings
// through a shared pool by string_id; this engine stores the resolved text
// directly on the node instead, which is observationally equivalent since
// the pool only exists to deduplicate parser-side storage.
type StringLiteral struct {
	Base
	Value string
}

func NewStringLiteral(v string) *StringLiteral {
	return &StringLiteral{Base: Base{Kind: KindLiteralString}, Value: v}
}
func (n *StringLiteral) String() string { return fmt.Sprintf("%q", n.Value) }

// InterpolatedString is a double-quoted or heredoc string containing a mix
// of literal text and embedded expressions, lowered by the generator to an
// `interpolate n` sequence.
type InterpolatedString struct {
	Base
	Parts []Expression // StringLiteral or any Expression
}

func NewInterpolatedString(parts []Expression) *InterpolatedString {
	return &InterpolatedString{Base: Base{Kind: KindLiteralString}, Parts: parts}
}
func (n *InterpolatedString) String() string { return "interpolated" }

// BoolLiteral is a literal_bool.
type BoolLiteral struct {
	Base
	Value bool
}

func NewBoolLiteral(v bool) *BoolLiteral {
	return &BoolLiteral{Base: Base{Kind: KindLiteralBool}, Value: v}
}
func (n *BoolLiteral) String() string { return fmt.Sprintf("%t", n.Value) }

// NullLiteral is literal_null.
type NullLiteral struct{ Base }

func NewNullLiteral() *NullLiteral    { return &NullLiteral{Base: Base{Kind: KindLiteralNull}} }
func (n *NullLiteral) String() string { return "null" }

// Variable is `variable(name)`; Name always begins with "$".
type Variable struct {
	Base
	Name string
}

func NewVariable(name string) *Variable { return &Variable{Base: Base{Kind: KindVariable}, Name: name} }
func (n *Variable) String() string      { return n.Name }

// Assignment is `assignment(target, value)`. Op is "=" for a plain
// assignment or a compound-assignment operator ("+=", ".=", ...); ByRef
// marks `$a =& $b`.
type Assignment struct {
	Base
	Target Expression
	Op     string
	Value  Expression
	ByRef  bool
}

func NewAssignment(target Expression, op string, value Expression) *Assignment {
	return &Assignment{Base: Base{Kind: KindAssignment}, Target: target, Op: op, Value: value}
}
func (n *Assignment) String() string { return fmt.Sprintf("(%s %s %s)", n.Target, n.Op, n.Value) }

// BinaryExpr is `binary_expr(op, lhs, rhs)`.
type BinaryExpr struct {
	Base
	Op  string
	LHS Expression
	RHS Expression
}

func NewBinaryExpr(op string, lhs, rhs Expression) *BinaryExpr {
	return &BinaryExpr{Base: Base{Kind: KindBinaryExpr}, Op: op, LHS: lhs, RHS: rhs}
}
func (n *BinaryExpr) String() string { return fmt.Sprintf("(%s %s %s)", n.LHS, n.Op, n.RHS) }

// UnaryExpr is `unary_expr(op, operand)`, e.g. `-x`, `!x`, prefix `++$x`.
type UnaryExpr struct {
	Base
	Op      string
	Operand Expression
}

func NewUnaryExpr(op string, operand Expression) *UnaryExpr {
	return &UnaryExpr{Base: Base{Kind: KindUnaryExpr}, Op: op, Operand: operand}
}
func (n *UnaryExpr) String() string { return fmt.Sprintf("(%s%s)", n.Op, n.Operand) }

// PostfixExpr is `postfix_expr(op, operand)`, e.g. `$x++`.
type PostfixExpr struct {
	Base
	Op      string
	Operand Expression
}

func NewPostfixExpr(op string, operand Expression) *PostfixExpr {
	return &PostfixExpr{Base: Base{Kind: KindPostfixExpr}, Op: op, Operand: operand}
}
func (n *PostfixExpr) String() string { return fmt.Sprintf("(%s%s)", n.Operand, n.Op) }

// TernaryExpr is `ternary_expr(cond, then?, else)`; Then is nil for the
// Elvis form `cond ?: else`.
type TernaryExpr struct {
	Base
	Condition Expression
	Then      Expression // nil for `?:`
	Else      Expression
}

func NewTernaryExpr(cond, then, els Expression) *TernaryExpr {
	return &TernaryExpr{Base: Base{Kind: KindTernaryExpr}, Condition: cond, Then: then, Else: els}
}
func (n *TernaryExpr) String() string { return "(?:)" }

// CoalesceExpr is `$a ?? $b`.
type CoalesceExpr struct {
	Base
	LHS Expression
	RHS Expression
}

func NewCoalesceExpr(lhs, rhs Expression) *CoalesceExpr {
	return &CoalesceExpr{Base: Base{Kind: KindBinaryExpr}, LHS: lhs, RHS: rhs}
}
func (n *CoalesceExpr) String() string { return fmt.Sprintf("(%s ?? %s)", n.LHS, n.RHS) }

// PipeExpr is the PHP 8.5 pipe operator `value |> callable`.
type PipeExpr struct {
	Base
	Value    Expression
	Callable Expression
}

func NewPipeExpr(value, callable Expression) *PipeExpr {
	return &PipeExpr{Base: Base{Kind: KindPipeExpr}, Value: value, Callable: callable}
}
func (n *PipeExpr) String() string { return fmt.Sprintf("(%s |> %s)", n.Value, n.Callable) }

// FunctionCall is `function_call(name_or_expr, args[])`. Name is set for a
// direct `foo(...)` call; Callee is set when the callable is itself an
// expression (a variable holding a closure, `(...)`-first-class-callable
// target, etc). FirstClassRef marks the trailing `...` placeholder that
// requests a first-class-callable closure instead of invoking the call.
type FunctionCall struct {
	Base
	Name          string
	Callee        Expression
	Args          []Argument
	FirstClassRef bool
}

// Argument is a call argument, optionally named (PHP 8 named arguments) or
// spread (`...$args`).
type Argument struct {
	Name   string // empty when positional
	Value  Expression
	Spread bool
}

func NewFunctionCall(name string, callee Expression, args []Argument) *FunctionCall {
	return &FunctionCall{Base: Base{Kind: KindFunctionCall}, Name: name, Callee: callee, Args: args}
}
func (n *FunctionCall) String() string { return fmt.Sprintf("%s(...)", n.Name) }

// MethodCall is `method_call(target, method, args[])`. NullSafe marks `?->`.
type MethodCall struct {
	Base
	Target   Expression
	Method   string
	Args     []Argument
	NullSafe bool
}

func NewMethodCall(target Expression, method string, args []Argument) *MethodCall {
	return &MethodCall{Base: Base{Kind: KindMethodCall}, Target: target, Method: method, Args: args}
}
func (n *MethodCall) String() string { return fmt.Sprintf("(...)->%s(...)", n.Method) }

// StaticCall is `ClassName::method(args[])`.
type StaticCall struct {
	Base
	Class  string
	Method string
	Args   []Argument
}

func NewStaticCall(class, method string, args []Argument) *StaticCall {
	return &StaticCall{Base: Base{Kind: KindStaticCall}, Class: class, Method: method, Args: args}
}
func (n *StaticCall) String() string { return fmt.Sprintf("%s::%s(...)", n.Class, n.Method) }

// ArrayPair is one `key => value` or bare-value element of an ArrayInit.
// Key is nil for a bare value (auto-indexed append). Spread marks `...$xs`.
type ArrayPair struct {
	Base
	Key    Expression
	Value  Expression
	ByRef  bool
	Spread bool
}

func NewArrayPair(key, value Expression) *ArrayPair {
	return &ArrayPair{Base: Base{Kind: KindArrayPair}, Key: key, Value: value}
}
func (n *ArrayPair) String() string { return "pair" }

// ArrayInit is `array_init(elements[])`.
type ArrayInit struct {
	Base
	Elements []*ArrayPair
}

func NewArrayInit(elements []*ArrayPair) *ArrayInit {
	return &ArrayInit{Base: Base{Kind: KindArrayInit}, Elements: elements}
}
func (n *ArrayInit) String() string { return fmt.Sprintf("[%d elements]", len(n.Elements)) }

// ArrayAccess is `array_access(target, index?)`; Index is nil for the
// append form `$a[] = ...` used as an assignment target.
type ArrayAccess struct {
	Base
	Target Expression
	Index  Expression
}

func NewArrayAccess(target, index Expression) *ArrayAccess {
	return &ArrayAccess{Base: Base{Kind: KindArrayAccess}, Target: target, Index: index}
}
func (n *ArrayAccess) String() string { return fmt.Sprintf("%s[...]", n.Target) }

// PropertyAccess is `property_access(target, property)`. NullSafe marks
// `?->`. Dynamic, when set, is an expression evaluated for the property
// name instead of Property (PHP's `$obj->{$name}`).
type PropertyAccess struct {
	Base
	Target   Expression
	Property string
	Dynamic  Expression
	NullSafe bool
}

func NewPropertyAccess(target Expression, property string) *PropertyAccess {
	return &PropertyAccess{Base: Base{Kind: KindPropertyAccess}, Target: target, Property: property}
}
func (n *PropertyAccess) String() string { return fmt.Sprintf("%s->%s", n.Target, n.Property) }

// ObjectInstantiation is `object_instantiation(class_name, args[])`. Class
// is empty when ClassExpr carries a dynamic class-name expression (`new
// $cls(...)`) or an anonymous-class Decl.
type ObjectInstantiation struct {
	Base
	Class     string
	ClassExpr Expression
	Anonymous *ClassDecl
	Args      []Argument
}

func NewObjectInstantiation(class string, args []Argument) *ObjectInstantiation {
	return &ObjectInstantiation{Base: Base{Kind: KindObjectInstantiation}, Class: class, Args: args}
}
func (n *ObjectInstantiation) String() string { return fmt.Sprintf("new %s(...)", n.Class) }

// CloneExpr is `clone $obj` or PHP 8.5's `clone $obj with { k: v, ... }`.
type CloneExpr struct {
	Base
	Target Expression
	With   []*ArrayPair // PropertyName via Key (StringLiteral), value via Value; empty for bare clone
}

func NewCloneExpr(target Expression, with []*ArrayPair) *CloneExpr {
	return &CloneExpr{Base: Base{Kind: KindClone}, Target: target, With: with}
}
func (n *CloneExpr) String() string { return fmt.Sprintf("clone %s", n.Target) }

// InstanceofExpr is `$x instanceof Type`.
type InstanceofExpr struct {
	Base
	Target Expression
	Class  string
}

func NewInstanceofExpr(target Expression, class string) *InstanceofExpr {
	return &InstanceofExpr{Base: Base{Kind: KindBinaryExpr}, Target: target, Class: class}
}
func (n *InstanceofExpr) String() string { return fmt.Sprintf("%s instanceof %s", n.Target, n.Class) }

// Parameter is `parameter(name, type?, default?, is_variadic, is_reference)`.
type Parameter struct {
	Base
	Name       string
	Type       string
	Default    Expression
	Variadic   bool
	ByRef      bool
	Promoted   bool   // constructor-promoted property
	Visibility string // set when Promoted
}

func NewParameter(name string) *Parameter {
	return &Parameter{Base: Base{Kind: KindParameter}, Name: name}
}
func (n *Parameter) String() string { return n.Name }

// Capture is one `use ($x)` or `use (&$x)` closure capture.
type Capture struct {
	Name  string
	ByRef bool
}

// Closure is `closure(params, captures, body, is_static)`.
type Closure struct {
	Base
	Params   []*Parameter
	Captures []Capture
	Body     *Block
	Static   bool
	ByRef    bool // returns by reference
}

func NewClosure(params []*Parameter, captures []Capture, body *Block) *Closure {
	return &Closure{Base: Base{Kind: KindClosure}, Params: params, Captures: captures, Body: body}
}
func (n *Closure) String() string { return "closure(...)" }

// ArrowFunction is `arrow_function(params, body)`: implicitly captures every
// outer variable it references, by value.
type ArrowFunction struct {
	Base
	Params []*Parameter
	Body   Expression // single expression, implicitly returned
}

func NewArrowFunction(params []*Parameter, body Expression) *ArrowFunction {
	return &ArrowFunction{Base: Base{Kind: KindArrowFunction}, Params: params, Body: body}
}
func (n *ArrowFunction) String() string { return "fn(...) => ..." }

func (*IntLiteral) expressionNode()          {}
func (*FloatLiteral) expressionNode()        {}
func (*StringLiteral) expressionNode()       {}
func (*InterpolatedString) expressionNode()  {}
func (*BoolLiteral) expressionNode()         {}
func (*NullLiteral) expressionNode()         {}
func (*Variable) expressionNode()            {}
func (*Assignment) expressionNode()          {}
func (*BinaryExpr) expressionNode()          {}
func (*UnaryExpr) expressionNode()           {}
func (*PostfixExpr) expressionNode()         {}
func (*TernaryExpr) expressionNode()         {}
func (*CoalesceExpr) expressionNode()        {}
func (*PipeExpr) expressionNode()            {}
func (*FunctionCall) expressionNode()        {}
func (*MethodCall) expressionNode()          {}
func (*StaticCall) expressionNode()          {}
func (*ArrayInit) expressionNode()           {}
func (*ArrayAccess) expressionNode()         {}
func (*PropertyAccess) expressionNode()      {}
func (*ObjectInstantiation) expressionNode() {}
func (*CloneExpr) expressionNode()           {}
func (*InstanceofExpr) expressionNode()      {}
func (*Closure) expressionNode()             {}
func (*ArrowFunction) expressionNode()       {}
