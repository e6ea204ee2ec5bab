package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/heyvm/ast"
	"github.com/wudi/heyvm/opcodes"
	"github.com/wudi/heyvm/registry"
)

func compileRoot(t *testing.T, stmts ...ast.Statement) *Result {
	t.Helper()
	res, err := New().Compile(ast.NewRoot(stmts))
	require.NoError(t, err)
	return res
}

func ops(fn *registry.Function) []opcodes.Opcode {
	out := make([]opcodes.Opcode, len(fn.Instructions))
	for i, in := range fn.Instructions {
		out[i] = in.Op
	}
	return out
}

func assign(name string, value ast.Expression) ast.Statement {
	return ast.NewExpressionStatement(ast.NewAssignment(ast.NewVariable(name), "=", value))
}

func TestCompileLiteralAssignment(t *testing.T) {
	res := compileRoot(t, assign("$x", ast.NewIntLiteral(42)))

	got := ops(res.Main)
	assert.Equal(t, []opcodes.Opcode{
		opcodes.OP_PUSH_CONST,
		opcodes.OP_DUP,
		opcodes.OP_STORE_GLOBAL,
		opcodes.OP_POP,
		opcodes.OP_RET_VOID,
	}, got)
	assert.Equal(t, int64(42), res.Main.Constants[res.Main.Instructions[0].A].ToInt())
}

func TestConstantPoolDeduplicatesScalars(t *testing.T) {
	res := compileRoot(t,
		assign("$a", ast.NewIntLiteral(7)),
		assign("$b", ast.NewIntLiteral(7)),
		assign("$c", ast.NewStringLiteral("7")),
	)
	main := res.Main
	assert.Equal(t, main.Instructions[0].A, main.Instructions[4].A, "identical ints share a pool slot")
	assert.NotEqual(t, main.Instructions[0].A, main.Instructions[8].A, "int 7 and string \"7\" stay distinct")
}

func TestIfElseLowering(t *testing.T) {
	res := compileRoot(t, ast.NewIf(
		ast.NewBoolLiteral(true),
		ast.NewBlock([]ast.Statement{assign("$x", ast.NewIntLiteral(1))}),
		ast.NewBlock([]ast.Statement{assign("$x", ast.NewIntLiteral(2))}),
	))

	instrs := res.Main.Instructions
	require.Equal(t, opcodes.OP_PUSH_TRUE, instrs[0].Op)
	require.Equal(t, opcodes.OP_JZ, instrs[1].Op)

	elseStart := int(instrs[1].A)
	assert.Equal(t, opcodes.OP_JMP, instrs[elseStart-1].Op, "then-branch jumps over else")
	end := int(instrs[elseStart-1].A)
	assert.Greater(t, end, elseStart)
	assert.LessOrEqual(t, end, len(instrs))
}

func TestWhileLoopJumpsBackToCondition(t *testing.T) {
	res := compileRoot(t, ast.NewWhile(
		ast.NewBinaryExpr("<", ast.NewVariable("$i"), ast.NewIntLiteral(3)),
		ast.NewBlock([]ast.Statement{
			ast.NewExpressionStatement(ast.NewPostfixExpr("++", ast.NewVariable("$i"))),
		}),
	))

	instrs := res.Main.Instructions
	require.Equal(t, opcodes.OP_GC_SAFEPOINT, instrs[0].Op, "loop header carries a collector safepoint")

	var backJmp *opcodes.Instruction
	for _, in := range instrs {
		if in.Op == opcodes.OP_JMP && int(in.A) == 0 {
			backJmp = in
		}
	}
	require.NotNil(t, backJmp, "loop body ends with a jump to the top")

	var exit *opcodes.Instruction
	for _, in := range instrs {
		if in.Op == opcodes.OP_JZ {
			exit = in
		}
	}
	require.NotNil(t, exit)
	assert.Equal(t, opcodes.OP_RET_VOID, instrs[int(exit.A)].Op, "condition failure exits past the loop")
}

func TestBreakAndContinuePatching(t *testing.T) {
	res := compileRoot(t, ast.NewWhile(
		ast.NewBoolLiteral(true),
		ast.NewBlock([]ast.Statement{
			ast.NewIf(ast.NewVariable("$done"), ast.NewBlock([]ast.Statement{ast.NewBreak(1)}), nil),
			ast.NewContinue(1),
		}),
	))

	instrs := res.Main.Instructions
	var jmps []int
	for i, in := range instrs {
		if in.Op == opcodes.OP_JMP {
			jmps = append(jmps, i)
		}
	}
	require.GreaterOrEqual(t, len(jmps), 3)

	// break lands after the loop, continue back on the loop header.
	breakTarget := int(instrs[jmps[0]].A)
	continueTarget := int(instrs[jmps[1]].A)
	assert.Equal(t, opcodes.OP_RET_VOID, instrs[breakTarget].Op)
	assert.Equal(t, 0, continueTarget)
}

func TestBreakOutsideLoopFails(t *testing.T) {
	_, err := New().Compile(ast.NewRoot([]ast.Statement{ast.NewBreak(1)}))
	assert.Error(t, err)
}

func TestForeachLowering(t *testing.T) {
	res := compileRoot(t, ast.NewForeach(
		ast.NewVariable("$a"),
		ast.NewVariable("$k"),
		ast.NewVariable("$v"),
		false,
		ast.NewBlock(nil),
	))

	got := ops(res.Main)
	assert.Equal(t, []opcodes.Opcode{
		opcodes.OP_PUSH_GLOBAL,
		opcodes.OP_FOREACH_INIT,
		opcodes.OP_GC_SAFEPOINT,
		opcodes.OP_FOREACH_NEXT,
		opcodes.OP_STORE_GLOBAL, // key
		opcodes.OP_STORE_GLOBAL, // value
		opcodes.OP_JMP,
		opcodes.OP_POP, // discard the cursor
		opcodes.OP_RET_VOID,
	}, got)

	next := res.Main.Instructions[3]
	assert.Equal(t, 7, int(next.A), "exhaustion jumps to the cursor pop")
	assert.Equal(t, 2, int(res.Main.Instructions[6].A), "back edge re-enters at the safepoint")
}

func TestTryCatchFinallyTable(t *testing.T) {
	res := compileRoot(t, ast.NewTry(
		ast.NewBlock([]ast.Statement{assign("$x", ast.NewIntLiteral(1))}),
		[]*ast.Catch{
			{Types: []string{"LogicException"}, Var: ast.NewVariable("$e"), Body: ast.NewBlock(nil)},
			{Types: []string{"RuntimeException"}, Var: ast.NewVariable("$e"), Body: ast.NewBlock(nil)},
		},
		ast.NewBlock([]ast.Statement{assign("$f", ast.NewIntLiteral(2))}),
	))

	table := res.Main.ExceptionTable
	require.Len(t, table, 3, "one row per catch plus one finally row")

	first, second, fin := table[0], table[1], table[2]
	assert.True(t, first.HasCatch)
	assert.True(t, second.HasCatch)
	assert.False(t, fin.HasCatch)
	assert.True(t, fin.HasFinally)

	assert.Equal(t, first.Start, second.Start)
	assert.Equal(t, first.End, second.End)
	assert.Equal(t, "LogicException", res.Main.Constants[first.CatchType].ToString())
	assert.Equal(t, "RuntimeException", res.Main.Constants[second.CatchType].ToString())
	assert.Less(t, first.HandlerPC, second.HandlerPC)
	assert.GreaterOrEqual(t, fin.FinallyPC, second.HandlerPC)
	assert.Greater(t, fin.FinallyEnd, fin.FinallyPC)
}

func TestReturnInsideTryRunsFinallyFirst(t *testing.T) {
	res := compileRoot(t, ast.NewTry(
		ast.NewBlock([]ast.Statement{ast.NewReturn(ast.NewIntLiteral(1))}),
		nil,
		ast.NewBlock([]ast.Statement{assign("$f", ast.NewIntLiteral(2))}),
	))

	instrs := res.Main.Instructions
	var retIdx int
	for i, in := range instrs {
		if in.Op == opcodes.OP_RET {
			retIdx = i
			break
		}
	}
	require.Greater(t, retIdx, 0)
	var sawFinallyStore bool
	for _, in := range instrs[:retIdx] {
		if in.Op == opcodes.OP_STORE_GLOBAL {
			sawFinallyStore = true
		}
	}
	assert.True(t, sawFinallyStore, "the finally body is inlined ahead of the return")
}

func TestFunctionDeclarationProducesFunction(t *testing.T) {
	p := ast.NewParameter("$n")
	decl := ast.NewFunctionDecl("double", []*ast.Parameter{p}, ast.NewBlock([]ast.Statement{
		ast.NewReturn(ast.NewBinaryExpr("*", ast.NewVariable("$n"), ast.NewIntLiteral(2))),
	}))
	res := compileRoot(t, decl)

	fn, ok := res.Functions["double"]
	require.True(t, ok)
	assert.Equal(t, 1, fn.ArgCount)
	assert.Equal(t, 1, fn.MinArgs)
	assert.Equal(t, 1, fn.LocalCount)
	assert.Equal(t, opcodes.OP_PUSH_LOCAL, fn.Instructions[0].Op, "parameters address local slots")
}

func TestStackHeightNeverExceedsMaxStack(t *testing.T) {
	// (1+2)*(3+4) needs more working stack than a bare literal.
	expr := ast.NewBinaryExpr("*",
		ast.NewBinaryExpr("+", ast.NewIntLiteral(1), ast.NewIntLiteral(2)),
		ast.NewBinaryExpr("+", ast.NewIntLiteral(3), ast.NewIntLiteral(4)),
	)
	res := compileRoot(t, assign("$x", expr))

	main := res.Main
	require.GreaterOrEqual(t, main.MaxStack, 2)

	depth, max := 0, 0
	for _, in := range main.Instructions {
		depth += stackDelta(in)
		if depth > max {
			max = depth
		}
	}
	assert.LessOrEqual(t, max, main.MaxStack, "simulated depth never exceeds the declared maximum")
}

// stackDelta mirrors the net effect of the opcodes this test's straight-line
// program uses.
func stackDelta(in *opcodes.Instruction) int {
	switch in.Op {
	case opcodes.OP_PUSH_CONST, opcodes.OP_DUP:
		return 1
	case opcodes.OP_ADD, opcodes.OP_MUL:
		return -1
	case opcodes.OP_STORE_GLOBAL, opcodes.OP_POP:
		return -1
	default:
		return 0
	}
}

func TestClassDeclRegistersMembers(t *testing.T) {
	decl := ast.NewClassDecl("Greeter")
	decl.Properties = []*ast.PropertyDecl{{Name: "greeting", Visibility: "private", Default: ast.NewStringLiteral("hi")}}
	decl.Methods = []*ast.MethodDecl{{
		FunctionDecl: ast.FunctionDecl{
			Base: ast.Base{Kind: ast.KindFunctionDecl}, Name: "greet",
			Body: ast.NewBlock([]ast.Statement{ast.NewReturn(ast.NewPropertyAccess(ast.NewVariable("$this"), "greeting"))}),
		},
		Visibility: "public",
	}}
	res := compileRoot(t, decl)

	cls, ok := res.Classes["Greeter"]
	require.True(t, ok)
	assert.Equal(t, "hi", cls.Properties["greeting"].DefaultValue.ToString())
	method := cls.Methods["greet"]
	require.NotNil(t, method)
	assert.False(t, method.IsStatic)
	assert.Equal(t, opcodes.OP_PUSH_LOCAL, method.Instructions[0].Op, "$this occupies local slot 0")
	assert.Equal(t, uint16(0), method.Instructions[0].A)
}

func TestConstructorPromotionDeclaresAndAssigns(t *testing.T) {
	param := ast.NewParameter("$x")
	param.Promoted = true
	param.Visibility = "private"
	decl := ast.NewClassDecl("Vec")
	decl.Methods = []*ast.MethodDecl{{
		FunctionDecl: ast.FunctionDecl{
			Base: ast.Base{Kind: ast.KindFunctionDecl}, Name: "__construct",
			Params: []*ast.Parameter{param}, Body: ast.NewBlock(nil),
		},
	}}
	res := compileRoot(t, decl)

	cls := res.Classes["Vec"]
	require.Contains(t, cls.Properties, "x")
	ctor := cls.Methods["__construct"]
	var sawSetProp bool
	for _, in := range ctor.Instructions {
		if in.Op == opcodes.OP_SET_PROP {
			sawSetProp = true
		}
	}
	assert.True(t, sawSetProp, "promotion synthesizes $this->x = $x")
}

func TestEnumLowersToFinalClassWithConstants(t *testing.T) {
	decl := ast.NewEnumDecl("Suit")
	decl.BackingType = "string"
	decl.Cases = []ast.EnumCase{
		{Name: "Hearts", Value: ast.NewStringLiteral("H")},
		{Name: "Spades", Value: ast.NewStringLiteral("S")},
	}
	res := compileRoot(t, decl)

	cls, ok := res.Classes["Suit"]
	require.True(t, ok)
	assert.True(t, cls.IsFinal)
	assert.Equal(t, "H", cls.Constants["Hearts"].Value.ToString())
	assert.Equal(t, "S", cls.Constants["Spades"].Value.ToString())
}

func TestClosureCaptureSlotsFollowParameters(t *testing.T) {
	// $f = function ($p) use ($a, $b) { return $p; };
	closure := ast.NewClosure(
		[]*ast.Parameter{ast.NewParameter("$p")},
		[]ast.Capture{{Name: "$a"}, {Name: "$b", ByRef: true}},
		ast.NewBlock([]ast.Statement{ast.NewReturn(ast.NewVariable("$p"))}),
	)
	res := compileRoot(t, assign("$f", closure))

	require.Len(t, res.Main.FunctionProtos, 1)
	proto := res.Main.FunctionProtos[0]
	assert.Equal(t, 3, proto.LocalCount, "one parameter plus two capture slots")

	var captures []*opcodes.Instruction
	for _, in := range res.Main.Instructions {
		if in.Op == opcodes.OP_CAPTURE_VAR {
			captures = append(captures, in)
		}
	}
	require.Len(t, captures, 2)
	assert.Equal(t, uint16(2), captures[0].B, "by-value capture of a global-scope variable")
	assert.Equal(t, uint16(3), captures[1].B, "by-reference capture of a global-scope variable")

	var mk *opcodes.Instruction
	for _, in := range res.Main.Instructions {
		if in.Op == opcodes.OP_MAKE_CLOSURE {
			mk = in
		}
	}
	require.NotNil(t, mk)
	assert.Equal(t, uint16(2), mk.B)
}

func TestPipeWithKnownBuiltinCompilesToDirectCall(t *testing.T) {
	// "abc" |> strlen(...)
	callee := &ast.FunctionCall{Base: ast.Base{Kind: ast.KindFunctionCall}, Name: "strlen", FirstClassRef: true}
	res := compileRoot(t, ast.NewExpressionStatement(ast.NewPipeExpr(ast.NewStringLiteral("abc"), callee)))

	var sawBuiltin bool
	for _, in := range res.Main.Instructions {
		if in.Op == opcodes.OP_CALL_BUILTIN {
			sawBuiltin = true
			assert.Equal(t, uint16(1), in.B)
		}
		assert.NotEqual(t, opcodes.OP_MAKE_CLOSURE, in.Op, "no closure is materialized for a named pipe stage")
	}
	assert.True(t, sawBuiltin)
}

func TestCloneWithLowersToSetProps(t *testing.T) {
	res := compileRoot(t, assign("$b", ast.NewCloneExpr(
		ast.NewVariable("$a"),
		[]*ast.ArrayPair{ast.NewArrayPair(ast.NewStringLiteral("x"), ast.NewIntLiteral(5))},
	)))

	got := ops(res.Main)
	assert.Contains(t, got, opcodes.OP_CLONE)
	assert.Contains(t, got, opcodes.OP_SET_PROP)
}

func TestUnsetLowering(t *testing.T) {
	res := compileRoot(t, ast.NewUnset([]ast.Expression{
		ast.NewVariable("$x"),
		ast.NewArrayAccess(ast.NewVariable("$a"), ast.NewStringLiteral("k")),
		ast.NewPropertyAccess(ast.NewVariable("$o"), "p"),
	}))

	got := ops(res.Main)
	assert.Equal(t, []opcodes.Opcode{
		opcodes.OP_UNSET_GLOBAL,
		opcodes.OP_PUSH_GLOBAL, // $a
		opcodes.OP_PUSH_CONST,  // "k"
		opcodes.OP_ARRAY_UNSET,
		opcodes.OP_PUSH_GLOBAL, // $o
		opcodes.OP_UNSET_PROP,
		opcodes.OP_RET_VOID,
	}, got)
	assert.Equal(t, "p", res.Main.Constants[res.Main.Instructions[5].A].ToString())
}

func TestUnsetInFunctionAddressesLocalSlot(t *testing.T) {
	decl := ast.NewFunctionDecl("drop", []*ast.Parameter{ast.NewParameter("$v")}, ast.NewBlock([]ast.Statement{
		ast.NewUnset([]ast.Expression{ast.NewVariable("$v")}),
	}))
	res := compileRoot(t, decl)

	fn := res.Functions["drop"]
	assert.Equal(t, opcodes.OP_UNSET_LOCAL, fn.Instructions[0].Op)
	assert.Equal(t, uint16(0), fn.Instructions[0].A)
}

func TestShortCircuitAndSkipsRHS(t *testing.T) {
	res := compileRoot(t, assign("$x", ast.NewBinaryExpr("&&",
		ast.NewVariable("$a"), ast.NewVariable("$b"))))

	instrs := res.Main.Instructions
	var jz *opcodes.Instruction
	for _, in := range instrs {
		if in.Op == opcodes.OP_JZ {
			jz = in
		}
	}
	require.NotNil(t, jz, "&& lowers through a conditional jump, not a logic opcode")
	for _, in := range instrs {
		assert.NotEqual(t, opcodes.OP_LOGIC_AND, in.Op)
	}
}
