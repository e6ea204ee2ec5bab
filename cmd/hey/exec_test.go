package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wudi/heyvm/ast"
	"github.com/wudi/heyvm/vm"
)

// echoRoot builds `echo "hello";` by hand, standing in for what an external
// parser would hand this engine (see ast's package doc).
func echoRoot(text string) *ast.Root {
	call := ast.NewFunctionCall("echo", nil, []ast.Argument{{Value: ast.NewStringLiteral(text)}})
	return ast.NewRoot([]ast.Statement{ast.NewExpressionStatement(call)})
}

func TestExecuteRunsCompiledProgram(t *testing.T) {
	var out bytes.Buffer
	cfg := vm.DefaultConfig()
	cfg.Stdout = &out

	if err := execute(echoRoot("hello from the vm"), cfg, true); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := out.String(); got != "hello from the vm" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestRunFileReportsMissingFile(t *testing.T) {
	err := runFile("/nonexistent/path/to/script.php", nil, true)
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	const want = "require: failed to read /nonexistent/path/to/script.php: "
	if got := err.Error(); got[:len(want)] != want {
		t.Fatalf("unexpected error: %q", got)
	}
}

func TestWrapSourceErrIsNoParser(t *testing.T) {
	err := wrapSourceErr("<code>")
	if !errors.Is(err, errNoParser) {
		t.Fatalf("expected errNoParser in the chain, got %v", err)
	}
}
