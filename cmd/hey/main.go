package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v3"

	"github.com/wudi/heyvm/ast"
	"github.com/wudi/heyvm/compiler"
	"github.com/wudi/heyvm/optimizer"
	"github.com/wudi/heyvm/version"
	"github.com/wudi/heyvm/vm"
)

// errNoParser is returned by every code path that starts from raw PHP
// source text: this repository treats the lexer and parser as an external
// collaborator and never fabricates one. execute is the real
// entry point exercised once a caller already holds an ast.Root, whether
// that root came from an embedder or (eventually) a parser process.
var errNoParser = fmt.Errorf("no lexer/parser is built into this binary; source text must be compiled externally into the ast.Root this engine consumes")

func main() {
	app := &cli.Command{
		Name:  "hey",
		Usage: "Bytecode virtual machine core for PHP 8.5",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "version",
				Usage: "Show version",
			},
			&cli.BoolFlag{
				Name:    "a",
				Aliases: []string{"interactive"},
				Usage:   "Run as interactive shell",
			},
			&cli.BoolFlag{
				Name:  "optimize",
				Usage: "Run the bytecode optimizer pipeline before executing",
				Value: true,
			},
			&cli.StringFlag{
				Name:    "code",
				Aliases: []string{"r"},
				Usage:   "Run <code> without using script tags <?..?>",
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Execute <file>",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Load VM tuning (gc_threshold, max_call_depth, time_limit_secs) from a YAML file",
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, formatErrorMessage(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("version") {
		fmt.Println(version.Version())
		return nil
	}
	optimize := cmd.Bool("optimize")
	cfg := vm.DefaultConfig()
	if path := cmd.String("config"); path != "" {
		loaded, err := vm.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cmd.Bool("a") {
		return runInteractiveShell(cfg, optimize)
	}
	if file := cmd.String("file"); file != "" {
		return runFile(file, cfg, optimize)
	}
	if cmd.String("code") != "" {
		return wrapSourceErr("<code>")
	}
	if args := cmd.Args().Slice(); len(args) > 0 {
		return runFile(args[0], cfg, optimize)
	}

	if _, err := io.ReadAll(os.Stdin); err != nil {
		return err
	}
	return wrapSourceErr("<stdin>")
}

func runFile(path string, _ *vm.Config, _ bool) error {
	if _, err := os.ReadFile(path); err != nil {
		return fmt.Errorf("require: failed to read %s: %w", path, err)
	}
	return wrapSourceErr(path)
}

func wrapSourceErr(path string) error {
	return fmt.Errorf("execution error in %s: %w", path, errNoParser)
}

// execute drives one already-built ast.Root through the engine core:
// compile, optionally optimize every declared function to a fixed point,
// load into a fresh VM, and run to completion. This is the real pipeline
// cmd/hey exists to expose; the source-text entry points above never reach
// it because they have no parser to produce a root in the first place.
func execute(root *ast.Root, cfg *vm.Config, optimize bool) error {
	c := compiler.New()
	res, err := c.Compile(root)
	if err != nil {
		return err
	}
	if optimize {
		opt := optimizer.NewOptimizer()
		opt.OptimizeWithStats(res.Main)
		for _, fn := range res.Functions {
			opt.OptimizeWithStats(fn)
		}
		for _, cls := range res.Classes {
			for _, fn := range cls.Methods {
				opt.OptimizeWithStats(fn)
			}
		}
	}

	machine := vm.New(cfg)
	if err := machine.Load(res); err != nil {
		return err
	}
	if err := machine.Run(); err != nil {
		return err
	}
	if code := machine.ExitCode(); code != 0 {
		os.Exit(code)
	}
	return nil
}

func runInteractiveShell(_ *vm.Config, _ bool) error {
	rl, err := readline.New("hey> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("Interactive mode enabled. There is no built-in parser in this build;")
	fmt.Println("this shell only confirms the compiler/optimizer/vm pipeline is wired up.")

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on Ctrl-D, readline.ErrInterrupt on Ctrl-C
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		fmt.Fprintln(os.Stderr, formatErrorMessage(wrapSourceErr("<repl>")))
	}
}

// vmFrameRe matches a "vm error at ip=N opcode=OP in FILE on line N: "
// wrapper; the vm package in this repository does not produce one.
var vmFrameRe = regexp.MustCompile(`vm error at ip=\d+ opcode=(\S+) in (\S+) on line (\d+): `)

// execFrameRe matches the "execution error in FILE: " wrapper cmd/hey
// itself applies around a top-level run; used only as a fallback stack
// frame when no vm-level frame is present at all.
var execFrameRe = regexp.MustCompile(`^execution error in (\S+): `)

// formatErrorMessage renders a (possibly multiply-wrapped) error the way a
// PHP CLI reports an uncaught error: the innermost cause on an "Error:"
// line, then an "Include stack:" trace built from every distinguishable
// wrapping frame found along the way, most specific first, with repeated
// frames collapsed. fmt.Errorf("...: %w", inner).Error() is always exactly
// this layer's own template text followed by inner.Error(), so the frames
// can be read directly off the flattened string without type-asserting
// anything via errors.Unwrap.
func formatErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	var frames []string
	if matches := vmFrameRe.FindAllStringSubmatch(msg, -1); len(matches) > 0 {
		for _, m := range matches {
			opcode, file, line := m[1], m[2], m[3]
			frame := fmt.Sprintf("  - %s:%s (opcode %s)", file, line, opcode)
			if len(frames) == 0 || frames[len(frames)-1] != frame {
				frames = append(frames, frame)
			}
		}
	} else if m := execFrameRe.FindStringSubmatch(msg); m != nil {
		frames = append(frames, "  - "+m[1])
	}

	root := msg
	for {
		if loc := vmFrameRe.FindStringIndex(root); loc != nil && loc[0] == 0 {
			root = root[loc[1]:]
			continue
		}
		if loc := execFrameRe.FindStringIndex(root); loc != nil && loc[0] == 0 {
			root = root[loc[1]:]
			continue
		}
		break
	}

	out := "Error: " + root
	if len(frames) > 0 {
		out += "\nInclude stack:\n" + strings.Join(frames, "\n")
	}
	return out
}
