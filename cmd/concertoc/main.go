// Command concertoc is the Concerto compiler: it lexes, parses,
// analyses, and lowers a source file into a .conc-ir module.
//
// Usage:
//
//	concertoc <input.conc> [-o out.conc-ir] [--check] [--emit-tokens] [--emit-ast]
//	concertoc build <input.conc> [--watch]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/concerto-lang/concerto/internal/codegen"
	"github.com/concerto-lang/concerto/internal/diag"
	"github.com/concerto-lang/concerto/internal/ir"
	"github.com/concerto-lang/concerto/internal/lexer"
	"github.com/concerto-lang/concerto/internal/parser"
	"github.com/concerto-lang/concerto/internal/sema"
	"github.com/concerto-lang/concerto/internal/watch"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	// `concertoc build <file> --watch` is the only subcommand form; the
	// bare form compiles once.
	if args[0] == "build" {
		os.Exit(runBuild(args[1:]))
	}
	os.Exit(runCompile(args))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: concertoc <input.conc> [-o <out>] [--check] [--emit-tokens] [--emit-ast]")
	fmt.Fprintln(os.Stderr, "       concertoc build <input.conc> [--watch]")
}

func runCompile(args []string) int {
	fs := flag.NewFlagSet("concertoc", flag.ExitOnError)
	output := fs.String("o", "", "output path (default: input with .conc-ir extension)")
	check := fs.Bool("check", false, "run diagnostics only, write nothing")
	emitTokens := fs.Bool("emit-tokens", false, "print the token stream and stop")
	emitAST := fs.Bool("emit-ast", false, "print the parsed declarations and stop")

	input, rest := splitInput(args)
	fs.Parse(rest)

	if input == "" {
		usage()
		return 1
	}
	return compileOnce(input, *output, *check, *emitTokens, *emitAST)
}

// splitInput pulls the first non-flag argument out so `concertoc x.conc
// --check` and `concertoc --check x.conc` both work.
func splitInput(args []string) (string, []string) {
	input := ""
	rest := make([]string, 0, len(args))
	for _, a := range args {
		if input == "" && !strings.HasPrefix(a, "-") {
			input = a
			continue
		}
		rest = append(rest, a)
	}
	return input, rest
}

func compileOnce(input, output string, check, emitTokens, emitAST bool) int {
	source, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	text := string(source)

	tokens, lexDiags := lexer.Tokenize(text, input)
	if emitTokens {
		for _, tok := range tokens {
			fmt.Println(tok)
		}
		return reportDiagnostics(lexDiags, text)
	}

	prog, parseDiags := parser.Parse(tokens, input)
	if emitAST {
		for _, d := range prog.Declarations {
			fmt.Printf("%T %s\n", d, d.DeclSpan())
		}
		bag := diag.NewBag()
		bag.Merge(lexDiags)
		bag.Merge(parseDiags)
		return reportDiagnostics(bag, text)
	}

	semaDiags := sema.Analyze(prog)

	all := diag.NewBag()
	all.Merge(lexDiags)
	all.Merge(parseDiags)
	all.Merge(semaDiags)

	var mod *ir.Module
	if !all.HasErrors() {
		var genDiags *diag.Bag
		mod, genDiags = codegen.Emit(prog, moduleName(input), input)
		all.Merge(genDiags)
	}

	if code := reportDiagnostics(all, text); code != 0 {
		return code
	}
	if check {
		return 0
	}

	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + ".conc-ir"
	}
	if err := ir.WriteFile(output, mod); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func moduleName(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// reportDiagnostics prints every diagnostic with its source excerpt and
// returns 1 when any is an error.
func reportDiagnostics(bag *diag.Bag, source string) int {
	for _, d := range bag.Items() {
		fmt.Fprint(os.Stderr, diag.Format(d, source))
	}
	if bag.HasErrors() {
		return 1
	}
	return 0
}

func runBuild(args []string) int {
	fs := flag.NewFlagSet("concertoc build", flag.ExitOnError)
	watchFlag := fs.Bool("watch", false, "recompile on source changes")
	output := fs.String("o", "", "output path")

	input, rest := splitInput(args)
	fs.Parse(rest)

	if input == "" {
		usage()
		return 1
	}
	if info, err := os.Stat(input); err != nil || info.IsDir() {
		fmt.Fprintf(os.Stderr, "error: no such file: %s\n", input)
		return 1
	}

	code := compileOnce(input, *output, false, false, false)
	if !*watchFlag {
		return code
	}

	rebuild := func() {
		fmt.Fprintf(os.Stderr, "rebuilding %s\n", input)
		compileOnce(input, *output, false, false, false)
	}
	w, err := watch.NewWatcher(filepath.Dir(input), rebuild)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if err := w.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer w.Stop()

	fmt.Fprintf(os.Stderr, "watching %s for changes\n", filepath.Dir(input))
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return 0
}
