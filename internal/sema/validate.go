package sema

import (
	"fmt"

	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/diag"
)

type nameAt struct {
	name string
	span diag.Span
}

// validateUniqueFields reports duplicate field names inside one schema
// or struct declaration.
func (a *Analyzer) validateUniqueFields(owner string, fields []nameAt, declSpan diag.Span) {
	seen := map[string]diag.Span{}
	for _, f := range fields {
		if prior, dup := seen[f.name]; dup {
			a.diags.ErrorWithRelated(
				fmt.Sprintf("duplicate field '%s' in %s", f.name, owner),
				f.span,
				diag.RelatedSpan{Span: prior, Message: "first declared here"},
			)
			continue
		}
		seen[f.name] = f.span
	}
}

// validateFunction enforces declaration shape: every parameter carries a
// type annotation, and @test functions take nothing and return nothing.
func (a *Analyzer) validateFunction(fn *ast.FunctionDecl) {
	for _, p := range fn.Params {
		if p.Type == nil {
			a.diags.ErrorWithHelp(
				fmt.Sprintf("parameter '%s' of '%s' is missing a type annotation", p.Name, fn.Name),
				p.Span,
				fmt.Sprintf("write '%s: Type'", p.Name),
			)
		}
	}

	if hasDecorator(fn.Decorators, "test") {
		if len(fn.Params) > 0 || fn.SelfParam != nil {
			a.diags.Error(fmt.Sprintf("@test function '%s' must not take parameters", fn.Name), fn.Span)
		}
		if fn.ReturnType != nil {
			a.diags.Error(fmt.Sprintf("@test function '%s' must not declare a return type", fn.Name), fn.Span)
		}
	}
}

// validateAgent requires the provider field every agent must bind to a
// connection.
func (a *Analyzer) validateAgent(d *ast.AgentDecl) {
	for _, f := range d.Fields {
		if f.Name == "provider" || f.Name == "connection" {
			return
		}
	}
	a.diags.ErrorWithHelp(
		fmt.Sprintf("agent '%s' must declare a provider", d.Name),
		d.Span,
		`add a field like 'provider: "anthropic"'`,
	)
}

// validateTool enforces the tool declaration contract: a description
// field, a @describe decorator on every public method, and @param
// decorators matching the method's parameter count.
func (a *Analyzer) validateTool(d *ast.ToolDecl) {
	hasDescription := false
	for _, f := range d.Fields {
		if f.Name == "description" {
			hasDescription = true
		}
	}
	if !hasDescription {
		a.diags.ErrorWithHelp(
			fmt.Sprintf("tool '%s' must declare a description", d.Name),
			d.Span,
			`add a field like 'description: "what this tool does"'`,
		)
	}

	for _, m := range d.Methods {
		a.validateFunction(m)
		if m.Public && !hasDecorator(m.Decorators, "describe") {
			a.diags.ErrorWithHelp(
				fmt.Sprintf("public tool method '%s::%s' is missing @describe", d.Name, m.Name),
				m.Span,
				`add '@describe("...")' above the method`,
			)
		}
		paramDecs := countDecorators(m.Decorators, "param")
		if paramDecs > 0 && paramDecs != len(m.Params) {
			a.diags.Warning(
				fmt.Sprintf("'%s::%s' has %d @param decorator(s) but %d parameter(s)", d.Name, m.Name, paramDecs, len(m.Params)),
				m.Span,
			)
		}
	}
}

// validatePipeline checks that each stage declares a return type, that
// adjacent stages are pipeline-assignable, and that the pipeline's
// declared input/output match the first stage's input and the last
// stage's output under the same relation.
func (a *Analyzer) validatePipeline(d *ast.PipelineDecl) {
	if len(d.Stages) == 0 {
		a.diags.Error(fmt.Sprintf("pipeline '%s' has no stages", d.Name), d.Span)
		return
	}

	stageTypes := make([]struct{ in, out Type }, len(d.Stages))
	for i, stage := range d.Stages {
		if stage.OutputType == nil {
			a.diags.ErrorWithHelp(
				fmt.Sprintf("stage '%s' of pipeline '%s' must declare a return type", stage.Name, d.Name),
				stage.Span,
				"add '-> Type' to the stage signature",
			)
		}
		in := unknown()
		if stage.InputType != nil {
			in = a.typeFromExpr(stage.InputType)
		} else if len(stage.Params) > 0 {
			in = a.typeFromExpr(stage.Params[0].Type)
		}
		stageTypes[i] = struct{ in, out Type }{in, a.typeFromExpr(stage.OutputType)}
	}

	for i := 0; i+1 < len(d.Stages); i++ {
		out, in := stageTypes[i].out, stageTypes[i+1].in
		if !pipelineAssignable(out, in) {
			a.diags.Error(
				fmt.Sprintf("pipeline '%s': stage '%s' returns %s but stage '%s' accepts %s",
					d.Name, d.Stages[i].Name, out, d.Stages[i+1].Name, in),
				d.Stages[i+1].Span,
			)
		}
	}

	if d.InputType != nil {
		declared := a.typeFromExpr(d.InputType)
		if !pipelineAssignable(declared, stageTypes[0].in) {
			a.diags.Error(
				fmt.Sprintf("pipeline '%s' declares input %s but stage '%s' accepts %s",
					d.Name, declared, d.Stages[0].Name, stageTypes[0].in),
				d.Span,
			)
		}
	}
	if d.OutputType != nil {
		declared := a.typeFromExpr(d.OutputType)
		last := len(d.Stages) - 1
		if !pipelineAssignable(stageTypes[last].out, declared) {
			a.diags.Error(
				fmt.Sprintf("pipeline '%s' declares output %s but stage '%s' returns %s",
					d.Name, declared, d.Stages[last].Name, stageTypes[last].out),
				d.Span,
			)
		}
	}
}

func hasDecorator(decs []ast.Decorator, name string) bool {
	for _, d := range decs {
		if d.Name == name {
			return true
		}
	}
	return false
}

func countDecorators(decs []ast.Decorator, name string) int {
	n := 0
	for _, d := range decs {
		if d.Name == name {
			n++
		}
	}
	return n
}
