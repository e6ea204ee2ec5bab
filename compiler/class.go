package compiler

import (
	"fmt"

	"github.com/wudi/heyvm/ast"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// compileClassDecl builds a registry.Class from a class declaration.
// Methods compile through the same compileFunction path ordinary functions
// use, with class set so self/$this resolve; property and constant defaults
// are constant-folded since the registry needs them without running
// bytecode (shape finalization reads them directly).
func (c *Compiler) compileClassDecl(n *ast.ClassDecl) error {
	if _, exists := c.result.Classes[n.Name]; exists {
		return fmt.Errorf("class %s already declared", n.Name)
	}
	class := &registry.Class{
		Name:       n.Name,
		Parent:     n.Parent,
		Interfaces: n.Interfaces,
		Properties: make(map[string]*registry.Property),
		Methods:    make(map[string]*registry.Function),
		Constants:  make(map[string]*registry.ClassConstant),
		IsAbstract: n.Abstract,
		IsFinal:    n.Final,
	}
	for _, tu := range n.Traits {
		class.Traits = append(class.Traits, tu.Names...)
	}
	for _, p := range n.Properties {
		class.Properties[p.Name] = compileProperty(p)
	}
	for _, cst := range n.Constants {
		val, _ := constantFold(cst.Value)
		class.Constants[cst.Name] = &registry.ClassConstant{Name: cst.Name, Value: val, Visibility: cst.Visibility}
	}
	for _, m := range n.Methods {
		if m.Name == "__construct" {
			declarePromotedProperties(class, m.Params)
		}
		fn, err := c.compileMethod(m, n.Name)
		if err != nil {
			return fmt.Errorf("class %s: %w", n.Name, err)
		}
		class.Methods[m.Name] = fn
	}
	c.result.Classes[n.Name] = class
	return nil
}

// declarePromotedProperties adds a Property for each constructor-promoted
// parameter (`public function __construct(private int $x) {}`); the actual
// `$this->x = $x` assignment is injected into the constructor body by
// compileMethod via prependPromotedAssignments.
func declarePromotedProperties(class *registry.Class, params []*ast.Parameter) {
	for _, p := range params {
		if !p.Promoted {
			continue
		}
		name := p.Name[1:]
		class.Properties[name] = &registry.Property{
			Name:       name,
			Visibility: p.Visibility,
			Type:       p.Type,
		}
	}
}

// prependPromotedAssignments synthesizes `$this->name = $name;` for every
// promoted constructor parameter, ahead of the declared body, since the
// generator has no other hook for running implicit assignments before
// user code sees $this.
func prependPromotedAssignments(params []*ast.Parameter, body *ast.Block) *ast.Block {
	var assigns []ast.Statement
	for _, p := range params {
		if !p.Promoted {
			continue
		}
		name := p.Name[1:]
		target := ast.NewPropertyAccess(ast.NewVariable("$this"), name)
		assign := ast.NewAssignment(target, "=", ast.NewVariable(p.Name))
		assigns = append(assigns, ast.NewExpressionStatement(assign))
	}
	if len(assigns) == 0 {
		return body
	}
	out := &ast.Block{}
	out.Stmts = append(out.Stmts, assigns...)
	if body != nil {
		out.Stmts = append(out.Stmts, body.Stmts...)
	}
	return out
}

// compileInterfaceDecl builds a registry.Interface. Methods only carry
// signatures (an interface body is never compiled), so this bypasses
// compileFunction entirely.
func (c *Compiler) compileInterfaceDecl(n *ast.InterfaceDecl) error {
	if _, exists := c.result.Interfaces[n.Name]; exists {
		return fmt.Errorf("interface %s already declared", n.Name)
	}
	iface := &registry.Interface{
		Name:    n.Name,
		Extends: n.Extends,
		Methods: make(map[string]*registry.InterfaceMethod),
	}
	for _, m := range n.Methods {
		iface.Methods[m.Name] = &registry.InterfaceMethod{
			Name:       m.Name,
			Visibility: m.Visibility,
			Parameters: convertParams(m.Params),
			ReturnType: m.ReturnType,
		}
	}
	// n.Constants (interface constants) aren't modeled on registry.Interface;
	// an implementing class redeclares them as its own ClassConstants, the
	// same path compileClassDecl already takes for any class constant.
	c.result.Interfaces[n.Name] = iface
	return nil
}

// compileTraitDecl builds a registry.Trait. Its methods and properties are
// compiled exactly like a class's; a `use` clause in a class only records
// the trait's name (registry.Class.Traits), with Registry.FinalizeClass
// responsible for composing the members into the using class's shape.
func (c *Compiler) compileTraitDecl(n *ast.TraitDecl) error {
	if _, exists := c.result.Traits[n.Name]; exists {
		return fmt.Errorf("trait %s already declared", n.Name)
	}
	trait := &registry.Trait{
		Name:       n.Name,
		Properties: make(map[string]*registry.Property),
		Methods:    make(map[string]*registry.Function),
	}
	for _, p := range n.Properties {
		trait.Properties[p.Name] = compileProperty(p)
	}
	for _, m := range n.Methods {
		fn, err := c.compileMethod(m, n.Name)
		if err != nil {
			return fmt.Errorf("trait %s: %w", n.Name, err)
		}
		trait.Methods[m.Name] = fn
	}
	c.result.Traits[n.Name] = trait
	return nil
}

// compileEnumDecl lowers an enum to a final registry.Class: one class
// constant per case, holding the case's backing scalar (int/string enums)
// or its bare name (pure enums), alongside the enum's own methods. This
// piggybacks on the ordinary class-constant lookup path (Enum::Case) rather
// than modeling cases as singleton objects with identity, which the
// registry has no lazy-object-constant slot for.
func (c *Compiler) compileEnumDecl(n *ast.EnumDecl) error {
	if _, exists := c.result.Classes[n.Name]; exists {
		return fmt.Errorf("enum %s already declared", n.Name)
	}
	class := &registry.Class{
		Name:       n.Name,
		Interfaces: n.Interfaces,
		Properties: make(map[string]*registry.Property),
		Methods:    make(map[string]*registry.Function),
		Constants:  make(map[string]*registry.ClassConstant),
		IsFinal:    true,
	}
	for _, cs := range n.Cases {
		var val *values.Value
		if cs.Value != nil {
			v, ok := constantFold(cs.Value)
			if !ok {
				return fmt.Errorf("enum %s: case %s has a non-constant value", n.Name, cs.Name)
			}
			val = v
		} else {
			val = values.NewString(cs.Name)
		}
		class.Constants[cs.Name] = &registry.ClassConstant{Name: cs.Name, Value: val, Visibility: "public", IsFinal: true}
	}
	for _, cst := range n.Constants {
		val, _ := constantFold(cst.Value)
		class.Constants[cst.Name] = &registry.ClassConstant{Name: cst.Name, Value: val, Visibility: cst.Visibility}
	}
	for _, m := range n.Methods {
		fn, err := c.compileMethod(m, n.Name)
		if err != nil {
			return fmt.Errorf("enum %s: %w", n.Name, err)
		}
		class.Methods[m.Name] = fn
	}
	c.result.Classes[n.Name] = class
	return nil
}

// compileMethod compiles one method body, or stands in an abstract/
// interface-free-body method with no instructions at all.
func (c *Compiler) compileMethod(m *ast.MethodDecl, class string) (*registry.Function, error) {
	if m.Abstract || m.Body == nil {
		return &registry.Function{
			Name:       m.Name,
			Parameters: convertParams(m.Params),
			IsAbstract: true,
			IsStatic:   m.Static,
		}, nil
	}
	body := m.Body
	if m.Name == "__construct" {
		body = prependPromotedAssignments(m.Params, body)
	}
	fn, err := c.compileFunction(m.Name, m.Params, body, class, !m.Static)
	if err != nil {
		return nil, err
	}
	fn.IsStatic = m.Static
	return fn, nil
}

// compileProperty folds a property's default value, when it has one, into
// its registry.Property; properties without a literal default are left
// with a nil DefaultValue and the VM assigns PHP's per-type default on
// instantiation.
func compileProperty(p *ast.PropertyDecl) *registry.Property {
	prop := &registry.Property{
		Name:       p.Name,
		Visibility: p.Visibility,
		IsStatic:   p.Static,
		IsReadonly: p.Readonly,
		Type:       p.Type,
	}
	if p.Default != nil {
		if v, ok := constantFold(p.Default); ok {
			prop.DefaultValue = v
		}
	}
	return prop
}

// convertParams builds registry.Parameter metadata without compiling a
// body, used for interface method signatures and abstract methods.
func convertParams(astParams []*ast.Parameter) []*registry.Parameter {
	var params []*registry.Parameter
	for _, p := range astParams {
		rp := &registry.Parameter{
			Name:        p.Name[1:],
			Type:        p.Type,
			IsReference: p.ByRef,
			IsVariadic:  p.Variadic,
		}
		if p.Default != nil {
			if val, ok := constantFold(p.Default); ok {
				rp.HasDefault = true
				rp.DefaultValue = val
			}
		}
		params = append(params, rp)
	}
	return params
}
