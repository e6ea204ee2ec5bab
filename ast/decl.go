package ast

import "fmt"

// FunctionDecl is `function_decl(name, params[], return_type?, body)`.
type FunctionDecl struct {
	Base
	Name       string
	Params     []*Parameter
	ReturnType string
	Body       *Block
	ByRef      bool
}

func NewFunctionDecl(name string, params []*Parameter, body *Block) *FunctionDecl {
	return &FunctionDecl{Base: Base{Kind: KindFunctionDecl}, Name: name, Params: params, Body: body}
}
func (n *FunctionDecl) String() string { return fmt.Sprintf("function %s(...)", n.Name) }

// PropertyDecl is one class property declaration.
type PropertyDecl struct {
	Name       string
	Visibility string // "public", "protected", "private"
	Static     bool
	Readonly   bool
	Type       string
	Default    Expression
}

// ConstDecl is one class constant declaration.
type ConstDecl struct {
	Name       string
	Value      Expression
	Visibility string
}

// MethodDecl is a method inside a ClassDecl.
type MethodDecl struct {
	FunctionDecl
	Visibility string
	Static     bool
	Abstract   bool
	Final      bool
}

// TraitUse names traits composed into a class.
type TraitUse struct {
	Names []string
}

// ClassDecl is `class_decl` with modifier bits.
type ClassDecl struct {
	Base
	Name       string
	Parent     string
	Interfaces []string
	Traits     []TraitUse
	Properties []*PropertyDecl
	Constants  []*ConstDecl
	Methods    []*MethodDecl
	Abstract   bool
	Final      bool
}

func NewClassDecl(name string) *ClassDecl {
	return &ClassDecl{Base: Base{Kind: KindClassDecl}, Name: name}
}
func (n *ClassDecl) String() string { return fmt.Sprintf("class %s", n.Name) }

// InterfaceDecl is `interface_decl`.
type InterfaceDecl struct {
	Base
	Name      string
	Extends   []string
	Methods   []*MethodDecl // signatures only; bodies are nil
	Constants []*ConstDecl
}

func NewInterfaceDecl(name string) *InterfaceDecl {
	return &InterfaceDecl{Base: Base{Kind: KindInterfaceDecl}, Name: name}
}
func (n *InterfaceDecl) String() string { return fmt.Sprintf("interface %s", n.Name) }

// TraitDecl is `trait_decl`.
type TraitDecl struct {
	Base
	Name       string
	Properties []*PropertyDecl
	Methods    []*MethodDecl
}

func NewTraitDecl(name string) *TraitDecl {
	return &TraitDecl{Base: Base{Kind: KindTraitDecl}, Name: name}
}
func (n *TraitDecl) String() string { return fmt.Sprintf("trait %s", n.Name) }

// EnumCase is one case of an EnumDecl; Value is nil for a pure enum.
type EnumCase struct {
	Name  string
	Value Expression
}

// EnumDecl is `enum_decl` with modifier bits; BackingType is "" for a pure
// enum, else "int" or "string".
type EnumDecl struct {
	Base
	Name        string
	BackingType string
	Interfaces  []string
	Cases       []EnumCase
	Methods     []*MethodDecl
	Constants   []*ConstDecl
}

func NewEnumDecl(name string) *EnumDecl {
	return &EnumDecl{Base: Base{Kind: KindEnumDecl}, Name: name}
}
func (n *EnumDecl) String() string { return fmt.Sprintf("enum %s", n.Name) }

func (*FunctionDecl) statementNode()  {}
func (*ClassDecl) statementNode()     {}
func (*InterfaceDecl) statementNode() {}
func (*TraitDecl) statementNode()     {}
func (*EnumDecl) statementNode()      {}
