package expr

// Node is a sealed interface over AST node types.
// Only the node structs in this package implement it.
type Node interface {
	node() // Sealed
	Span() Span
}

// NumberLit is a numeric literal.
type NumberLit struct {
	Val  float64
	Loc  Span
}

// StringLit is a double-quoted string literal.
type StringLit struct {
	Val string
	Loc Span
}

// BoolLit is true or false.
type BoolLit struct {
	Val bool
	Loc Span
}

// SelfRef reads a property of the entity under evaluation.
// Both the '#name' shorthand and the explicit '@self.name' form parse
// to this node.
type SelfRef struct {
	Name string
	Loc  Span
}

// CrossRef reads a property of another entity: '@{<ref-expr>}.name'.
// Ref must evaluate to a Reference value at runtime.
type CrossRef struct {
	Ref  Node
	Name string
	Loc  Span
}

// RelRef projects a property across a relationship collection:
// '@rel("line_items").price'. It evaluates to a list of the property's
// values over all related entities, in relationship order.
type RelRef struct {
	Rel  string
	Name string
	Loc  Span
}

// Op is a unary or binary operator.
type Op string

const (
	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"
	OpDiv Op = "/"
	OpNeg Op = "neg"
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLe  Op = "<="
	OpGt  Op = ">"
	OpGe  Op = ">="
)

// Unary applies an operator to one operand.
type Unary struct {
	Op  Op
	X   Node
	Loc Span
}

// Binary applies an operator to two operands.
type Binary struct {
	Op   Op
	X, Y Node
	Loc  Span
}

// Call invokes a builtin function. The builtin set is closed: unknown
// names are rejected by the parser, so Fn is always a known member.
type Call struct {
	Fn   Builtin
	Args []Node
	Loc  Span
}

func (NumberLit) node() {}
func (StringLit) node() {}
func (BoolLit) node()   {}
func (SelfRef) node()   {}
func (CrossRef) node()  {}
func (RelRef) node()    {}
func (Unary) node()     {}
func (Binary) node()    {}
func (Call) node()      {}

func (n NumberLit) Span() Span { return n.Loc }
func (n StringLit) Span() Span { return n.Loc }
func (n BoolLit) Span() Span   { return n.Loc }
func (n SelfRef) Span() Span   { return n.Loc }
func (n CrossRef) Span() Span  { return n.Loc }
func (n RelRef) Span() Span    { return n.Loc }
func (n Unary) Span() Span     { return n.Loc }
func (n Binary) Span() Span    { return n.Loc }
func (n Call) Span() Span      { return n.Loc }
