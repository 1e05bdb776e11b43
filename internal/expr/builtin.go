package expr

// Builtin enumerates the closed set of expression functions.
//
// There is deliberately no runtime function registry: the parser resolves
// names against this enumeration, so an unknown or misspelled function is a
// ParseError, never a late evaluation failure. Adding a builtin means
// extending this enum, the arity table, and the evaluator's dispatch switch.
type Builtin string

const (
	BuiltinConcat Builtin = "CONCAT"
	BuiltinIf     Builtin = "IF"
	BuiltinCount  Builtin = "COUNT"
	BuiltinSum    Builtin = "SUM"
	BuiltinAvg    Builtin = "AVG"
	BuiltinMin    Builtin = "MIN"
	BuiltinMax    Builtin = "MAX"
	BuiltinRound  Builtin = "ROUND"
	BuiltinAbs    Builtin = "ABS"
	BuiltinUpper  Builtin = "UPPER"
	BuiltinLower  Builtin = "LOWER"
)

// arity describes the accepted argument count for a builtin.
// max == -1 means variadic (no upper bound).
type arity struct {
	min, max int
}

// builtinArity is the closed lookup table used at parse time.
var builtinArity = map[Builtin]arity{
	BuiltinConcat: {1, -1},
	BuiltinIf:     {3, 3},
	BuiltinCount:  {1, 1},
	BuiltinSum:    {1, 1},
	BuiltinAvg:    {1, 1},
	BuiltinMin:    {1, 1},
	BuiltinMax:    {1, 1},
	BuiltinRound:  {1, 1},
	BuiltinAbs:    {1, 1},
	BuiltinUpper:  {1, 1},
	BuiltinLower:  {1, 1},
}

// lookupBuiltin resolves a function name. Names are case-sensitive and
// upper-case, matching how they appear in stored expressions.
func lookupBuiltin(name string) (Builtin, bool) {
	b := Builtin(name)
	_, ok := builtinArity[b]
	return b, ok
}

// IsAggregate reports whether the builtin consumes a list/collection.
func (b Builtin) IsAggregate() bool {
	switch b {
	case BuiltinCount, BuiltinSum, BuiltinAvg, BuiltinMin, BuiltinMax:
		return true
	default:
		return false
	}
}
