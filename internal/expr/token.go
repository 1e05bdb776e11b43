package expr

import "fmt"

// Span marks a half-open byte range [Start, End) in the source expression.
type Span struct {
	Start int
	End   int
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.Start, s.End)
}

// tokenKind identifies a lexical token.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent // bare identifier: builtin names, true/false
	tokHash  // '#'
	tokAt    // '@'
	tokDot
	tokComma
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokEq  // ==
	tokNe  // !=
	tokLt  // <
	tokLe  // <=
	tokGt  // >
	tokGe  // >=
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of expression"
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	case tokIdent:
		return "identifier"
	case tokHash:
		return "'#'"
	case tokAt:
		return "'@'"
	case tokDot:
		return "'.'"
	case tokComma:
		return "','"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokSlash:
		return "'/'"
	case tokEq:
		return "'=='"
	case tokNe:
		return "'!='"
	case tokLt:
		return "'<'"
	case tokLe:
		return "'<='"
	case tokGt:
		return "'>'"
	case tokGe:
		return "'>='"
	default:
		return "unknown token"
	}
}

// token is one lexical unit with its source span.
type token struct {
	kind tokenKind
	text string // identifier text, string contents, or number literal
	num  float64
	span Span
}

// ParseError reports a malformed expression. It carries the offending span
// so callers can point at the exact source location. Parsing never panics
// and never leaks partial state into evaluation.
type ParseError struct {
	Message string
	Span    Span
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %s: %s", e.Span, e.Message)
}

func parseErrorf(span Span, format string, args ...any) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...), Span: span}
}
