package expr

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// lexer produces tokens from an expression string.
// It is a plain byte scanner; expressions are short enough that
// streaming or lookahead buffers would be overkill.
type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

// next returns the next token, or a ParseError for an unrecognized or
// unterminated input.
func (l *lexer) next() (token, *ParseError) {
	l.skipSpace()

	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, span: Span{start, start}}, nil
	}

	c := l.src[l.pos]
	switch {
	case c == '"':
		return l.lexString()
	case c >= '0' && c <= '9':
		return l.lexNumber()
	case isIdentStart(rune(c)):
		return l.lexIdent()
	}

	// single- and double-character symbols
	l.pos++
	switch c {
	case '#':
		return token{kind: tokHash, span: Span{start, l.pos}}, nil
	case '@':
		return token{kind: tokAt, span: Span{start, l.pos}}, nil
	case '.':
		return token{kind: tokDot, span: Span{start, l.pos}}, nil
	case ',':
		return token{kind: tokComma, span: Span{start, l.pos}}, nil
	case '(':
		return token{kind: tokLParen, span: Span{start, l.pos}}, nil
	case ')':
		return token{kind: tokRParen, span: Span{start, l.pos}}, nil
	case '{':
		return token{kind: tokLBrace, span: Span{start, l.pos}}, nil
	case '}':
		return token{kind: tokRBrace, span: Span{start, l.pos}}, nil
	case '+':
		return token{kind: tokPlus, span: Span{start, l.pos}}, nil
	case '-':
		return token{kind: tokMinus, span: Span{start, l.pos}}, nil
	case '*':
		return token{kind: tokStar, span: Span{start, l.pos}}, nil
	case '/':
		return token{kind: tokSlash, span: Span{start, l.pos}}, nil
	case '=':
		if l.peek() == '=' {
			l.pos++
			return token{kind: tokEq, span: Span{start, l.pos}}, nil
		}
		return token{}, parseErrorf(Span{start, l.pos}, "unexpected '=', did you mean '=='?")
	case '!':
		if l.peek() == '=' {
			l.pos++
			return token{kind: tokNe, span: Span{start, l.pos}}, nil
		}
		return token{}, parseErrorf(Span{start, l.pos}, "unexpected '!', did you mean '!='?")
	case '<':
		if l.peek() == '=' {
			l.pos++
			return token{kind: tokLe, span: Span{start, l.pos}}, nil
		}
		return token{kind: tokLt, span: Span{start, l.pos}}, nil
	case '>':
		if l.peek() == '=' {
			l.pos++
			return token{kind: tokGe, span: Span{start, l.pos}}, nil
		}
		return token{kind: tokGt, span: Span{start, l.pos}}, nil
	}

	return token{}, parseErrorf(Span{start, l.pos}, "unexpected character %q", string(rune(c)))
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			l.pos++
			continue
		}
		break
	}
}

func (l *lexer) lexNumber() (token, *ParseError) {
	start := l.pos
	sawDot := false
	sawExp := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c >= '0' && c <= '9':
			l.pos++
		case c == '.' && !sawDot && !sawExp:
			sawDot = true
			l.pos++
		case (c == 'e' || c == 'E') && !sawExp:
			sawExp = true
			l.pos++
			if l.peek() == '+' || l.peek() == '-' {
				l.pos++
			}
		default:
			goto done
		}
	}
done:
	text := l.src[start:l.pos]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, parseErrorf(Span{start, l.pos}, "malformed number %q", text)
	}
	return token{kind: tokNumber, text: text, num: f, span: Span{start, l.pos}}, nil
}

func (l *lexer) lexString() (token, *ParseError) {
	start := l.pos
	l.pos++ // opening quote

	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case '"':
			l.pos++
			return token{kind: tokString, text: b.String(), span: Span{start, l.pos}}, nil
		case '\\':
			l.pos++
			if l.pos >= len(l.src) {
				return token{}, parseErrorf(Span{start, l.pos}, "unterminated string")
			}
			switch l.src[l.pos] {
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				return token{}, parseErrorf(Span{l.pos - 1, l.pos + 1}, "unknown escape sequence \\%s", string(l.src[l.pos]))
			}
			l.pos++
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return token{}, parseErrorf(Span{start, l.pos}, "unterminated string")
}

func (l *lexer) lexIdent() (token, *ParseError) {
	start := l.pos
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isIdentPart(r) {
			break
		}
		l.pos += size
	}
	return token{kind: tokIdent, text: l.src[start:l.pos], span: Span{start, l.pos}}, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
