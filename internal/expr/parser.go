package expr

// Parse turns an expression string into an AST.
//
// Parsing is pure: no I/O, no shared state, and a malformed input returns a
// *ParseError carrying the offending span. The returned Node is immutable.
func Parse(src string) (Node, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}

	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if p.cur.kind != tokEOF {
		return nil, parseErrorf(p.cur.span, "unexpected %s after expression", p.cur.kind)
	}
	return node, nil
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() *ParseError {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) expect(kind tokenKind) (token, *ParseError) {
	if p.cur.kind != kind {
		return token{}, parseErrorf(p.cur.span, "expected %s, found %s", kind, p.cur.kind)
	}
	tok := p.cur
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

// parseExpr := additive (cmp-op additive)?
// Comparisons do not chain: 'a < b < c' is a parse error, matching the
// boolean-only IF condition downstream.
func (p *parser) parseExpr() (Node, *ParseError) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	var op Op
	switch p.cur.kind {
	case tokEq:
		op = OpEq
	case tokNe:
		op = OpNe
	case tokLt:
		op = OpLt
	case tokLe:
		op = OpLe
	case tokGt:
		op = OpGt
	case tokGe:
		op = OpGe
	default:
		return left, nil
	}

	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return Binary{Op: op, X: left, Y: right, Loc: Span{left.Span().Start, right.Span().End}}, nil
}

func (p *parser) parseAdditive() (Node, *ParseError) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}

	for p.cur.kind == tokPlus || p.cur.kind == tokMinus {
		op := OpAdd
		if p.cur.kind == tokMinus {
			op = OpSub
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, X: left, Y: right, Loc: Span{left.Span().Start, right.Span().End}}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Node, *ParseError) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.cur.kind == tokStar || p.cur.kind == tokSlash {
		op := OpMul
		if p.cur.kind == tokSlash {
			op = OpDiv
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, X: left, Y: right, Loc: Span{left.Span().Start, right.Span().End}}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, *ParseError) {
	if p.cur.kind == tokMinus {
		start := p.cur.span.Start
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: OpNeg, X: x, Loc: Span{start, x.Span().End}}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, *ParseError) {
	switch p.cur.kind {
	case tokNumber:
		n := NumberLit{Val: p.cur.num, Loc: p.cur.span}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, nil

	case tokString:
		n := StringLit{Val: p.cur.text, Loc: p.cur.span}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, nil

	case tokHash:
		return p.parseHashRef()

	case tokAt:
		return p.parseAtRef()

	case tokIdent:
		switch p.cur.text {
		case "true", "false":
			n := BoolLit{Val: p.cur.text == "true", Loc: p.cur.span}
			if err := p.advance(); err != nil {
				return nil, err
			}
			return n, nil
		}
		return p.parseCall()

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil

	default:
		return nil, parseErrorf(p.cur.span, "expected a value, found %s", p.cur.kind)
	}
}

// parseHashRef parses the '#name' self-property shorthand.
func (p *parser) parseHashRef() (Node, *ParseError) {
	start := p.cur.span.Start
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	return SelfRef{Name: name.text, Loc: Span{start, name.span.End}}, nil
}

// parseAtRef parses the '@' reference forms:
//
//	@self.name        explicit self reference
//	@rel("type").name relationship projection
//	@{expr}.name      cross-entity reference
func (p *parser) parseAtRef() (Node, *ParseError) {
	start := p.cur.span.Start
	if err := p.advance(); err != nil {
		return nil, err
	}

	switch p.cur.kind {
	case tokIdent:
		switch p.cur.text {
		case "self":
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, err := p.expect(tokDot); err != nil {
				return nil, err
			}
			name, err := p.expect(tokIdent)
			if err != nil {
				return nil, err
			}
			return SelfRef{Name: name.text, Loc: Span{start, name.span.End}}, nil

		case "rel":
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, err := p.expect(tokLParen); err != nil {
				return nil, err
			}
			rel, err := p.expect(tokString)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen); err != nil {
				return nil, err
			}
			if _, err := p.expect(tokDot); err != nil {
				return nil, err
			}
			name, err := p.expect(tokIdent)
			if err != nil {
				return nil, err
			}
			return RelRef{Rel: rel.text, Name: name.text, Loc: Span{start, name.span.End}}, nil

		default:
			return nil, parseErrorf(p.cur.span, "expected 'self', 'rel', or '{' after '@', found %q", p.cur.text)
		}

	case tokLBrace:
		if err := p.advance(); err != nil {
			return nil, err
		}
		ref, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRBrace); err != nil {
			return nil, err
		}
		if _, err := p.expect(tokDot); err != nil {
			return nil, err
		}
		name, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		return CrossRef{Ref: ref, Name: name.text, Loc: Span{start, name.span.End}}, nil

	default:
		return nil, parseErrorf(p.cur.span, "expected 'self', 'rel', or '{' after '@', found %s", p.cur.kind)
	}
}

// parseCall parses a builtin invocation. The name must resolve against the
// closed builtin set and satisfy its arity, both checked here at parse time.
func (p *parser) parseCall() (Node, *ParseError) {
	nameTok := p.cur
	fn, known := lookupBuiltin(nameTok.text)
	if !known {
		return nil, parseErrorf(nameTok.span, "unknown function %q", nameTok.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}

	var args []Node
	if p.cur.kind != tokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.cur.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}

	closing, err := p.expect(tokRParen)
	if err != nil {
		return nil, err
	}

	span := Span{nameTok.span.Start, closing.span.End}
	ar := builtinArity[fn]
	if len(args) < ar.min {
		return nil, parseErrorf(span, "%s requires at least %d argument(s), got %d", fn, ar.min, len(args))
	}
	if ar.max >= 0 && len(args) > ar.max {
		return nil, parseErrorf(span, "%s accepts at most %d argument(s), got %d", fn, ar.max, len(args))
	}

	return Call{Fn: fn, Args: args, Loc: span}, nil
}
