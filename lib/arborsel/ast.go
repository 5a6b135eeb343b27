// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arborsel

import (
	"fmt"
	"strconv"

	"github.com/haloforest/arbor/lib/arborerr"
)

// Node is one node of a compiled predicate's expression tree.
type Node interface {
	eval(ctx *evalCtx) (value, error)
}

type value struct {
	floats []float64
	bools  []bool
}

func (v value) isBool() bool { return v.bools != nil }

type numberNode struct{ v float64 }

func (n *numberNode) eval(ctx *evalCtx) (value, error) {
	out := make([]float64, ctx.n)
	for i := range out {
		out[i] = n.v
	}
	return value{floats: out}, nil
}

// fieldNode is `<ident>[<scope>, <name>]` with an optional `.to(<unit>)`.
type fieldNode struct {
	scope  string
	name   string
	toUnit string
}

func (n *fieldNode) eval(ctx *evalCtx) (value, error) {
	if n.scope != ctx.scope {
		return value{}, fmt.Errorf("predicate references scope %q but was compiled for scope %q", n.scope, ctx.scope)
	}
	floats, err := ctx.src.ScopeField(n.scope, n.name, n.toUnit)
	if err != nil {
		return value{}, err
	}
	if len(floats) != ctx.n {
		return value{}, fmt.Errorf("%w: field %q returned %d values, expected %d for scope %q", arborerr.ErrSelectionScopeMismatch, n.name, len(floats), ctx.n, n.scope)
	}
	return value{floats: floats}, nil
}

type compareNode struct {
	op   TokenType
	l, r Node
}

func (n *compareNode) eval(ctx *evalCtx) (value, error) {
	lv, err := n.l.eval(ctx)
	if err != nil {
		return value{}, err
	}
	rv, err := n.r.eval(ctx)
	if err != nil {
		return value{}, err
	}
	if lv.isBool() || rv.isBool() {
		return value{}, fmt.Errorf("comparison operands must be numeric")
	}
	out := make([]bool, ctx.n)
	for i := 0; i < ctx.n; i++ {
		a, b := lv.floats[i], rv.floats[i]
		switch n.op {
		case EQ:
			out[i] = a == b
		case NE:
			out[i] = a != b
		case LT:
			out[i] = a < b
		case LE:
			out[i] = a <= b
		case GT:
			out[i] = a > b
		case GE:
			out[i] = a >= b
		}
	}
	return value{bools: out}, nil
}

type logicalNode struct {
	op   TokenType // AND or OR
	l, r Node
}

func (n *logicalNode) eval(ctx *evalCtx) (value, error) {
	lv, err := n.l.eval(ctx)
	if err != nil {
		return value{}, err
	}
	rv, err := n.r.eval(ctx)
	if err != nil {
		return value{}, err
	}
	if !lv.isBool() || !rv.isBool() {
		return value{}, fmt.Errorf("%s operands must be boolean", n.op)
	}
	out := make([]bool, ctx.n)
	for i := 0; i < ctx.n; i++ {
		if n.op == AND {
			out[i] = lv.bools[i] && rv.bools[i]
		} else {
			out[i] = lv.bools[i] || rv.bools[i]
		}
	}
	return value{bools: out}, nil
}

type notNode struct{ x Node }

func (n *notNode) eval(ctx *evalCtx) (value, error) {
	xv, err := n.x.eval(ctx)
	if err != nil {
		return value{}, err
	}
	if !xv.isBool() {
		return value{}, fmt.Errorf("~ operand must be boolean")
	}
	out := make([]bool, len(xv.bools))
	for i, b := range xv.bools {
		out[i] = !b
	}
	return value{bools: out}, nil
}

// Parser is a recursive-descent parser over the selection grammar.
type Parser struct {
	toks []Token
	pos  int
}

// Compile lexes and parses expr into a Node ready for repeated Evaluate
// calls.
func Compile(expr string) (Node, error) {
	lx := newLexer(expr)
	var toks []Token
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Type == EOF {
			break
		}
	}
	p := &Parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur().Type != EOF {
		return nil, fmt.Errorf("unexpected trailing token %v at position %d", p.cur().Type, p.cur().Pos)
	}
	return n, nil
}

func (p *Parser) cur() Token { return p.toks[p.pos] }
func (p *Parser) advance() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) parseOr() (Node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().Type == OR {
		p.advance()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &logicalNode{op: OR, l: l, r: r}
	}
	return l, nil
}

func (p *Parser) parseAnd() (Node, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur().Type == AND {
		p.advance()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = &logicalNode{op: AND, l: l, r: r}
	}
	return l, nil
}

func (p *Parser) parseNot() (Node, error) {
	if p.cur().Type == NOT {
		p.advance()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{x: x}, nil
	}
	return p.parseCompare()
}

var compareOps = map[TokenType]bool{EQ: true, NE: true, LT: true, LE: true, GT: true, GE: true}

func (p *Parser) parseCompare() (Node, error) {
	l, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if compareOps[p.cur().Type] {
		op := p.advance().Type
		r, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &compareNode{op: op, l: l, r: r}, nil
	}
	return l, nil
}

func (p *Parser) parsePrimary() (Node, error) {
	switch p.cur().Type {
	case LPAREN:
		p.advance()
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur().Type != RPAREN {
			return nil, fmt.Errorf("expected ')' at position %d", p.cur().Pos)
		}
		p.advance()
		return n, nil
	case NUMBER:
		tok := p.advance()
		v, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at position %d: %w", tok.Text, tok.Pos, err)
		}
		return &numberNode{v: v}, nil
	case IDENT:
		return p.parseFieldAccess()
	default:
		return nil, fmt.Errorf("unexpected token %v at position %d", p.cur().Type, p.cur().Pos)
	}
}

// parseFieldAccess parses `<ident>[<scope>, <name>]` possibly followed by
// `.to(<unit>)`. The leading identifier (conventionally "tree") is the
// bound variable name and is not otherwise meaningful: only the bracketed
// scope/name matter.
func (p *Parser) parseFieldAccess() (Node, error) {
	p.advance() // ident
	if p.cur().Type != LBRACKET {
		return nil, fmt.Errorf("expected '[' after identifier at position %d", p.cur().Pos)
	}
	p.advance()
	scopeTok := p.advance()
	if scopeTok.Type != STRING {
		return nil, fmt.Errorf("expected scope string at position %d", scopeTok.Pos)
	}
	if p.cur().Type != COMMA {
		return nil, fmt.Errorf("expected ',' at position %d", p.cur().Pos)
	}
	p.advance()
	nameTok := p.advance()
	if nameTok.Type != STRING {
		return nil, fmt.Errorf("expected field name string at position %d", nameTok.Pos)
	}
	if p.cur().Type != RBRACKET {
		return nil, fmt.Errorf("expected ']' at position %d", p.cur().Pos)
	}
	p.advance()

	fn := &fieldNode{scope: scopeTok.Text, name: nameTok.Text}
	if p.cur().Type == DOT {
		p.advance()
		toTok := p.advance()
		if toTok.Type != IDENT || toTok.Text != "to" {
			return nil, fmt.Errorf("expected '.to(...)' at position %d", toTok.Pos)
		}
		if p.cur().Type != LPAREN {
			return nil, fmt.Errorf("expected '(' at position %d", p.cur().Pos)
		}
		p.advance()
		unitTok := p.advance()
		if unitTok.Type != STRING {
			return nil, fmt.Errorf("expected unit string at position %d", unitTok.Pos)
		}
		if p.cur().Type != RPAREN {
			return nil, fmt.Errorf("expected ')' at position %d", p.cur().Pos)
		}
		p.advance()
		fn.toUnit = unitTok.Text
	}
	return fn, nil
}

const errScopeMismatch = "selection scope mismatch"
