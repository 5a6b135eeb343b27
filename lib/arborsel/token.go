// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arborsel implements the small selection-expression grammar
// spec's Design Notes prescribe in place of shelling out to a host-language
// eval: field access `tree[scope, name]`, unit conversion `.to("unit")`,
// and the operators (==, !=, <, <=, >, >=, &, |, ~). A predicate string is
// compiled once to an expression tree and evaluated against vectorized
// field arrays.
package arborsel

import "fmt"

// TokenType enumerates the lexical classes of the selection grammar.
type TokenType int

const (
	EOF TokenType = iota
	ILLEGAL

	IDENT  // tree, Orig_halo_ID, mass
	NUMBER // 0, 1e12, 3.14
	STRING // "tree", 'Msun'

	LBRACKET // [
	RBRACKET // ]
	LPAREN   // (
	RPAREN   // )
	COMMA    // ,
	DOT      // .

	EQ // ==
	NE // !=
	LT // <
	LE // <=
	GT // >
	GE // >=
	AND // &
	OR  // |
	NOT // ~
)

var tokenNames = [...]string{
	EOF: "EOF", ILLEGAL: "ILLEGAL",
	IDENT: "IDENT", NUMBER: "NUMBER", STRING: "STRING",
	LBRACKET: "[", RBRACKET: "]", LPAREN: "(", RPAREN: ")", COMMA: ",", DOT: ".",
	EQ: "==", NE: "!=", LT: "<", LE: "<=", GT: ">", GE: ">=",
	AND: "&", OR: "|", NOT: "~",
}

func (t TokenType) String() string {
	if int(t) < len(tokenNames) && tokenNames[t] != "" {
		return tokenNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Token is one lexeme plus its rune offset in the expression, for error
// messages.
type Token struct {
	Type TokenType
	Text string
	Pos  int
}
