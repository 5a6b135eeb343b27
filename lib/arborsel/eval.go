// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arborsel

import (
	"fmt"

	"github.com/haloforest/arbor/lib/arborerr"
)

// ScopeSource is whatever owns the field data a compiled predicate reads
// from: an Arbor's selection scopes ("tree", "prog", "forest" — spec §4.2).
// ScopeField must return exactly one value per member of scope, in the
// same order Select will apply the resulting mask.
type ScopeSource interface {
	// ScopeLen reports how many nodes belong to scope.
	ScopeLen(scope string) (int, error)
	// ScopeField returns name's values across scope, converted to toUnit
	// first when toUnit is non-empty.
	ScopeField(scope, name, toUnit string) ([]float64, error)
}

type evalCtx struct {
	src   ScopeSource
	scope string
	n     int
}

// Evaluate runs a compiled predicate against src for the scope discovered
// from its first field reference, returning one bool per member of that
// scope. Evaluate rejects a predicate that mixes scopes, and rejects a
// result whose length disagrees with the scope's length
// (ErrSelectionScopeMismatch).
func Evaluate(n Node, src ScopeSource) ([]bool, error) {
	scope, err := firstScope(n)
	if err != nil {
		return nil, err
	}
	return EvaluateInScope(n, src, scope)
}

// EvaluateInScope runs a compiled predicate against src for an
// explicitly-declared scope (§4.5 select's scope argument), rejecting a
// predicate whose field references name a different scope as well as a
// result whose length disagrees with the declared scope's length
// (ErrSelectionScopeMismatch) — "caller picked inconsistent scope" per
// spec §4.5.
func EvaluateInScope(n Node, src ScopeSource, scope string) ([]bool, error) {
	length, err := src.ScopeLen(scope)
	if err != nil {
		return nil, err
	}
	ctx := &evalCtx{src: src, scope: scope, n: length}
	v, err := n.eval(ctx)
	if err != nil {
		return nil, err
	}
	if !v.isBool() {
		return nil, fmt.Errorf("selection expression does not evaluate to a boolean mask")
	}
	if len(v.bools) != length {
		return nil, fmt.Errorf("%w: predicate produced %d values for scope %q of length %d",
			arborerr.ErrSelectionScopeMismatch, len(v.bools), scope, length)
	}
	return v.bools, nil
}

// firstScope walks n for the first fieldNode it finds, depth-first, and
// returns its scope. A predicate with no field reference at all (e.g. a
// bare numeric literal) has no scope to evaluate against.
func firstScope(n Node) (string, error) {
	switch t := n.(type) {
	case *fieldNode:
		return t.scope, nil
	case *compareNode:
		if s, err := firstScope(t.l); err == nil {
			return s, nil
		}
		return firstScope(t.r)
	case *logicalNode:
		if s, err := firstScope(t.l); err == nil {
			return s, nil
		}
		return firstScope(t.r)
	case *notNode:
		return firstScope(t.x)
	default:
		return "", fmt.Errorf("selection expression contains no field reference to infer a scope from")
	}
}
