// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arbor

import (
	"context"

	"github.com/haloforest/arbor/lib/arborsel"
)

// scopeSourceAdapter binds a context to a TreeNode so it satisfies
// arborsel.ScopeSource, whose methods (unlike TreeNode's) don't take one.
type scopeSourceAdapter struct {
	ctx  context.Context
	node *TreeNode
}

func (s scopeSourceAdapter) ScopeLen(scope string) (int, error) {
	return s.node.ScopeLen(s.ctx, scope)
}

func (s scopeSourceAdapter) ScopeField(scope, name, toUnit string) ([]float64, error) {
	return s.node.ScopeField(s.ctx, scope, name, toUnit)
}

// Select evaluates predicate against every root's tree with the given
// scope, preloading fieldsHint in bulk first, and returns the flat list
// of matching nodes (§4.5 select). A mismatched predicate-array length
// against the scope's length is arborerr.ErrSelectionScopeMismatch,
// surfaced by arborsel.Evaluate.
func (a *Arbor) Select(ctx context.Context, predicate, scope string, fieldsHint []string) ([]*TreeNode, error) {
	expr, err := arborsel.Compile(predicate)
	if err != nil {
		return nil, err
	}

	roots, err := a.IterRoots(ctx, nil)
	if err != nil {
		return nil, err
	}

	var out []*TreeNode
	for _, rootNode := range roots {
		if len(fieldsHint) > 0 {
			if err := rootNode.root.resolveFields(ctx, fieldsHint); err != nil {
				return nil, err
			}
		}
		mask, err := arborsel.EvaluateInScope(expr, scopeSourceAdapter{ctx: ctx, node: rootNode}, scope)
		if err != nil {
			return nil, err
		}
		idx, err := rootNode.root.scopeIndices(scope)
		if err != nil {
			return nil, err
		}
		for i, keep := range mask {
			if keep {
				out = append(out, rootNode.root.nodeAt(idx[i]))
			}
		}
	}
	return out, nil
}
