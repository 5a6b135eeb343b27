// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arbor

import (
	"context"
	"fmt"
)

// Selector picks one ancestor tree_id out of candidates to extend the
// main-progenitor ("prog") chain (§4.5 ordering and tie-breaks). Exactly
// one selector is active per arbor at a time.
type Selector interface {
	Name() string
	// Select returns the chosen tree_id from candidates, reading field
	// for each via r.
	Select(ctx context.Context, r *root, candidates []int) (int, error)
}

// RegisterSelector adds a named selector, available to SetSelector.
func (a *Arbor) RegisterSelector(s Selector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selectors[s.Name()] = s
}

// SetSelector makes name the active selector for building prog chains.
func (a *Arbor) SetSelector(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.selectors[name]; !ok {
		return fmt.Errorf("arbor: no selector registered named %q", name)
	}
	a.defaultSelector = name
	return nil
}

func (a *Arbor) selectAncestor(ctx context.Context, r *root, candidates []int) (int, error) {
	a.mu.RLock()
	sel, ok := a.selectors[a.defaultSelector]
	a.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("arbor: no active selector")
	}
	return sel.Select(ctx, r, candidates)
}

// maxFieldSelector is the default selector (§4.5, §9 bullet 2): picks the
// ancestor with the maximum value of a nominated field (default "mass"),
// ties broken by first occurrence. Despite a same-shaped helper in the
// original source being misleadingly named "max_field_value" while
// behaving like argmin, this implementation follows the documented
// "maximum value wins" contract; see selector_test.go for the regression
// coverage that pins this down.
type maxFieldSelector struct {
	field string // defaults to "mass" when empty
}

func (s *maxFieldSelector) Name() string { return "max_field_value" }

func (s *maxFieldSelector) Select(ctx context.Context, r *root, candidates []int) (int, error) {
	fieldName := s.field
	if fieldName == "" {
		fieldName = "mass"
	}
	if err := r.resolveFields(ctx, []string{fieldName}); err != nil {
		return 0, err
	}
	r.mu.Lock()
	arr := r.fieldCache[fieldName]
	r.mu.Unlock()

	best := candidates[0]
	bestVal := arr.Values[best]
	for _, c := range candidates[1:] {
		if arr.Values[c] > bestVal {
			best = c
			bestVal = arr.Values[c]
		}
	}
	return best, nil
}

// NewFieldSelector builds a max-value selector over a nominated field,
// for registering alternates to the default "mass"-based one (spec §9's
// Supplemented Features: pluggable selectors beyond the default).
func NewFieldSelector(name, fieldName string) Selector {
	return &namedMaxFieldSelector{name: name, inner: &maxFieldSelector{field: fieldName}}
}

type namedMaxFieldSelector struct {
	name  string
	inner *maxFieldSelector
}

func (s *namedMaxFieldSelector) Name() string { return s.name }
func (s *namedMaxFieldSelector) Select(ctx context.Context, r *root, candidates []int) (int, error) {
	return s.inner.Select(ctx, r, candidates)
}
