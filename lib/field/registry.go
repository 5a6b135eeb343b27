// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package field

import (
	"fmt"
	"sort"
	"sync"

	"context"

	"github.com/datawire/dlib/dlog"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/containers"
)

// Registry is the field-descriptor table owned by a single Arbor: a
// name-to-Descriptor map plus the alias back-links spec §3 describes. It
// does not own any row data; allocation of analysis fields' backing arrays
// is the Arbor's job once it knows its own size (see lib/arbor).
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*Descriptor
	aliasesOf map[string]containers.Set[string] // target name -> alias names
	order     []string                          // registration order, for stable dumps
}

// NewRegistry returns an empty field registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:    map[string]*Descriptor{},
		aliasesOf: map[string]containers.Set[string]{},
	}
}

// Get returns the descriptor for name, if registered.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Names returns every registered field name, in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// AliasesOf returns the aliases that point at target, sorted.
func (r *Registry) AliasesOf(target string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.aliasesOf[target]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// register inserts d, honoring the "a field name is registered at most
// once" invariant: re-registration with forceAdd logs a warning and
// replaces, otherwise it's ErrFieldAlreadyExists.
func (r *Registry) register(ctx context.Context, d *Descriptor, forceAdd bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Name]; exists {
		if !forceAdd {
			return fmt.Errorf("%w: %q", arborerr.ErrFieldAlreadyExists, d.Name)
		}
		dlog.Warnf(ctx, "field %q already registered, replacing (force_add)", d.Name)
	} else {
		r.order = append(r.order, d.Name)
	}
	r.byName[d.Name] = d
	return nil
}

// AddOnDiskField registers a field sourced directly from a backend
// (Source file/header/arbor-generated).
func (r *Registry) AddOnDiskField(ctx context.Context, d Descriptor, forceAdd bool) error {
	d.Kind = KindOnDisk
	return r.register(ctx, &d, forceAdd)
}

// AddAliasField validates target exists, records {kind=alias,
// deps=[target]}, and adds the alias back-link onto target.
func (r *Registry) AddAliasField(ctx context.Context, alias, target, unit string, forceAdd bool) error {
	r.mu.RLock()
	targetDesc, ok := r.byName[target]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: alias %q target %q", arborerr.ErrFieldDependencyNotFound, alias, target)
	}
	u := unit
	if u == "" {
		u = targetDesc.Units
	}
	d := &Descriptor{Name: alias, Units: u, Kind: KindAlias, Deps: []string{target}, Dtype: targetDesc.Dtype}
	if err := r.register(ctx, d, forceAdd); err != nil {
		return err
	}
	r.mu.Lock()
	if r.aliasesOf[target] == nil {
		r.aliasesOf[target] = containers.NewSet[string]()
	}
	r.aliasesOf[target].Insert(alias)
	r.mu.Unlock()
	return nil
}

// AddAnalysisField allocates an arbor-wide default-valued field descriptor.
// The caller (Arbor) is responsible for materializing the backing array at
// its current size.
func (r *Registry) AddAnalysisField(ctx context.Context, name, unit string, dtype Dtype, def float64, forceAdd bool) error {
	d := &Descriptor{Name: name, Units: unit, Kind: KindAnalysis, Dtype: dtype, Default: def}
	return r.register(ctx, d, forceAdd)
}

// AddDerivedField runs fn once against a Detector to discover its
// dependencies. If fn references a name with no descriptor: forceAdd=true
// makes this a hard error, forceAdd=false (the default) silently refuses
// (returns nil, the field is not added) per spec §4.1.
func (r *Registry) AddDerivedField(ctx context.Context, name string, fn DerivedFunc, unit string, dtype Dtype, vector bool, forceAdd bool) error {
	det := NewDetector(1)
	if _, err := fn(det); err != nil {
		return fmt.Errorf("derived field %q: dependency discovery failed: %w", name, err)
	}
	deps := det.Deps()
	r.mu.RLock()
	var missing []string
	for _, dep := range deps {
		if _, ok := r.byName[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	r.mu.RUnlock()
	if len(missing) > 0 {
		if forceAdd {
			return fmt.Errorf("%w: derived field %q depends on unknown field(s) %v", arborerr.ErrFieldDependencyNotFound, name, missing)
		}
		dlog.Debugf(ctx, "derived field %q silently refused: unknown dependencies %v", name, missing)
		return nil
	}
	d := &Descriptor{Name: name, Units: unit, Kind: KindDerived, Dtype: dtype, Deps: deps, Fn: fn}
	if vector {
		d.VectorComponents = deps
	}
	return r.register(ctx, d, forceAdd)
}
