// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arbor implements the top-level merger-tree container: planting,
// setup, growth, traversal, selection, and save delegation over whatever
// dialect a datafile.Backend mounts.
package arbor

import (
	"context"
	"fmt"
	"sync"

	"github.com/datawire/dlib/dlog"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/field"
	"github.com/haloforest/arbor/lib/units"
)

// Arbor is the top-level container: global parameters, unit registry,
// field registry, the mounted backend, and the array of root descriptors
// (§3 "Arbor").
type Arbor struct {
	mu sync.RWMutex

	backend  datafile.Backend
	Units    *units.Registry
	Fields   *field.Registry
	resolver *field.Resolver

	roots    []*root
	uidIndex map[int64]*root

	plantOnce sync.Once
	plantErr  error

	selectors       map[string]Selector
	defaultSelector string

	analysisDefaults map[string][]float64 // name -> arbor-wide default array, root fast path
}

// Load dispatches path to its on-disk dialect, parses the header, and
// returns an Arbor with its roots array allocated but not planted (§4.5
// load: "never reads halo rows").
func Load(ctx context.Context, path string, opts datafile.Options) (*Arbor, error) {
	backend, err := datafile.Dispatch(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return newArbor(ctx, backend)
}

func newArbor(ctx context.Context, backend datafile.Backend) (*Arbor, error) {
	a := &Arbor{
		backend:          backend,
		Units:            units.NewRegistry(),
		Fields:           field.NewRegistry(),
		uidIndex:         make(map[int64]*root),
		selectors:        make(map[string]Selector),
		defaultSelector:  "max_field_value",
		analysisDefaults: make(map[string][]float64),
	}
	a.resolver = field.NewResolver(a.Fields, a.Units)
	a.RegisterSelector(&maxFieldSelector{})

	for _, desc := range backend.FieldDescriptors() {
		d := desc
		if err := a.Fields.AddOnDiskField(ctx, d, false); err != nil {
			return nil, err
		}
	}

	if h, ok := backend.HeaderProperties()["hubble_constant"]; ok {
		a.Units.SetHubbleConstant(h)
	}

	return a, nil
}

// Size returns the number of roots (trees) the backend enumerated. Zero is
// valid (§8 "An empty arbor").
func (a *Arbor) Size() int {
	if err := a.plant(context.Background()); err != nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.roots)
}

// plant is the lazy, once-per-arbor population of the root-descriptor
// table (§3 Lifecycle, §4.5 plant_trees).
func (a *Arbor) plant(ctx context.Context) error {
	a.plantOnce.Do(func() {
		descs, err := a.backend.EnumerateRoots(ctx)
		if err != nil {
			a.plantErr = err
			return
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		a.roots = make([]*root, len(descs))
		for i, d := range descs {
			r := &root{arbor: a, idx: i, desc: d}
			a.roots[i] = r
			a.uidIndex[d.UID] = r
		}
		dlog.Infof(ctx, "arbor: planted %d trees", len(a.roots))
	})
	return a.plantErr
}

// IterRoots returns the root TreeNodes at indices, or every root in
// stored order when indices is nil (§4.5 iter_roots). Root enumeration
// order with no indices is stable across runs for a given arbor.
func (a *Arbor) IterRoots(ctx context.Context, indices []int) ([]*TreeNode, error) {
	if err := a.plant(ctx); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if indices == nil {
		out := make([]*TreeNode, len(a.roots))
		for i, r := range a.roots {
			out[i] = r.node()
		}
		return out, nil
	}
	out := make([]*TreeNode, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(a.roots) {
			return nil, fmt.Errorf("arbor: root index %d out of range [0,%d)", idx, len(a.roots))
		}
		out[i] = a.roots[idx].node()
	}
	return out, nil
}

// RootByUID looks up a planted root by its uid.
func (a *Arbor) RootByUID(ctx context.Context, uid int64) (*TreeNode, bool, error) {
	if err := a.plant(ctx); err != nil {
		return nil, false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.uidIndex[uid]
	if !ok {
		return nil, false, nil
	}
	return r.node(), true, nil
}

// Index returns the root at position i, equivalent to IterRoots(nil)[i]
// without materializing the whole slice.
func (a *Arbor) Index(ctx context.Context, i int) (*TreeNode, error) {
	if err := a.plant(ctx); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= len(a.roots) {
		return nil, fmt.Errorf("arbor: root index %d out of range [0,%d)", i, len(a.roots))
	}
	return a.roots[i].node(), nil
}

// Field returns the arbor-wide, root-level value of name across every
// root, in stored order — the root fast path of §4.6.
func (a *Arbor) Field(ctx context.Context, name string) (units.Array, error) {
	if err := a.plant(ctx); err != nil {
		return units.Array{}, err
	}
	a.mu.RLock()
	roots := make([]*root, len(a.roots))
	copy(roots, a.roots)
	a.mu.RUnlock()

	cache := make(map[string]units.Array)
	loader := &rootFieldLoader{arbor: a, roots: roots}
	if err := a.resolver.Resolve([]string{name}, len(roots), cache, loader); err != nil {
		return units.Array{}, err
	}
	return cache[name], nil
}

// Close releases every DataFile the backend opened.
func (a *Arbor) Close() error {
	return a.backend.Close()
}

// AddAnalysisField allocates an arbor-wide default-valued array and
// registers the descriptor (§4.1 add_analysis_field).
func (a *Arbor) AddAnalysisField(ctx context.Context, name, unit string, dtype field.Dtype, def float64, forceAdd bool) error {
	if err := a.plant(ctx); err != nil {
		return err
	}
	if err := a.Fields.AddAnalysisField(ctx, name, unit, dtype, def, forceAdd); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.roots)
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = def
	}
	a.analysisDefaults[name] = vals
	return nil
}

// AddAliasField validates target and registers alias (§4.1).
func (a *Arbor) AddAliasField(ctx context.Context, alias, target, unit string, forceAdd bool) error {
	return a.Fields.AddAliasField(ctx, alias, target, unit, forceAdd)
}

// AddDerivedField registers fn as a derived field after dependency
// discovery via the field detector (§4.1, §9).
func (a *Arbor) AddDerivedField(ctx context.Context, name string, fn field.DerivedFunc, unit string, dtype field.Dtype, vector bool, forceAdd bool) error {
	return a.Fields.AddDerivedField(ctx, name, fn, unit, dtype, vector, forceAdd)
}

// SetAnalysisValue sets the root-level analysis value for the root at
// index i, per §4.6's "Setting a value" for roots.
func (a *Arbor) SetAnalysisValue(ctx context.Context, i int, name string, value float64) error {
	desc, ok := a.Fields.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", arborerr.ErrFieldNotFound, name)
	}
	if desc.Kind != field.KindAnalysis && desc.Kind != field.KindAnalysisSaved {
		return fmt.Errorf("%w: %q is not an analysis field", arborerr.ErrFieldUnsettable, name)
	}
	if err := a.plant(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.roots) {
		return fmt.Errorf("arbor: root index %d out of range [0,%d)", i, len(a.roots))
	}
	vals, ok := a.analysisDefaults[name]
	if !ok {
		return fmt.Errorf("%w: %q", arborerr.ErrFieldAnalysisNotGenerated, name)
	}
	vals[i] = value
	a.roots[i].invalidateVector(name)
	return nil
}
