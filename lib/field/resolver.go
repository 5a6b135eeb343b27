// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package field

import (
	"fmt"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/units"
)

// Loader is implemented by whatever owns the raw row data for a batch of
// halos (a DataFile-backed read for a root's tree, in package arbor) and
// fulfills the "read-from-source" half of resolution.
type Loader interface {
	// ReadOnDisk reads the named on-disk fields for n rows and returns
	// one raw (unit-less) array per name.
	ReadOnDisk(names []string, n int) (map[string][]float64, error)
	// ReadHeader returns the single scalar a header-sourced field holds.
	ReadHeader(name string) (float64, error)
	// ReadGenerated computes an arbor-generated field (e.g. a backend
	// that doesn't store uid/desc_uid on disk) for n rows.
	ReadGenerated(name string, n int) ([]float64, error)
	// AnalysisValues returns the n already-materialized analysis values,
	// or ok=false if the field has never been set (the resolver fills
	// the descriptor's Default in that case).
	AnalysisValues(name string, n int) (values []float64, ok bool)
}

// Resolver ties a Registry and a unit Registry together to answer field
// requests against a given Loader/Container pair.
type Resolver struct {
	fields *Registry
	units  *units.Registry
}

// NewResolver builds a Resolver over the given descriptor and unit
// registries.
func NewResolver(fields *Registry, u *units.Registry) *Resolver {
	return &Resolver{fields: fields, units: u}
}

// cacheContainer adapts a resolved-array cache to the Container interface
// so DerivedFuncs (and the Detector before them) see the same shape.
type cacheContainer struct {
	n   int
	get func(name string) (units.Array, error)
}

func (c cacheContainer) Field(name string) (units.Array, error) { return c.get(name) }
func (c cacheContainer) Len() int                                { return c.n }

// Resolve materializes every name in names, for n rows, using cache as
// both the pre-existing materialized set and the output. Fields already in
// cache are not re-read. Kept fields are the union of what was in cache
// before the call and what was requested now; Resolve never evicts — that
// policy lives one layer up, in the root's field cache (package arbor),
// which is free to drop entries between calls.
func (res *Resolver) Resolve(names []string, n int, cache map[string]units.Array, loader Loader) error {
	resolving := map[string]bool{}
	var resolve func(name string) error
	resolve = func(name string) error {
		if _, ok := cache[name]; ok {
			return nil
		}
		if resolving[name] {
			return fmt.Errorf("%w: %q", arborerr.ErrFieldCircularDependency, name)
		}
		resolving[name] = true
		defer delete(resolving, name)

		desc, ok := res.fields.Get(name)
		if !ok {
			return fmt.Errorf("%w: %q", arborerr.ErrFieldNotFound, name)
		}

		switch desc.Kind {
		case KindAlias:
			target := desc.Deps[0]
			if err := resolve(target); err != nil {
				return err
			}
			cache[name] = cache[target]
			return nil

		case KindOnDisk:
			switch desc.Source {
			case SourceHeader:
				v, err := loader.ReadHeader(name)
				if err != nil {
					return err
				}
				raw := make([]float64, n)
				for i := range raw {
					raw[i] = v
				}
				return res.tagAndStore(cache, desc, raw)
			case SourceArborGenerated:
				raw, err := loader.ReadGenerated(name, n)
				if err != nil {
					return err
				}
				return res.tagAndStore(cache, desc, raw)
			default: // SourceFile
				raws, err := loader.ReadOnDisk([]string{name}, n)
				if err != nil {
					return err
				}
				raw, ok := raws[name]
				if !ok {
					return fmt.Errorf("%w: backend did not return %q", arborerr.ErrHeaderMalformed, name)
				}
				return res.tagAndStore(cache, desc, raw)
			}

		case KindAnalysis, KindAnalysisSaved:
			raw, ok := loader.AnalysisValues(name, n)
			if !ok {
				raw = make([]float64, n)
				for i := range raw {
					raw[i] = desc.Default
				}
			}
			return res.tagAndStore(cache, desc, raw)

		case KindDerived:
			for _, dep := range desc.Deps {
				if err := resolve(dep); err != nil {
					return err
				}
			}
			container := cacheContainer{n: n, get: func(name string) (units.Array, error) {
				if a, ok := cache[name]; ok {
					return a, nil
				}
				return units.Array{}, fmt.Errorf("%w: %q", arborerr.ErrFieldNotFound, name)
			}}
			arr, err := desc.Fn(container)
			if err != nil {
				return err
			}
			return res.tagAndStore(cache, desc, arr.Values)

		default:
			return fmt.Errorf("%w: %q has unknown kind", arborerr.ErrFieldNotFound, name)
		}
	}

	for _, name := range names {
		if err := resolve(name); err != nil {
			return err
		}
	}
	return nil
}

func (res *Resolver) tagAndStore(cache map[string]units.Array, desc *Descriptor, raw []float64) error {
	arr, err := units.NewArray(res.units, raw, desc.Units)
	if err != nil {
		return fmt.Errorf("field %q: %w", desc.Name, err)
	}
	cache[desc.Name] = arr
	return nil
}
