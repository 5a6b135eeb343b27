// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package units

import (
	"fmt"
	"sync"

	"github.com/haloforest/arbor/lib/arborerr"
)

// Registry is the unit system owned by a single Arbor. It is built once
// with the standard astrophysical units every backend may declare, then
// gains two live entries ("h" and "unitary") once the source catalog's
// header has been read; every previously-parsed Unit mentioning them stays
// convertible because conversion always reads the live value at call time.
type Registry struct {
	mu    sync.RWMutex
	bases map[string]baseUnit

	hOnce    sync.Once
	hValue   float64
	unitOnce sync.Once
	unitBase float64 // value of "unitary", expressed in the registry's base length unit
}

// NewRegistry returns a Registry pre-populated with mass, length, time, and
// velocity units common to halo catalogs, plus "h" and "unitary" as
// not-yet-set live entries.
func NewRegistry() *Registry {
	r := &Registry{bases: map[string]baseUnit{}}
	r.defineBase("h", dimension{}, 1)        // dimensionless live entry
	r.defineBase("unitary", dimension{}, 1)  // dimensionless live entry, see SetUnitary
	r.defineBase("dimensionless", dimension{}, 1)

	length := dimension{length: 1}
	r.defineBase("pc", length, 1)
	r.defineBase("kpc", length, 1e3)
	r.defineBase("Mpc", length, 1e6)
	r.defineBase("Gpc", length, 1e9)
	r.defineBase("cm_phys", length, 1/3.0857e18) // rarely used CGS centimeter, kept distinct from the "cm" comoving suffix
	r.defineBase("m", length, 1/3.0857e16)
	r.defineBase("km", length, 1/3.0857e13)

	mass := dimension{mass: 1}
	r.defineBase("Msun", mass, 1)
	r.defineBase("Mearth", mass, 3.003e-6)
	r.defineBase("g", mass, 1/1.989e33)
	r.defineBase("kg", mass, 1/1.989e30)

	time := dimension{time: 1}
	r.defineBase("s", time, 1)
	r.defineBase("yr", time, 3.1557e7)
	r.defineBase("Myr", time, 3.1557e13)
	r.defineBase("Gyr", time, 3.1557e16)

	r.registerComovingSuffixes()
	return r
}

func (r *Registry) defineBase(sym string, dim dimension, toBase float64) {
	r.bases[sym] = baseUnit{dim: dim, toBase: toBase}
}

// registerComovingSuffixes adds, for every currently-known length unit, a
// second symbol with "cm" appended (e.g. "Mpccm"), matching spec's
// requirement that the comoving suffix be registered automatically for
// length units. A comoving unit shares its physical counterpart's
// dimension and toBase factor at this layer: true comoving<->physical
// conversion needs the per-halo scale factor, which belongs to the
// cosmological calculator this module does not own.
func (r *Registry) registerComovingSuffixes() {
	for sym, bu := range r.bases {
		if bu.dim.length == 0 || bu.dim.mass != 0 || bu.dim.time != 0 {
			continue
		}
		cmSym := sym + "cm"
		r.bases[cmSym] = baseUnit{dim: bu.dim, toBase: bu.toBase, comoving: true}
	}
}

func (r *Registry) lookupSymbol(sym string) (baseUnit, bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bu, ok := r.bases[sym]
	return bu, sym == "h" || sym == "unitary", ok
}

// SetHubbleConstant sets the live value of "h" (dimensionless, H0/100 km/s/Mpc).
// It may be called at most once; subsequent calls are no-ops, matching the
// header-parsed-once lifecycle of an Arbor.
func (r *Registry) SetHubbleConstant(h float64) {
	r.hOnce.Do(func() { r.hValue = h })
}

// HubbleConstant returns the current live value of "h", or 0 if unset.
func (r *Registry) HubbleConstant() float64 {
	var v float64
	r.mu.RLock()
	v = r.hValue
	r.mu.RUnlock()
	return v
}

// SetUnitary sets the live value of "unitary" (the simulation box size),
// given as a value in an already-registered length unit.
func (r *Registry) SetUnitary(value float64, unit string) error {
	u, err := r.Parse(unit)
	if err != nil {
		return err
	}
	dim, factor, _, ok := r.resolve(u)
	if !ok || dim != (dimension{length: 1}) {
		return fmt.Errorf("%w: %q is not a length unit, cannot set box size", arborerr.ErrUnitParse, unit)
	}
	r.unitOnce.Do(func() { r.unitBase = value * factor })
	return nil
}

// resolve walks a Unit's symbol powers and returns its combined dimension,
// its multiplicative factor to that dimension's base units (treating "h"
// and "unitary" as opaque multiplicative live scalars, not dimensions of
// their own), whether it mentions any comoving symbol, and whether every
// symbol was known.
func (r *Registry) resolve(u Unit) (dim dimension, factor float64, comoving bool, ok bool) {
	factor = 1
	ok = true
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sym, exp := range u.pow {
		bu, known := r.bases[sym]
		if !known {
			ok = false
			continue
		}
		if bu.comoving {
			comoving = true
		}
		switch sym {
		case "h":
			hv := r.hValue
			if hv == 0 {
				hv = 1
			}
			factor *= pow(hv, -exp)
		case "unitary":
			uv := r.unitBase
			if uv == 0 {
				uv = 1
			}
			factor *= pow(uv, exp)
		default:
			factor *= pow(bu.toBase, exp)
			dim = dim.add(bu.dim, int8(exp))
		}
	}
	return dim, factor, comoving, ok
}

func pow(base float64, exp int) float64 {
	if exp == 0 {
		return 1
	}
	neg := exp < 0
	if neg {
		exp = -exp
	}
	v := 1.0
	for i := 0; i < exp; i++ {
		v *= base
	}
	if neg {
		return 1 / v
	}
	return v
}

// DimensionallyEquivalent reports whether a and b reduce to the same
// primitive-dimension vector (mass/length/time), ignoring "h"/"unitary"
// scalars and the comoving marker.
func (r *Registry) DimensionallyEquivalent(a, b Unit) bool {
	da, _, _, oka := r.resolve(a)
	db, _, _, okb := r.resolve(b)
	return oka && okb && da == db
}

// factorBetween returns the multiplicative factor to convert a value from
// unit `from` to unit `to`. Comoving/physical mismatches between from and
// to of the same dimension are allowed through (see
// registerComovingSuffixes doc) since this layer doesn't own the scale
// factor needed to do it properly.
func (r *Registry) factorBetween(from, to Unit) (float64, error) {
	df, ff, _, okf := r.resolve(from)
	dt, ft, _, okt := r.resolve(to)
	if !okf {
		return 0, fmt.Errorf("%w: unit %q uses an unregistered symbol", arborerr.ErrUnitParse, from.String())
	}
	if !okt {
		return 0, fmt.Errorf("%w: unit %q uses an unregistered symbol", arborerr.ErrUnitParse, to.String())
	}
	if df != dt {
		return 0, fmt.Errorf("%w: %q and %q are not dimensionally equivalent", arborerr.ErrUnitParse, from.String(), to.String())
	}
	return ff / ft, nil
}

// knownSymbols returns every symbol currently registered, for diagnostics.
func (r *Registry) knownSymbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bases))
	for k := range r.bases {
		out = append(out, k)
	}
	return out
}
