// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package units implements the value-plus-unit scalar and array primitives
// used throughout the field system: parsing a declared unit string,
// converting between units, composing units by multiplication/division, and
// checking dimensional equivalence. "h" (the Hubble parameter) and
// "unitary" (fraction of the simulation box) are live registry entries:
// their value is set once, from the source catalog's header, and every
// Quantity/Array holding a unit that mentions them is convertible using
// whatever value is current at conversion time.
package units

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/haloforest/arbor/lib/arborerr"
)

// dimension is a small vector of primitive physical dimensions. Only the
// dimensions this domain's field set actually uses are named; anything else
// the catalogs declare is treated as its own opaque base dimension keyed by
// symbol, which is enough to detect dimensional equivalence and to refuse
// nonsensical conversions without claiming to be a general unit system.
type dimension struct {
	mass, length, time int8
}

func (d dimension) add(o dimension, sign int8) dimension {
	return dimension{
		mass:   d.mass + sign*o.mass,
		length: d.length + sign*o.length,
		time:   d.time + sign*o.time,
	}
}

type baseUnit struct {
	dim      dimension
	toBase   float64 // multiplicative factor to the dimension's base unit
	comoving bool    // true for a symbol ending in the registered "cm" suffix
}

// Unit is a parsed unit expression: a product of registered symbols each
// raised to an integer power, e.g. "Msun/h" parses to {"Msun": 1, "h": -1}.
type Unit struct {
	expr string
	pow  map[string]int
}

// String returns the normalized unit expression it was parsed from.
func (u Unit) String() string { return u.expr }

// IsDimensionless reports whether every symbol making up the unit is
// dimensionless (only "h" and/or "unitary" and/or empty).
func (u Unit) IsDimensionless(r *Registry) bool {
	d, _, _, ok := r.resolve(u)
	return ok && d == (dimension{})
}

func splitTerms(expr string) (numer, denom []string, err error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "dimensionless" || expr == "1" {
		return nil, nil, nil
	}
	// Tokenize on '*' and '/', where '/' flips which side subsequent
	// terms land on (matching the source catalogs' "Msun/h/Mpc" meaning
	// Msun * h^-1 * Mpc^-1).
	neg := false
	var cur strings.Builder
	flush := func() error {
		tok := strings.TrimSpace(cur.String())
		cur.Reset()
		if tok == "" {
			return nil
		}
		if neg {
			denom = append(denom, tok)
		} else {
			numer = append(numer, tok)
		}
		return nil
	}
	for _, r := range expr {
		switch r {
		case '*':
			if err := flush(); err != nil {
				return nil, nil, err
			}
		case '/':
			if err := flush(); err != nil {
				return nil, nil, err
			}
			neg = true
		default:
			cur.WriteRune(r)
		}
	}
	if err := flush(); err != nil {
		return nil, nil, err
	}
	return numer, denom, nil
}

// Parse interprets a unit expression string such as "Msun/h",
// "kpccm/h", or "km/s". It does not consult live values (h, unitary); it
// only validates that every symbol it mentions is known to the registry.
func (r *Registry) Parse(expr string) (Unit, error) {
	trimmed := strings.TrimSpace(expr)
	numer, denom, err := splitTerms(trimmed)
	if err != nil {
		return Unit{}, fmt.Errorf("%w: %q: %w", arborerr.ErrUnitParse, expr, err)
	}
	pow := map[string]int{}
	addTerm := func(term string, sign int) error {
		sym, exp, err := splitPower(term)
		if err != nil {
			return err
		}
		if _, _, ok := r.lookupSymbol(sym); !ok {
			return fmt.Errorf("%w: %q: unknown unit symbol %q", arborerr.ErrUnitParse, expr, sym)
		}
		pow[sym] += sign * exp
		if pow[sym] == 0 {
			delete(pow, sym)
		}
		return nil
	}
	for _, t := range numer {
		if err := addTerm(t, 1); err != nil {
			return Unit{}, err
		}
	}
	for _, t := range denom {
		if err := addTerm(t, -1); err != nil {
			return Unit{}, err
		}
	}
	return Unit{expr: trimmed, pow: pow}, nil
}

// splitPower splits "Mpc^2" into ("Mpc", 2); a bare symbol has exponent 1.
func splitPower(term string) (sym string, exp int, err error) {
	if i := strings.IndexByte(term, '^'); i >= 0 {
		n, perr := strconv.Atoi(strings.TrimSpace(term[i+1:]))
		if perr != nil {
			return "", 0, fmt.Errorf("%w: bad exponent in %q: %w", arborerr.ErrUnitParse, term, perr)
		}
		return strings.TrimSpace(term[:i]), n, nil
	}
	return strings.TrimSpace(term), 1, nil
}

// Mul composes two units by multiplication (adds exponents).
func Mul(a, b Unit) Unit { return combine(a, b, 1) }

// Div composes two units by division (subtracts b's exponents).
func Div(a, b Unit) Unit { return combine(a, b, -1) }

func combine(a, b Unit, sign int) Unit {
	pow := make(map[string]int, len(a.pow)+len(b.pow))
	for k, v := range a.pow {
		pow[k] = v
	}
	for k, v := range b.pow {
		pow[k] += sign * v
		if pow[k] == 0 {
			delete(pow, k)
		}
	}
	return Unit{expr: renderExpr(pow), pow: pow}
}

func renderExpr(pow map[string]int) string {
	var nu, de []string
	for sym, exp := range pow {
		switch {
		case exp == 1:
			nu = append(nu, sym)
		case exp == -1:
			de = append(de, sym)
		case exp > 1:
			nu = append(nu, fmt.Sprintf("%s^%d", sym, exp))
		case exp < -1:
			de = append(de, fmt.Sprintf("%s^%d", sym, -exp))
		}
	}
	if len(nu) == 0 && len(de) == 0 {
		return "dimensionless"
	}
	expr := strings.Join(nu, "*")
	if expr == "" {
		expr = "1"
	}
	for _, d := range de {
		expr += "/" + d
	}
	return expr
}
