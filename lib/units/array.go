// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package units

import "fmt"

// Array is a unit-tagged vector, the representation of one field's column
// for a batch of halos. Values is owned by the Array; callers that need to
// keep a raw slice after converting should copy it.
type Array struct {
	Values []float64
	Unit   Unit
	reg    *Registry
}

// NewArray builds an Array from raw values and a unit string, parsed
// against reg. The slice is taken by reference, not copied.
func NewArray(reg *Registry, values []float64, unit string) (Array, error) {
	u, err := reg.Parse(unit)
	if err != nil {
		return Array{}, err
	}
	return Array{Values: values, Unit: u, reg: reg}, nil
}

// To returns a new Array with every value converted to the target unit.
// The target must be dimensionally equivalent to a.Unit.
func (a Array) To(target string) (Array, error) {
	tu, err := a.reg.Parse(target)
	if err != nil {
		return Array{}, err
	}
	factor, err := a.reg.factorBetween(a.Unit, tu)
	if err != nil {
		return Array{}, fmt.Errorf("convert array from %q to %q: %w", a.Unit.String(), target, err)
	}
	out := make([]float64, len(a.Values))
	for i, v := range a.Values {
		out[i] = v * factor
	}
	return Array{Values: out, Unit: tu, reg: a.reg}, nil
}

// Len returns the number of elements.
func (a Array) Len() int { return len(a.Values) }
