// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package units

import "fmt"

// Quantity is a single unit-tagged scalar.
type Quantity struct {
	Value float64
	Unit  Unit
	reg   *Registry
}

// NewQuantity builds a Quantity from a raw value and a unit string, parsed
// against reg.
func NewQuantity(reg *Registry, value float64, unit string) (Quantity, error) {
	u, err := reg.Parse(unit)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: value, Unit: u, reg: reg}, nil
}

// To converts q to the named target unit. The target must be dimensionally
// equivalent.
func (q Quantity) To(target string) (Quantity, error) {
	tu, err := q.reg.Parse(target)
	if err != nil {
		return Quantity{}, err
	}
	factor, err := q.reg.factorBetween(q.Unit, tu)
	if err != nil {
		return Quantity{}, fmt.Errorf("convert %v to %q: %w", q, target, err)
	}
	return Quantity{Value: q.Value * factor, Unit: tu, reg: q.reg}, nil
}

// Mul multiplies two quantities, composing their units.
func (q Quantity) Mul(o Quantity) Quantity {
	return Quantity{Value: q.Value * o.Value, Unit: Mul(q.Unit, o.Unit), reg: q.reg}
}

// Div divides two quantities, composing their units.
func (q Quantity) Div(o Quantity) Quantity {
	return Quantity{Value: q.Value / o.Value, Unit: Div(q.Unit, o.Unit), reg: q.reg}
}

func (q Quantity) String() string {
	return fmt.Sprintf("%g %s", q.Value, q.Unit.String())
}
