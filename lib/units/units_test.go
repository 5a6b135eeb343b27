// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package units_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haloforest/arbor/lib/units"
)

func TestHubbleConversion(t *testing.T) {
	t.Parallel()
	reg := units.NewRegistry()
	reg.SetHubbleConstant(0.7)

	q, err := units.NewQuantity(reg, 10, "Msun/h")
	require.NoError(t, err)

	out, err := q.To("Msun")
	require.NoError(t, err)
	assert.InDelta(t, 7.0, out.Value, 1e-9)

	// previously-constructed quantities stay convertible after h is set
	q2, err := units.NewQuantity(reg, 1, "Mpc/h")
	require.NoError(t, err)
	out2, err := q2.To("Mpc")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, out2.Value, 1e-9)
}

func TestUnitaryConversion(t *testing.T) {
	t.Parallel()
	reg := units.NewRegistry()
	require.NoError(t, reg.SetUnitary(100, "Mpc/h"))
	reg.SetHubbleConstant(0.7)

	q, err := units.NewQuantity(reg, 0.5, "unitary")
	require.NoError(t, err)
	out, err := q.To("Mpc/h")
	require.NoError(t, err)
	assert.InDelta(t, 50, out.Value, 1e-9)
}

func TestDimensionalMismatchRejected(t *testing.T) {
	t.Parallel()
	reg := units.NewRegistry()
	q, err := units.NewQuantity(reg, 1, "Msun")
	require.NoError(t, err)
	_, err = q.To("Mpc")
	assert.Error(t, err)
}

func TestComposeUnits(t *testing.T) {
	t.Parallel()
	reg := units.NewRegistry()
	mass, err := units.NewQuantity(reg, 2, "Msun")
	require.NoError(t, err)
	radius, err := units.NewQuantity(reg, 4, "kpc")
	require.NoError(t, err)
	specific := mass.Div(radius)
	assert.True(t, reg.DimensionallyEquivalent(specific.Unit, mustUnit(t, reg, "Msun/kpc")))
}

func TestArrayConversion(t *testing.T) {
	t.Parallel()
	reg := units.NewRegistry()
	reg.SetHubbleConstant(0.5)
	arr, err := units.NewArray(reg, []float64{1, 2, 3}, "Msun/h")
	require.NoError(t, err)
	out, err := arr.To("Msun")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1, 1.5}, out.Values)
}

func mustUnit(t *testing.T, reg *units.Registry, expr string) units.Unit {
	t.Helper()
	u, err := reg.Parse(expr)
	require.NoError(t, err)
	return u
}
