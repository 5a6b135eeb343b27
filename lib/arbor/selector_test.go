// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arbor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haloforest/arbor/lib/field"
	"github.com/haloforest/arbor/lib/units"
)

// TestMaxFieldSelectorPicksMaximum pins down the "maximum value wins"
// contract for the default selector: given a merge with a higher-mass and
// a lower-mass ancestor, the main-progenitor chain must continue through
// the higher-mass one. See the doc comment on maxFieldSelector for why
// this needed a dedicated regression test.
func TestMaxFieldSelectorPicksMaximum(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestArbor(t)
	root, err := a.Index(ctx, 0)
	require.NoError(t, err)

	chosen, err := root.GetNode(ctx, "prog", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 101, chosen.UID(), "mass=30 ancestor must win over mass=20")
}

// TestMaxFieldSelectorTieBreaksFirstOccurrence exercises the tie-break
// rule directly against the selector with a field cache seeded to have
// equal values at both candidates, so the only thing that can decide the
// outcome is candidate order.
func TestMaxFieldSelectorTieBreaksFirstOccurrence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestArbor(t)
	root, err := a.Index(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, root.root.setup(ctx))

	root.root.mu.Lock()
	root.root.fieldCache = map[string]units.Array{
		"mass": {Values: []float64{50, 25, 25}},
	}
	root.root.mu.Unlock()

	sel := &maxFieldSelector{field: "mass"}
	chosen, err := sel.Select(ctx, root.root, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 1, chosen, "equal-mass candidates must break the tie toward first occurrence")
}

// TestNamedFieldSelectorIsRegisterable exercises the pluggable-selector
// path: a derived field that inverts mass ordering, selected via an
// alternate registered selector, must pick the opposite ancestor from the
// mass-based default.
func TestNamedFieldSelectorIsRegisterable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestArbor(t)
	require.NoError(t, a.AddDerivedField(ctx, "inverse_mass", func(c field.Container) (units.Array, error) {
		mass, err := c.Field("mass")
		if err != nil {
			return units.Array{}, err
		}
		out := make([]float64, len(mass.Values))
		for i, v := range mass.Values {
			out[i] = -v
		}
		return units.Array{Values: out}, nil
	}, "", field.DtypeFloat64, false, false))

	a.RegisterSelector(NewFieldSelector("by_inverse_mass", "inverse_mass"))
	require.NoError(t, a.SetSelector("by_inverse_mass"))

	root, err := a.Index(ctx, 0)
	require.NoError(t, err)

	chosen, err := root.GetNode(ctx, "prog", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 102, chosen.UID(), "inverse-mass selector must pick the lower-mass ancestor")
}
