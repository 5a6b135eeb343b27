// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arborsel

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a ScopeSource backed by plain maps, for exercising Compile
// and Evaluate without an Arbor.
type fakeSource struct {
	lens   map[string]int
	fields map[string]map[string][]float64 // scope -> name -> values
}

func (f *fakeSource) ScopeLen(scope string) (int, error) {
	n, ok := f.lens[scope]
	if !ok {
		return 0, fmt.Errorf("unknown scope %q", scope)
	}
	return n, nil
}

func (f *fakeSource) ScopeField(scope, name, toUnit string) ([]float64, error) {
	vals, ok := f.fields[scope][name]
	if !ok {
		return nil, fmt.Errorf("unknown field %q in scope %q", name, scope)
	}
	if toUnit != "" {
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = v * 2 // arbitrary stand-in conversion for the test
		}
		return out, nil
	}
	return vals, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		lens: map[string]int{"tree": 4},
		fields: map[string]map[string][]float64{
			"tree": {
				"mass": {10, 20, 30, 40},
				"mvir": {1, 1, 1, 1},
			},
		},
	}
}

func TestCompareSelection(t *testing.T) {
	t.Parallel()
	n, err := Compile(`tree["tree", "mass"] > 15`)
	require.NoError(t, err)
	mask, err := Evaluate(n, newFakeSource())
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, true}, mask)
}

func TestLogicalSelection(t *testing.T) {
	t.Parallel()
	n, err := Compile(`(tree["tree", "mass"] > 15) & (tree["tree", "mass"] < 35)`)
	require.NoError(t, err)
	mask, err := Evaluate(n, newFakeSource())
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, false}, mask)
}

func TestNotSelection(t *testing.T) {
	t.Parallel()
	n, err := Compile(`~(tree["tree", "mass"] == 20)`)
	require.NoError(t, err)
	mask, err := Evaluate(n, newFakeSource())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, true}, mask)
}

func TestUnitConversionSuffix(t *testing.T) {
	t.Parallel()
	n, err := Compile(`tree["tree", "mass"].to("Msun") >= 40`)
	require.NoError(t, err)
	mask, err := Evaluate(n, newFakeSource())
	require.NoError(t, err)
	// the fake conversion doubles, so mass==20 (40), 30 (60) and 40 (80) qualify
	assert.Equal(t, []bool{false, true, true, true}, mask)
}

func TestIllegalCharacter(t *testing.T) {
	t.Parallel()
	_, err := Compile(`tree["tree", "mass"] @ 1`)
	assert.Error(t, err)
}

func TestUnterminatedString(t *testing.T) {
	t.Parallel()
	_, err := Compile(`tree["tree, "mass"] > 1`)
	assert.Error(t, err)
}

func TestScopeMismatchRejected(t *testing.T) {
	t.Parallel()
	n, err := Compile(`tree["forest", "mass"] > 15`)
	require.NoError(t, err)
	_, err = Evaluate(n, newFakeSource())
	assert.Error(t, err)
}

func TestMixedScopeRejected(t *testing.T) {
	t.Parallel()
	n, err := Compile(`(tree["tree", "mass"] > 1) & (tree["forest", "mvir"] > 1)`)
	require.NoError(t, err)
	_, err = Evaluate(n, newFakeSource())
	assert.Error(t, err)
}
