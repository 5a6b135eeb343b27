// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package canonical

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haloforest/arbor/lib/arbor"
	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/units"
)

// buildArray is a small helper that tags raw values with a unit for the
// Writer calls below, mirroring what lib/arbor.SaveArbor does internally.
func buildArray(t *testing.T, reg *units.Registry, vals []float64, unit string) units.Array {
	t.Helper()
	arr, err := units.NewArray(reg, vals, unit)
	require.NoError(t, err)
	return arr
}

// TestWriterBackendRoundTrip exercises the write-then-reload path two
// shards deep: tree A (2 nodes) and tree B (1 node) land in shard 0, tree
// C (3 nodes) lands alone in shard 1, mirroring the shape of a
// max_shard_nodes save that never splits a tree across shard boundaries.
func TestWriterBackendRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := units.NewRegistry()
	stem := filepath.Join(t.TempDir(), "catalog")
	spec := arbor.SaveSpec{Stem: stem, MaxShardNodes: 3}

	w := &Writer{}

	shard0 := map[string]units.Array{
		"uid":      buildArray(t, reg, []float64{100, 101, 200}, ""),
		"desc_uid": buildArray(t, reg, []float64{-1, 100, -1}, ""),
		"mvir":     buildArray(t, reg, []float64{5e11, 2e11, 3e10}, "Msun/h"),
	}
	require.NoError(t, w.WriteShard(ctx, spec, 0, shard0, []int{0, 2}, []int{2, 3}, []int{2, 1}))

	shard1 := map[string]units.Array{
		"uid":      buildArray(t, reg, []float64{300, 301, 302}, ""),
		"desc_uid": buildArray(t, reg, []float64{-1, 300, 301}, ""),
		"mvir":     buildArray(t, reg, []float64{7e11, 4e11, 1e11}, "Msun/h"),
	}
	require.NoError(t, w.WriteShard(ctx, spec, 1, shard1, []int{0}, []int{3}, []int{3}))

	headerProps := map[string]float64{
		"omega_matter":    0.27,
		"omega_lambda":    0.73,
		"hubble_constant": 0.7,
		"box_size":        125.0,
	}
	rootTable := map[string]units.Array{
		"uid":      buildArray(t, reg, []float64{100, 200, 300}, ""),
		"desc_uid": buildArray(t, reg, []float64{-1, -1, -1}, ""),
		"mvir":     buildArray(t, reg, []float64{5e11, 3e10, 7e11}, "Msun/h"),
	}
	require.NoError(t, w.WriteHeader(ctx, spec, 3, 6, headerProps, rootTable))

	backend, err := construct(ctx, headerPath(stem), datafile.Options{})
	require.NoError(t, err)
	defer backend.Close()

	assert.Equal(t, 0.7, backend.HeaderProperties()["hubble_constant"])
	assert.Equal(t, 125.0, backend.HeaderProperties()["box_size"])

	roots, err := backend.EnumerateRoots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 3)
	assert.EqualValues(t, 100, roots[0].UID)
	assert.EqualValues(t, 200, roots[1].UID)
	assert.EqualValues(t, 300, roots[2].UID)

	uidsA, descA, locsA, err := backend.SetupTree(ctx, roots[0])
	require.NoError(t, err)
	require.Len(t, uidsA, 2)
	assert.EqualValues(t, 100, uidsA[0])
	assert.EqualValues(t, -1, descA[0])
	assert.EqualValues(t, 101, uidsA[1])
	assert.EqualValues(t, 100, descA[1])

	df, err := backend.OpenDataFile(ctx, locsA[1])
	require.NoError(t, err)
	vals, err := df.ReadFields(ctx, []string{"mvir"}, datafile.Selection{Locators: locsA})
	require.NoError(t, err)
	assert.InDelta(t, 5e11, vals["mvir"][0], 1e6)
	assert.InDelta(t, 2e11, vals["mvir"][1], 1e6)

	uidsC, descC, _, err := backend.SetupTree(ctx, roots[2])
	require.NoError(t, err)
	require.Len(t, uidsC, 3)
	assert.EqualValues(t, 300, uidsC[0])
	assert.EqualValues(t, -1, descC[0])
	assert.EqualValues(t, 301, uidsC[1])
	assert.EqualValues(t, 302, uidsC[2])

	rootDF, err := backend.OpenDataFile(ctx, roots[1].Locator)
	require.NoError(t, err)
	rootVals, err := rootDF.ReadFields(ctx, []string{"mvir"}, datafile.Selection{Locators: []datafile.Locator{roots[1].Locator}})
	require.NoError(t, err)
	assert.InDelta(t, 3e10, rootVals["mvir"][0], 1e4)
}

// TestProbeRejectsAnalysisSidecar makes sure an analysis-only header
// sidecar, which carries the meta/arbor_type marker but no index group,
// is not mistaken for a mountable canonical header.
func TestProbeRejectsAnalysisSidecar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := units.NewRegistry()
	stem := filepath.Join(t.TempDir(), "other")
	spec := arbor.SaveSpec{Stem: stem, AnalysisOnly: true}

	w := &Writer{}
	data := map[string]units.Array{"sigma_v": buildArray(t, reg, []float64{1, 2}, "km/s")}
	require.NoError(t, w.WriteShard(ctx, spec, 0, data, []int{0}, []int{2}, []int{2}))
	require.NoError(t, w.WriteHeader(ctx, spec, 1, 2, map[string]float64{}, map[string]units.Array{
		"sigma_v": buildArray(t, reg, []float64{1}, "km/s"),
	}))

	ok, err := probe(analysisHeaderPath(stem), datafile.Options{})
	require.NoError(t, err)
	assert.False(t, ok, "analysis-only sidecar headers omit the index group an arbor load needs, and are not independently mountable")
}
