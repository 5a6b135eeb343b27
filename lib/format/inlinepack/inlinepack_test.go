// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package inlinepack

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/hdf5"

	"github.com/haloforest/arbor/lib/datafile"
)

// writeFixtureShard builds a one-shard inline pack holding two trees:
// tree A (root at snapshot 2, one progenitor at snapshot 1) and tree B
// (a single-node root, also at snapshot 2).
func writeFixtureShard(t *testing.T, path string) {
	t.Helper()
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	require.NoError(t, err)
	defer f.Close()

	meta, err := f.CreateGroup("meta")
	require.NoError(t, err)
	defer meta.Close()
	require.NoError(t, writeBytes(meta, "arbor_type", []byte(inlineTag)))
	require.NoError(t, writeBytes(meta, "field_names", []byte(strings.Join([]string{"SnapNum", "TreeDescendant", "SubhaloMass"}, "\n"))))
	require.NoError(t, writeFloats(meta, "omega_matter", []float64{0.3}))
	require.NoError(t, writeFloats(meta, "omega_lambda", []float64{0.7}))
	require.NoError(t, writeFloats(meta, "hubble_constant", []float64{0.7}))
	require.NoError(t, writeFloats(meta, "box_size", []float64{100.0}))
	require.NoError(t, writeFloats(meta, "redshift_by_snapshot", []float64{2.0, 1.0, 0.0}))

	halos, err := f.CreateGroup("TreeHalos")
	require.NoError(t, err)
	defer halos.Close()
	// rows: [0]=tree A root (snap 2), [1]=tree A progenitor (snap 1, descends to row 0), [2]=tree B root (snap 2)
	require.NoError(t, writeFloats(halos, "SnapNum", []float64{2, 1, 2}))
	require.NoError(t, writeFloats(halos, "TreeDescendant", []float64{-1, 0, -1}))
	require.NoError(t, writeFloats(halos, "SubhaloMass", []float64{9.0e11, 3.0e11, 1.0e11}))

	table, err := f.CreateGroup("TreeTable")
	require.NoError(t, err)
	defer table.Close()
	require.NoError(t, writeInts(table, "StartOffset", []int64{0, 2}))
	require.NoError(t, writeInts(table, "Length", []int64{2, 1}))
}

func TestEnumerateRootsAndSetupTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fof_subhalo_tab_0000.inline.h5")
	writeFixtureShard(t, path)

	b, err := construct(context.Background(), path, datafile.Options{})
	require.NoError(t, err)
	defer b.Close()

	roots, err := b.EnumerateRoots(context.Background())
	require.NoError(t, err)
	require.Len(t, roots, 2)

	var treeA datafile.RootDescriptor
	for _, r := range roots {
		if r.Locator.Index == 0 {
			treeA = r
		}
	}
	uids, descUIDs, locs, err := b.SetupTree(context.Background(), treeA)
	require.NoError(t, err)
	require.Len(t, uids, 2)
	require.Equal(t, int64(-1), descUIDs[0])
	require.Equal(t, uids[0]+1, uids[1])
	require.Equal(t, uids[0], descUIDs[1])

	df, err := b.OpenDataFile(context.Background(), locs[0])
	require.NoError(t, err)
	vals, err := df.ReadFields(context.Background(), []string{"SubhaloMass", "redshift"}, datafile.Selection{Locators: locs})
	require.NoError(t, err)
	require.Equal(t, []float64{9.0e11, 3.0e11}, vals["SubhaloMass"])
	require.Equal(t, []float64{0.0, 1.0}, vals["redshift"])
}

func TestFieldDescriptorsIncludeGeneratedAndDerived(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fof_subhalo_tab_0000.inline.h5")
	writeFixtureShard(t, path)

	b, err := construct(context.Background(), path, datafile.Options{})
	require.NoError(t, err)
	defer b.Close()

	names := map[string]bool{}
	for _, fd := range b.FieldDescriptors() {
		names[fd.Name] = true
	}
	require.True(t, names["uid"])
	require.True(t, names["desc_uid"])
	require.True(t, names["redshift"])
	require.True(t, names["SubhaloMass"])
}
