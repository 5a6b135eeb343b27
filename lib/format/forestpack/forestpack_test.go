// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package forestpack

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/hdf5"

	"github.com/haloforest/arbor/lib/datafile"
)

// writeFixtureShard builds a one-shard forest pack holding two trees:
// tree A (root uid=100, one progenitor uid=5) and tree B (a single-node
// root uid=200), back to back in the same flat arrays.
func writeFixtureShard(t *testing.T, path string) {
	t.Helper()
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	require.NoError(t, err)
	defer f.Close()

	meta, err := f.CreateGroup("meta")
	require.NoError(t, err)
	defer meta.Close()
	require.NoError(t, writeBytes(meta, "arbor_type", []byte(forestTag)))
	require.NoError(t, writeBytes(meta, "field_names", []byte(strings.Join([]string{"id", "desc_id", "mvir"}, "\n"))))
	require.NoError(t, writeBytes(meta, "field_units", []byte(strings.Join([]string{"", "", "Msun/h"}, "\n"))))
	require.NoError(t, writeFloats(meta, "omega_matter", []float64{0.3}))
	require.NoError(t, writeFloats(meta, "omega_lambda", []float64{0.7}))
	require.NoError(t, writeFloats(meta, "hubble_constant", []float64{0.7}))
	require.NoError(t, writeFloats(meta, "box_size", []float64{250.0}))

	forests, err := f.CreateGroup("Forests")
	require.NoError(t, err)
	defer forests.Close()
	// rows: [0]=halo100 (root A, first row of its block), [1]=halo5 (progenitor of 100), [2]=halo200 (root B, isolated)
	require.NoError(t, writeFloats(forests, "id", []float64{100, 5, 200}))
	require.NoError(t, writeFloats(forests, "desc_id", []float64{-1, 100, -1}))
	require.NoError(t, writeFloats(forests, "mvir", []float64{9.0e11, 3.0e11, 1.0e11}))

	info, err := f.CreateGroup("TreeInfo")
	require.NoError(t, err)
	defer info.Close()
	require.NoError(t, writeInts(info, "TreeHalosOffset", []int64{0, 2}))
	require.NoError(t, writeInts(info, "TreeNhalos", []int64{2, 1}))
}

func TestEnumerateRootsAndSetupTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog_0000.forest.h5")
	writeFixtureShard(t, path)

	b, err := construct(context.Background(), path, datafile.Options{})
	require.NoError(t, err)
	defer b.Close()

	roots, err := b.EnumerateRoots(context.Background())
	require.NoError(t, err)
	require.Len(t, roots, 2)
	require.ElementsMatch(t, []int64{100, 200}, []int64{roots[0].UID, roots[1].UID})

	var treeA datafile.RootDescriptor
	for _, r := range roots {
		if r.UID == 100 {
			treeA = r
		}
	}
	uids, descUIDs, locs, err := b.SetupTree(context.Background(), treeA)
	require.NoError(t, err)
	require.Len(t, uids, 2)
	require.Equal(t, int64(100), uids[0])
	require.Equal(t, int64(-1), descUIDs[0])
	require.Contains(t, uids, int64(5))

	df, err := b.OpenDataFile(context.Background(), locs[0])
	require.NoError(t, err)
	vals, err := df.ReadFields(context.Background(), []string{"mvir"}, datafile.Selection{Locators: locs})
	require.NoError(t, err)
	require.Contains(t, vals["mvir"], 9.0e11)
	require.Contains(t, vals["mvir"], 3.0e11)
}

func TestFieldDescriptorsRenameIDColumns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog_0000.forest.h5")
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
	require.True(t, names["mvir"])
	require.False(t, names["id"])
}
