// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package contreesloc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haloforest/arbor/lib/datafile"
)

const treeFile0 = `#id(1) desc_id(2) mvir(3)
#a = 1.00000
#Omega_M = 0.2700; Omega_L = 0.7300; h0 = 0.7000
#Full box size = 125.000000 Mpc/h
#id: id of halo
#desc_id: id of descendant halo
#mvir: Mvir (Msun/h)
1
#tree 10
10 -1 5.0e11
11 10 2.0e11
`

const treeFile1 = `#id(1) desc_id(2) mvir(3)
1
#tree 20
20 -1 1.0e10
`

func writeGroupFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tree_0_0_0.dat"), []byte(treeFile0), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tree_0_0_1.dat"), []byte(treeFile1), 0o644))

	locations := "#TreeRootID FileID Offset Filename\n" +
		"#Consistent Trees tree_0_0_0.dat\n" +
		"10 0 0 tree_0_0_0.dat\n" +
		"20 1 0 tree_0_0_1.dat\n"
	path := filepath.Join(dir, "locations.dat")
	require.NoError(t, os.WriteFile(path, []byte(locations), 0o644))
	return path
}

func TestProbeRequiresLocationsDatName(t *testing.T) {
	t.Parallel()
	path := writeGroupFixture(t)
	ok, err := probe(path, datafile.Options{})
	require.NoError(t, err)
	assert.True(t, ok)

	other := filepath.Join(filepath.Dir(path), "not-locations.dat")
	require.NoError(t, os.WriteFile(other, []byte("nothing"), 0o644))
	ok, err = probe(other, datafile.Options{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnumerateRootsAcrossFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := writeGroupFixture(t)

	b, err := construct(ctx, path, datafile.Options{})
	require.NoError(t, err)

	roots, err := b.EnumerateRoots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.EqualValues(t, 10, roots[0].UID)
	assert.EqualValues(t, 20, roots[1].UID)

	uids, descUIDs, _, err := b.SetupTree(ctx, roots[0])
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, uids)
	assert.Equal(t, []int64{-1, 10}, descUIDs)

	uids2, descUIDs2, _, err := b.SetupTree(ctx, roots[1])
	require.NoError(t, err)
	assert.Equal(t, []int64{20}, uids2)
	assert.Equal(t, []int64{-1}, descUIDs2)
}

func TestReadFieldsAcrossGroupedFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := writeGroupFixture(t)

	b, err := construct(ctx, path, datafile.Options{})
	require.NoError(t, err)
	roots, err := b.EnumerateRoots(ctx)
	require.NoError(t, err)

	_, _, locs, err := b.SetupTree(ctx, roots[0])
	require.NoError(t, err)
	df, err := b.OpenDataFile(ctx, locs[0])
	require.NoError(t, err)
	vals, err := df.ReadFields(ctx, []string{"mvir"}, datafile.Selection{Locators: locs})
	require.NoError(t, err)
	assert.InDelta(t, 5.0e11, vals["mvir"][0], 1e6)
	assert.InDelta(t, 2.0e11, vals["mvir"][1], 1e6)
}
