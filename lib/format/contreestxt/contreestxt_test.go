// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package contreestxt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haloforest/arbor/lib/datafile"
)

// fixture is a small, hand-written Consistent Trees tree_*.dat: two
// columns beyond id/desc_id, two trees, one of them a two-node merger.
const fixture = `#id(1) desc_id(2) mvir(3)
#Consistent Trees version 1.01
#a = 1.00000
#Omega_M = 0.2700; Omega_L = 0.7300; h0 = 0.7000
#Full box size = 125.000000 Mpc/h
#1d scale of the smallest halo resolved: 0.0500
#id: id of halo
#desc_id: id of descendant halo
#mvir: Mvir (Msun/h)
2
#tree 10
10 -1 5.0e11
11 10 2.0e11
#tree 20
20 -1 1.0e10
`

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tree_0_0_0.dat")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))
	return path
}

func TestProbeAcceptsConsistentTreesHeader(t *testing.T) {
	t.Parallel()
	path := writeFixture(t)
	ok, err := probe(path, datafile.Options{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProbeRejectsWrongSuffix(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "tree.txt")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))
	ok, err := probe(path, datafile.Options{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseHeaderFieldsAndCosmology(t *testing.T) {
	t.Parallel()
	path := writeFixture(t)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	hdr, err := parseHeader(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "desc_id", "mvir"}, hdr.fields)
	assert.Equal(t, 0.27, hdr.omegaMatter)
	assert.Equal(t, 0.73, hdr.omegaLambda)
	assert.Equal(t, 0.7, hdr.hubbleConstant)
	assert.Equal(t, 125.0, hdr.boxSize)
	assert.Equal(t, "Msun/h", hdr.units["mvir"])
	assert.Equal(t, 2, hdr.ntrees)
}

func TestEnumerateRootsAndSetupTree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := writeFixture(t)

	b, err := construct(ctx, path, datafile.Options{})
	require.NoError(t, err)

	roots, err := b.EnumerateRoots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.EqualValues(t, 10, roots[0].UID)
	assert.EqualValues(t, 20, roots[1].UID)

	uids, descUIDs, locs, err := b.SetupTree(ctx, roots[0])
	require.NoError(t, err)
	require.Len(t, uids, 2)
	assert.EqualValues(t, 10, uids[0], "root row must be moved to index 0")
	assert.EqualValues(t, -1, descUIDs[0])
	assert.EqualValues(t, 11, uids[1])
	assert.EqualValues(t, 10, descUIDs[1])
	require.Len(t, locs, 2)

	uids2, descUIDs2, _, err := b.SetupTree(ctx, roots[1])
	require.NoError(t, err)
	require.Len(t, uids2, 1)
	assert.EqualValues(t, 20, uids2[0])
	assert.EqualValues(t, -1, descUIDs2[0])
}

func TestReadFieldsByLocator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := writeFixture(t)

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
	require.Len(t, vals["mvir"], 2)
	assert.InDelta(t, 5.0e11, vals["mvir"][0], 1e6)
	assert.InDelta(t, 2.0e11, vals["mvir"][1], 1e6)
}
