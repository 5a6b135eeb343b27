// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package snapcatfwd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haloforest/arbor/lib/datafile"
)

// out_1.list is the later snapshot (higher index, walked first); both of
// its halos are necessarily roots. out_0.list is the earlier snapshot:
// halo 5 descends into halo 100 of out_1.list, halo 6's desc_id (999)
// matches nothing in out_1.list and is promoted to its own root.
const snapLater = `#id desc_id mvir
#Om = 0.2700; Ol = 0.7300; h = 0.7000
#Box size: 125.000000 Mpc/h
100 -1 8.0e11
101 -1 4.0e11
`

const snapEarlier = `#id desc_id mvir
5 100 3.0e11
6 999 1.0e10
`

func writeFamilyFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out_0.list"), []byte(snapEarlier), 0o644))
	p1 := filepath.Join(dir, "out_1.list")
	require.NoError(t, os.WriteFile(p1, []byte(snapLater), 0o644))
	return p1
}

func TestEnumerateRootsStitchesAcrossSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := writeFamilyFixture(t)

	b, err := construct(ctx, path, datafile.Options{})
	require.NoError(t, err)

	roots, err := b.EnumerateRoots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 3)

	uids, descUIDs, locs, err := b.SetupTree(ctx, roots[0])
	require.NoError(t, err)
	assert.Len(t, uids, 2)
	assert.Equal(t, int64(-1), descUIDs[0])
	assert.Equal(t, uids[0], descUIDs[1])
	require.Len(t, locs, 2)

	df0, err := b.OpenDataFile(ctx, locs[0])
	require.NoError(t, err)
	vals0, err := df0.ReadFields(ctx, []string{"mvir"}, datafile.Selection{Locators: []datafile.Locator{locs[0]}})
	require.NoError(t, err)
	assert.InDelta(t, 8.0e11, vals0["mvir"][0], 1e6)

	df1, err := b.OpenDataFile(ctx, locs[1])
	require.NoError(t, err)
	vals1, err := df1.ReadFields(ctx, []string{"mvir"}, datafile.Selection{Locators: []datafile.Locator{locs[1]}})
	require.NoError(t, err)
	assert.InDelta(t, 3.0e11, vals1["mvir"][0], 1e6)

	uidsOrphan, descOrphan, _, err := b.SetupTree(ctx, roots[2])
	require.NoError(t, err)
	assert.Len(t, uidsOrphan, 1)
	assert.Equal(t, int64(-1), descOrphan[0])
}

func TestHeaderProperties(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := writeFamilyFixture(t)

	b, err := construct(ctx, path, datafile.Options{})
	require.NoError(t, err)
	props := b.HeaderProperties()
	assert.InDelta(t, 0.27, props["omega_matter"], 1e-9)
	assert.InDelta(t, 125.0, props["box_size"], 1e-9)
}
