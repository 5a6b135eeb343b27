// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package snapcatahf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haloforest/arbor/lib/datafile"
)

// halo_001 is the later snapshot (walked first); both its halos are
// necessarily roots. halo_000 is the earlier snapshot: halo 5 shares
// particles only with halo 100 (a strong match); halo 6's best link
// (999) matches no halo_001 id and is promoted to its own root.
func writeAHFFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("halo_001.AHF_halos", "#ID(1) Mvir(2)\n100 8.0e11\n101 4.0e11\n")
	write("halo_001.parameter", "z 0.0\n")
	write("halo_000.AHF_halos", "#ID(1) Mvir(2)\n5 3.0e11\n6 1.0e10\n")
	write("halo_000.parameter", "z 0.5\n")
	// Assigned (per AHFArbor._get_data_files) to halo_000's processing
	// step: shared progID progN descID descN.
	write("halo_001.AHF_mtree", "50 5 100 100 100\n10 6 50 999 50\n")

	return filepath.Join(dir, "halo_000.parameter")
}

func TestEnumerateRootsStitchesBackwardLinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := writeAHFFixture(t)

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

	df0, err := b.OpenDataFile(ctx, locs[0])
	require.NoError(t, err)
	vals0, err := df0.ReadFields(ctx, []string{"Mvir"}, datafile.Selection{Locators: []datafile.Locator{locs[0]}})
	require.NoError(t, err)
	assert.InDelta(t, 8.0e11, vals0["Mvir"][0], 1e6)

	df1, err := b.OpenDataFile(ctx, locs[1])
	require.NoError(t, err)
	vals1, err := df1.ReadFields(ctx, []string{"Mvir"}, datafile.Selection{Locators: []datafile.Locator{locs[1]}})
	require.NoError(t, err)
	assert.InDelta(t, 3.0e11, vals1["Mvir"][0], 1e6)

	uidsOrphan, descOrphan, _, err := b.SetupTree(ctx, roots[2])
	require.NoError(t, err)
	assert.Len(t, uidsOrphan, 1)
	assert.Equal(t, int64(-1), descOrphan[0])
}

func TestResolveLinksWeightedTieBreak(t *testing.T) {
	t.Parallel()
	links := []mtreeLink{
		{sharedN: 10, progID: 1, progN: 100, descID: 200, descN: 100}, // m = 0.01
		{sharedN: 50, progID: 1, progN: 100, descID: 201, descN: 100}, // m = 0.25, wins
		{sharedN: 50, progID: 1, progN: 100, descID: 202, descN: 100}, // tie at 0.25, first (201) stays
	}
	out := resolveLinks(links)
	assert.Equal(t, int64(201), out[1])
}
