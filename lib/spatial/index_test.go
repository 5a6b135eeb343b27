// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package spatial

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/hdf5"

	"github.com/haloforest/arbor/lib/arbor"
	"github.com/haloforest/arbor/lib/datafile"
	_ "github.com/haloforest/arbor/lib/format/forestpack"
)

func writeDataset1D(grp *hdf5.Group, name string, vals []float64) {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(vals))}, nil)
	if err != nil {
		panic(err)
	}
	defer space.Close()
	dset, err := grp.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		panic(err)
	}
	defer dset.Close()
	if err := dset.Write(&vals); err != nil {
		panic(err)
	}
}

func writeIntDataset1D(grp *hdf5.Group, name string, vals []int64) {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(vals))}, nil)
	if err != nil {
		panic(err)
	}
	defer space.Close()
	dset, err := grp.CreateDataset(name, hdf5.T_NATIVE_LLONG, space)
	if err != nil {
		panic(err)
	}
	defer dset.Close()
	if err := dset.Write(&vals); err != nil {
		panic(err)
	}
}

func writeByteDataset(grp *hdf5.Group, name string, data []byte) {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(data))}, nil)
	if err != nil {
		panic(err)
	}
	defer space.Close()
	dset, err := grp.CreateDataset(name, hdf5.T_NATIVE_UCHAR, space)
	if err != nil {
		panic(err)
	}
	defer dset.Close()
	if err := dset.Write(&data); err != nil {
		panic(err)
	}
}

// writeFixtureArbor builds a single-shard forest pack with one tree of
// three halos scattered in space, so a box/radius query can distinguish
// near from far without touching any dialect's real particle data.
func writeFixtureArbor(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog_0000.forest.h5")

	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	require.NoError(t, err)
	defer f.Close()

	meta, err := f.CreateGroup("meta")
	require.NoError(t, err)
	defer meta.Close()
	writeByteDataset(meta, "arbor_type", []byte("arbor-forestpack-v1"))
	writeByteDataset(meta, "field_names", []byte(strings.Join([]string{"id", "desc_id", "pos_x", "pos_y", "pos_z"}, "\n")))
	writeByteDataset(meta, "field_units", []byte(strings.Join([]string{"", "", "Mpc/h", "Mpc/h", "Mpc/h"}, "\n")))

	forests, err := f.CreateGroup("Forests")
	require.NoError(t, err)
	defer forests.Close()
	writeDataset1D(forests, "id", []float64{1, 2, 3})
	writeDataset1D(forests, "desc_id", []float64{-1, 1, 1})
	writeDataset1D(forests, "pos_x", []float64{0, 1, 50})
	writeDataset1D(forests, "pos_y", []float64{0, 1, 50})
	writeDataset1D(forests, "pos_z", []float64{0, 1, 50})

	info, err := f.CreateGroup("TreeInfo")
	require.NoError(t, err)
	defer info.Close()
	writeIntDataset1D(info, "TreeHalosOffset", []int64{0})
	writeIntDataset1D(info, "TreeNhalos", []int64{3})

	return path
}

func TestQueryBoxFindsNearbyHalos(t *testing.T) {
	ctx := context.Background()
	path := writeFixtureArbor(t)

	a, err := arbor.Load(ctx, path, datafile.Options{})
	require.NoError(t, err)
	defer a.Close()

	root, err := a.Index(ctx, 0)
	require.NoError(t, err)

	idx := New(root, "pos_x", "pos_y", "pos_z")
	found, err := idx.QueryBox(ctx, [3]float64{-5, -5, -5}, [3]float64{5, 5, 5})
	require.NoError(t, err)
	require.Len(t, found, 2)

	uids := map[int64]bool{}
	for _, n := range found {
		uids[n.UID()] = true
	}
	require.True(t, uids[1])
	require.True(t, uids[2])
	require.False(t, uids[3])
}

func TestQueryRadiusFindsNearbyHalos(t *testing.T) {
	ctx := context.Background()
	path := writeFixtureArbor(t)

	a, err := arbor.Load(ctx, path, datafile.Options{})
	require.NoError(t, err)
	defer a.Close()

	root, err := a.Index(ctx, 0)
	require.NoError(t, err)

	idx := New(root, "pos_x", "pos_y", "pos_z")
	found, err := idx.QueryRadius(ctx, [3]float64{0, 0, 0}, 2.0)
	require.NoError(t, err)
	require.Len(t, found, 2)
}

func TestInvalidateForcesRebuild(t *testing.T) {
	ctx := context.Background()
	path := writeFixtureArbor(t)

	a, err := arbor.Load(ctx, path, datafile.Options{})
	require.NoError(t, err)
	defer a.Close()

	root, err := a.Index(ctx, 0)
	require.NoError(t, err)

	idx := New(root, "pos_x", "pos_y", "pos_z")
	_, err = idx.QueryBox(ctx, [3]float64{-100, -100, -100}, [3]float64{100, 100, 100})
	require.NoError(t, err)
	require.True(t, idx.built)

	root.ResetNode()
	idx.Invalidate()
	require.False(t, idx.built)

	found, err := idx.QueryBox(ctx, [3]float64{-100, -100, -100}, [3]float64{100, 100, 100})
	require.NoError(t, err)
	require.Len(t, found, 3)
}
