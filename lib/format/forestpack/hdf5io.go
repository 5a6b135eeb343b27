// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package forestpack

import (
	"fmt"

	"gonum.org/v1/hdf5"

	"github.com/haloforest/arbor/lib/arborerr"
)

// location mirrors format/canonical's own helper interface; duplicated
// rather than imported since the two packages' HDF5 usage is expected to
// diverge as forest-pack gains struct-of-arrays-specific chunking.
type location interface {
	CreateDataset(name string, dtype *hdf5.Datatype, space *hdf5.Dataspace) (*hdf5.Dataset, error)
	OpenDataset(name string) (*hdf5.Dataset, error)
}

func writeFloats(loc location, name string, vals []float64) error {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(vals))}, nil)
	if err != nil {
		return err
	}
	defer space.Close()
	dset, err := loc.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		return err
	}
	defer dset.Close()
	if len(vals) == 0 {
		return nil
	}
	return dset.Write(&vals)
}

func readFloats(loc location, name string) ([]float64, error) {
	dset, err := loc.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %q: %w", arborerr.ErrHeaderMalformed, name, err)
	}
	defer dset.Close()
	space := dset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, err
	}
	n := 0
	if len(dims) > 0 {
		n = int(dims[0])
	}
	out := make([]float64, n)
	if n == 0 {
		return out, nil
	}
	if err := dset.Read(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeInts(loc location, name string, vals []int64) error {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(vals))}, nil)
	if err != nil {
		return err
	}
	defer space.Close()
	dset, err := loc.CreateDataset(name, hdf5.T_NATIVE_LLONG, space)
	if err != nil {
		return err
	}
	defer dset.Close()
	if len(vals) == 0 {
		return nil
	}
	return dset.Write(&vals)
}

func readInts(loc location, name string) ([]int64, error) {
	dset, err := loc.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %q: %w", arborerr.ErrHeaderMalformed, name, err)
	}
	defer dset.Close()
	space := dset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, err
	}
	n := 0
	if len(dims) > 0 {
		n = int(dims[0])
	}
	out := make([]int64, n)
	if n == 0 {
		return out, nil
	}
	if err := dset.Read(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeBytes(loc location, name string, data []byte) error {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(data))}, nil)
	if err != nil {
		return err
	}
	defer space.Close()
	dset, err := loc.CreateDataset(name, hdf5.T_NATIVE_UCHAR, space)
	if err != nil {
		return err
	}
	defer dset.Close()
	if len(data) == 0 {
		return nil
	}
	return dset.Write(&data)
}

func readBytes(loc location, name string) ([]byte, error) {
	dset, err := loc.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %q: %w", arborerr.ErrHeaderMalformed, name, err)
	}
	defer dset.Close()
	space := dset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, err
	}
	n := 0
	if len(dims) > 0 {
		n = int(dims[0])
	}
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	if err := dset.Read(&out); err != nil {
		return nil, err
	}
	return out, nil
}
