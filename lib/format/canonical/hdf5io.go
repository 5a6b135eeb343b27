// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package canonical

import (
	"fmt"

	"gonum.org/v1/hdf5"

	"github.com/haloforest/arbor/lib/arborerr"
)

// location is satisfied by *hdf5.File and *hdf5.Group: the subset of the
// library's embedded Location methods this package needs to create or
// open a dataset by name, independent of whether the caller is writing at
// the file root or inside a named group.
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

// writeBytes and readBytes persist an opaque byte blob (JSON text, tag
// strings) as a uint8 dataset rather than an HDF5 string/attribute type,
// so this package only ever depends on hdf5's dataset and dataspace API.
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

func writeScalarFloat(loc location, name string, v float64) error {
	return writeFloats(loc, name, []float64{v})
}

func readScalarFloat(loc location, name string) (float64, error) {
	vals, err := readFloats(loc, name)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, nil
	}
	return vals[0], nil
}

func writeScalarInt(loc location, name string, v int64) error {
	return writeInts(loc, name, []int64{v})
}

func readScalarInt(loc location, name string) (int64, error) {
	vals, err := readInts(loc, name)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, nil
	}
	return vals[0], nil
}
