// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package field

import (
	"context"
	"fmt"
	"math"

	"github.com/haloforest/arbor/lib/units"
)

// RegisterVector implements the §4.1 vector field convention: given the
// three scalar component fields for name (conventionally x_<name>,
// y_<name>, z_<name>; the caller always passes the triple), register a derived
// field named `name` whose values are laid out as consecutive (x,y,z)
// triples — Values[3*i+0..2] is halo i's vector — and a second derived
// field `name + "_magnitude"` holding its Euclidean norm.
func RegisterVector(ctx context.Context, r *Registry, name string, components [3]string, unit string) error {
	x, y, z := components[0], components[1], components[2]
	for _, c := range components {
		if _, ok := r.Get(c); !ok {
			return fmt.Errorf("vector field %q: component %q not registered", name, c)
		}
	}
	vecFn := func(c Container) (units.Array, error) {
		xs, err := c.Field(x)
		if err != nil {
			return units.Array{}, err
		}
		ys, err := c.Field(y)
		if err != nil {
			return units.Array{}, err
		}
		zs, err := c.Field(z)
		if err != nil {
			return units.Array{}, err
		}
		n := c.Len()
		out := make([]float64, 3*n)
		for i := 0; i < n; i++ {
			out[3*i+0] = xs.Values[i]
			out[3*i+1] = ys.Values[i]
			out[3*i+2] = zs.Values[i]
		}
		return units.Array{Values: out}, nil
	}
	if err := r.AddDerivedField(ctx, name, vecFn, unit, DtypeFloat64, true, true); err != nil {
		return err
	}

	magFn := func(c Container) (units.Array, error) {
		vec, err := c.Field(name)
		if err != nil {
			return units.Array{}, err
		}
		n := len(vec.Values) / 3
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			vx, vy, vz := vec.Values[3*i+0], vec.Values[3*i+1], vec.Values[3*i+2]
			out[i] = math.Sqrt(vx*vx + vy*vy + vz*vz)
		}
		return units.Array{Values: out}, nil
	}
	return r.AddDerivedField(ctx, name+"_magnitude", magFn, unit, DtypeFloat64, false, true)
}
