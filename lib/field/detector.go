// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package field

import (
	"sort"

	"github.com/haloforest/arbor/lib/units"
)

// Detector is the "fake container" spec's Design Notes prescribe in place
// of source-language reflection: a DerivedFunc is run once against a
// Detector, which records every name it's asked for and hands back a
// dimensionless ones-array of the requested length, so the function's own
// arithmetic doesn't panic on empty input. Whatever names got recorded are
// the field's dependencies.
type Detector struct {
	n    int
	deps map[string]struct{}
}

// NewDetector returns a Detector that will answer Field() requests with
// n-length ones-arrays.
func NewDetector(n int) *Detector {
	if n <= 0 {
		n = 1
	}
	return &Detector{n: n, deps: map[string]struct{}{}}
}

var _ Container = (*Detector)(nil)

func (d *Detector) Field(name string) (units.Array, error) {
	d.deps[name] = struct{}{}
	ones := make([]float64, d.n)
	for i := range ones {
		ones[i] = 1
	}
	return units.Array{Values: ones}, nil
}

func (d *Detector) Len() int { return d.n }

// Deps returns the discovered dependency names, sorted for determinism.
func (d *Detector) Deps() []string {
	out := make([]string, 0, len(d.deps))
	for name := range d.deps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
