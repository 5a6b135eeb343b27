// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package field implements the field-descriptor table and the resolver
// that turns a set of requested field names into materialized,
// unit-tagged arrays: splitting on-disk reads from generated values,
// topologically ordering derived-field dependencies, and populating
// analysis-field defaults.
package field

import (
	"github.com/haloforest/arbor/lib/units"
)

// Kind is one of the five field kinds a descriptor may have.
type Kind int

const (
	KindOnDisk Kind = iota
	KindAlias
	KindDerived
	KindAnalysis
	KindAnalysisSaved
)

func (k Kind) String() string {
	switch k {
	case KindOnDisk:
		return "on-disk"
	case KindAlias:
		return "alias"
	case KindDerived:
		return "derived"
	case KindAnalysis:
		return "analysis"
	case KindAnalysisSaved:
		return "analysis_saved"
	default:
		return "unknown"
	}
}

// Source distinguishes where an on-disk-kind field's bytes come from.
type Source int

const (
	SourceNone Source = iota
	SourceFile
	SourceHeader
	SourceArborGenerated
)

// Dtype names the element type an on-disk or analysis field is read/stored
// as. The resolver always hands back float64-backed units.Array values;
// Dtype records what the backend's native width was / what an analysis
// field should format as, for round-tripping through the canonical writer.
type Dtype int

const (
	DtypeFloat64 Dtype = iota
	DtypeFloat32
	DtypeInt64
	DtypeInt32
	DtypeUint64
)

// DerivedFunc computes a derived field's values from a Container that can
// answer Field() for any of the names it reports via dependency discovery
// (see Detector). It must not call Field with a name it didn't request
// during the discovery pass registered at AddDerivedField time.
type DerivedFunc func(c Container) (units.Array, error)

// Container is implemented both by the Detector (dependency discovery) and
// by the real per-tree field cache (evaluation), so a DerivedFunc is
// written once and run twice.
type Container interface {
	Field(name string) (units.Array, error)
	Len() int
}

// Descriptor is the record the spec calls out in §3: name, units, dtype,
// kind, dependencies, and source.
type Descriptor struct {
	Name             string
	Units            string
	Dtype            Dtype
	Kind             Kind
	Source           Source
	Deps             []string
	VectorComponents []string // set only on the synthesized vector/magnitude fields
	Default          float64
	Description      string
	Fn               DerivedFunc // set only for Kind == KindDerived
}
