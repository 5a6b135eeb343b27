// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package datafile defines the DataFile contract every on-disk dialect
// implements (§4.3), the per-halo locator types, and the ordered-probe
// backend dispatch table (§4.4, §6) that picks which dialect mounts a
// given path.
package datafile

import (
	"context"

	"github.com/haloforest/arbor/lib/field"
)

// Locator identifies one halo's row: a byte offset for text dialects, or
// an (Index, FileID) pair for struct-of-arrays / HDF-style dialects. Which
// fields are meaningful is backend-specific; backends type-assert their
// own locators back out of the opaque value stored on a RootDescriptor or
// produced by a traversal.
type Locator struct {
	ByteOffset int64
	Index      int
	FileID     int
}

// Selection is either "every halo in this DataFile" or an explicit,
// ordered list of locators.
type Selection struct {
	All      bool
	Locators []Locator
}

// DataFile is one mounted source file: it knows only how to report
// header/global properties and fulfill typed block reads for a selection
// of halos.
type DataFile interface {
	// Open is idempotent; implementations may refcount or pool handles.
	Open(ctx context.Context) error
	// Close is idempotent.
	Close() error
	// Name identifies the file for logging and for the node-I/O-loop
	// grouping key.
	Name() string
	// HeaderProperties returns scalars this file's header carries
	// (redshift, scale factor, cosmology pieces, box size, ...).
	HeaderProperties() map[string]float64
	// ReadFields fulfills sel for each name in names, returning one raw
	// array per field. Implementations may cache decoded columns between
	// calls on the same open handle.
	ReadFields(ctx context.Context, names []string, sel Selection) (map[string][]float64, error)
}

// RootDescriptor is one row of an Arbor's root table: a root's stable uid
// and the backend-opaque locator for that tree's bytes.
type RootDescriptor struct {
	UID     int64
	Locator Locator
	// Ancestors, when non-nil, is the uid-keyed ancestor adjacency a
	// forward-linked per-snapshot backend must resolve eagerly at plant
	// time (spec §4.4: "must plant all trees up front"). nil for
	// backends that resolve ancestry lazily, per-tree, at grow time.
	Ancestors map[int64][]int64
}

// Backend is the mounted instance of one on-disk dialect for a whole
// arbor: a tagged implementation of the DataFile trait plus the "Arbor
// mix-in" spec §4.4 describes, which knows how to enumerate trees and
// plant roots.
type Backend interface {
	// HeaderProperties returns arbor-global header scalars.
	HeaderProperties() map[string]float64
	// FieldDescriptors returns the on-disk field descriptors this
	// backend's header declares (columns, attributes, synthesized
	// uid/desc_uid for backends that generate rather than store them).
	FieldDescriptors() []field.Descriptor
	// EnumerateRoots walks the backend's index/files and returns one
	// RootDescriptor per tree, in stored order.
	EnumerateRoots(ctx context.Context) ([]RootDescriptor, error)
	// OpenDataFile returns the DataFile that owns loc's bytes.
	OpenDataFile(ctx context.Context, loc Locator) (DataFile, error)
	// SetupTree returns every node belonging to root's tree: each node's
	// own uid, its descendant's uid (-1 for the root itself, per §3's
	// desc_uid convention), and the locator of its row. Called once per
	// tree at grow time (§4.4's "setup_tree"/"_grow_tree" split).
	// Dialects whose on-disk layout already groups a tree's rows
	// contiguously (contreestxt, contreesloc, forestpack) satisfy this
	// with a single sequential scan of root.Locator's file; per-snapshot
	// dialects (snapcatfwd, snapcatahf) fan out across every open
	// DataFile the tree's nodes are scattered across, using
	// RootDescriptor.Ancestors (when EnumerateRoots already resolved it
	// eagerly) or their own lazy ancestor index otherwise.
	SetupTree(ctx context.Context, root RootDescriptor) (uids []int64, descUIDs []int64, locs []Locator, err error)
	// Close releases every DataFile this backend has opened.
	Close() error
}
