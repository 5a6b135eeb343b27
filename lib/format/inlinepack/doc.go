// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package inlinepack implements the inline simulation-output merger-tree
// dialect: one or more "<stem>_%04d.inline.h5" shard files, each holding
// every on-disk field as its own flat dataset under a "TreeHalos" group
// (2-D per-snapshot fields already split into "<name>_<component>" flat
// datasets at write time, rather than read back out of a 2-D dataspace)
// plus a "TreeTable" group recording each tree's local [offset, offset+size)
// block within that shard. A halo's uid is its own position in the
// concatenated row space across every shard; a tree's rows are laid out
// contiguously, so descendant links inside a tree are stored as
// tree-relative indices and translated to global uids in SetupTree.
package inlinepack

import (
	"fmt"
	"regexp"
)

const inlineTag = "arbor-inlinepack-v1"
const shardSuffix = ".inline.h5"

var shardIndexPattern = regexp.MustCompile(`_(\d+)\.inline\.h5$`)

func shardPath(stem string, shardIndex int) string {
	return fmt.Sprintf("%s_%04d%s", stem, shardIndex, shardSuffix)
}
