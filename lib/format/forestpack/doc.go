// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package forestpack implements the struct-of-arrays HDF forest pack
// dialect: one or more "<stem>_%04d.forest.h5" shard files, each holding
// every field as its own flat dataset under a "Forests" group (so
// reading one field never touches another's bytes) and a "TreeInfo"
// group recording, per tree, the contiguous [offset, offset+size) block
// of that shard's arrays the tree's halos occupy.
package forestpack

import (
	"fmt"
	"regexp"
)

const forestTag = "arbor-forestpack-v1"
const shardSuffix = ".forest.h5"

var shardIndexPattern = regexp.MustCompile(`_(\d+)\.forest\.h5$`)

func shardPath(stem string, shardIndex int) string {
	return fmt.Sprintf("%s_%04d%s", stem, shardIndex, shardSuffix)
}
