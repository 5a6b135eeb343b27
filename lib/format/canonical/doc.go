// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package canonical implements this library's own sharded on-disk format:
// the writer behind lib/arbor's Writer interface, and the matching
// datafile.Backend that reloads a previously-saved arbor. It is the only
// dialect this module writes; every other format/* package is read-only.
package canonical

import "fmt"

// canonicalTag is the "meta/arbor_type" marker every header and header
// sidecar file carries, used by probe to distinguish this dialect's files
// from any other HDF5 file a path might point at.
const canonicalTag = "arbor-canonical-v1"

// headerSuffix is appended to a save stem to name the header file; shard
// files and their analysis sidecars additionally carry a zero-padded shard
// index, while the analysis header sidecar carries only an "-analysis" tag.
const headerSuffix = ".arbor.h5"

func headerPath(stem string) string {
	return stem + headerSuffix
}

func shardPath(stem string, shardIndex int) string {
	return fmt.Sprintf("%s_%04d%s", stem, shardIndex, headerSuffix)
}

func analysisShardPath(stem string, shardIndex int) string {
	return fmt.Sprintf("%s_%04d-analysis%s", stem, shardIndex, headerSuffix)
}

func analysisHeaderPath(stem string) string {
	return fmt.Sprintf("%s-analysis%s", stem, headerSuffix)
}
