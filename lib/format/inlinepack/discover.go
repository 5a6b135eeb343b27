// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package inlinepack

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// shardFile is one discovered "<stem>_%04d.inline.h5" pack member.
type shardFile struct {
	path  string
	index int
}

// discoverShards finds every sibling shard sharing path's own prefix,
// mirroring Gadget4Arbor._get_data_files's "{prefix}{i}{suffix}" numbering
// scheme, and returns them sorted by embedded shard index ascending.
func discoverShards(path string) ([]shardFile, error) {
	m := shardIndexPattern.FindStringSubmatchIndex(filepath.Base(path))
	if m == nil {
		return []shardFile{{path: path, index: 0}}, nil
	}
	prefix := filepath.Base(path)[:m[0]]
	dir := filepath.Dir(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []shardFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, shardSuffix) {
			continue
		}
		mm := shardIndexPattern.FindStringSubmatch(name)
		if mm == nil {
			continue
		}
		idx, err := strconv.Atoi(mm[1])
		if err != nil {
			continue
		}
		out = append(out, shardFile{path: filepath.Join(dir, name), index: idx})
	}
	if len(out) == 0 {
		out = []shardFile{{path: path, index: 0}}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out, nil
}
