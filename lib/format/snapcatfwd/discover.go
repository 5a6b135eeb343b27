// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package snapcatfwd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/haloforest/arbor/lib/arborerr"
)

var indexPattern = regexp.MustCompile(`^(.*?)(\d+)(\.list)$`)

// siblingFile is one discovered member of a catalog family, tagged with
// the snapshot index parsed out of its own name.
type siblingFile struct {
	path  string
	index int
}

// discoverFamily finds every file in path's directory sharing path's own
// prefix/suffix around a run of digits (out_0.list, out_1.list, ...) and
// returns them sorted by that embedded index descending, mirroring
// RockstarArbor._get_data_files' "sort by catalog number, reverse=True"
// (the latest snapshot is walked first, since every one of its halos is
// necessarily a root).
func discoverFamily(path string) ([]siblingFile, error) {
	m := indexPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil, fmt.Errorf("%w: %s: does not match out_<N>.list naming", arborerr.ErrHeaderMalformed, path)
	}
	prefix, suffix := m[1], m[3]
	dir := filepath.Dir(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []siblingFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		mm := indexPattern.FindStringSubmatch(name)
		if mm == nil || mm[1] != prefix || mm[3] != suffix {
			continue
		}
		idx, err := strconv.Atoi(mm[2])
		if err != nil {
			continue
		}
		out = append(out, siblingFile{path: filepath.Join(dir, name), index: idx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index > out[j].index })
	return out, nil
}
