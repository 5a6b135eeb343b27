// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package snapcatahf

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/haloforest/arbor/lib/arborerr"
)

const parameterSuffix = ".parameter"

var indexPattern = regexp.MustCompile(`^(.*?)(\d+)(.*)` + regexp.QuoteMeta(parameterSuffix) + `$`)

// snapshotFile is one discovered member of an AHF snapshot family: its
// .parameter file, the stem shared by its sibling .AHF_halos/.AHF_mtree
// files, and the embedded snapshot index used to order the family.
type snapshotFile struct {
	parameterPath string
	stem          string
	index         int
}

// discoverFamily finds every .parameter file in path's directory sharing
// path's own prefix around a run of digits, derives each one's data stem
// (the .AHF_halos/.AHF_mtree basename, found by trimming ".parameter"),
// and returns them sorted by embedded index ascending — AHFArbor's own
// "sort by catalog number" order, reversed by the caller once mtree
// filenames have been chained (AHFArbor._get_data_files).
func discoverFamily(path string) ([]snapshotFile, error) {
	m := indexPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil, fmt.Errorf("%w: %s: does not match a <prefix><N>...%s name", arborerr.ErrHeaderMalformed, path, parameterSuffix)
	}
	prefix := m[1]
	dir := filepath.Dir(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []snapshotFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, parameterSuffix) {
			continue
		}
		mm := indexPattern.FindStringSubmatch(name)
		if mm == nil || mm[1] != prefix {
			continue
		}
		idx, err := strconv.Atoi(mm[2])
		if err != nil {
			continue
		}
		full := filepath.Join(dir, name)
		stem := strings.TrimSuffix(full, parameterSuffix)
		out = append(out, snapshotFile{parameterPath: full, stem: stem, index: idx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out, nil
}

func (s snapshotFile) halosPath() string { return s.stem + ".AHF_halos" }
func (s snapshotFile) mtreePath() string { return s.stem + ".AHF_mtree" }
func (s snapshotFile) logPath() string   { return s.stem + ".log" }

func trimParameterSuffix(path string) string {
	return strings.TrimSuffix(path, parameterSuffix)
}
