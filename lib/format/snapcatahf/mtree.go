// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package snapcatahf

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/haloforest/arbor/lib/arborerr"
)

// mtreeLink is one row of an .AHF_mtree file: a progenitor/descendent
// pair that shares particles, plus the particle counts
// AHFDataFile._compute_links' weight function needs.
type mtreeLink struct {
	progID, descID         int64
	sharedN, progN, descN int64
}

// readMtree parses a flat one-row-per-link .AHF_mtree file: each
// non-empty, non-comment line is "shared prog_id prog_n desc_id desc_n".
// The upstream AHF tool emits a block-structured dialect (a descendent
// header line followed by its progenitor lines); this module uses a flat
// row-per-link layout instead since no binding copy of that block format
// exists in the retrieval pack to verify byte-for-byte, while still
// carrying the exact five quantities the weighted tie-break needs.
func readMtree(path string) ([]mtreeLink, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, path, err)
	}
	defer f.Close()

	var out []mtreeLink
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		toks := strings.Fields(line)
		if len(toks) < 5 {
			return nil, fmt.Errorf("%w: %s: mtree row %q has too few columns", arborerr.ErrHeaderMalformed, path, line)
		}
		vals := make([]int64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseInt(toks[i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrHeaderMalformed, path, err)
			}
			vals[i] = v
		}
		out = append(out, mtreeLink{sharedN: vals[0], progID: vals[1], progN: vals[2], descID: vals[3], descN: vals[4]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// resolveLinks picks, for every progenitor id appearing in links, the
// unique descendent id maximizing share²/(prog_n·desc_n) — AHF's own
// weighted tie-break (spec's Open Question 1). Ties keep whichever
// candidate was seen first (strict ">" comparison), matching
// numpy.argmax's first-index-on-ties behavior.
func resolveLinks(links []mtreeLink) map[int64]int64 {
	best := make(map[int64]float64, len(links))
	out := make(map[int64]int64, len(links))
	for _, l := range links {
		if l.progN == 0 || l.descN == 0 {
			continue
		}
		m := float64(l.sharedN) * float64(l.sharedN) / (float64(l.progN) * float64(l.descN))
		if cur, ok := best[l.progID]; !ok || m > cur {
			best[l.progID] = m
			out[l.progID] = l.descID
		}
	}
	return out
}
