// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package snapcatfwd implements the per-snapshot forward-linked dialect:
// a family of halo-catalog files (Rockstar out_*.list), each halo
// carrying only a desc_id local to the file where its descendant lives.
// Trees are stitched by walking the whole family once, newest snapshot
// first, matching each file's desc_id column against the halo_id column
// of the file processed immediately before it.
package snapcatfwd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/haloforest/arbor/lib/arborerr"
)

// header is the column layout, units, and cosmology shared by every
// catalog file in a forward-linked family (parsed from whichever file
// construct was first pointed at).
type header struct {
	fields   []string
	columnOf map[string]int
	units    map[string]string

	omegaMatter, omegaLambda, hubbleConstant float64
	boxSize                                  float64
	boxUnits                                 string
}

func parseHeader(path string) (*header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, path, err)
	}
	defer f.Close()

	h := &header{columnOf: map[string]int{}, units: map[string]string{}}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !sc.Scan() {
		return nil, fmt.Errorf("%w: empty catalog file %s", arborerr.ErrHeaderMalformed, path)
	}
	first := strings.TrimPrefix(sc.Text(), "#")
	for i, tok := range strings.Fields(first) {
		h.fields = append(h.fields, tok)
		h.columnOf[tok] = i
	}

	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "#") {
			break
		}
		body := strings.TrimPrefix(line, "#")
		switch {
		case strings.HasPrefix(body, "Om ="):
			parts := strings.Split(body, ";")
			vals := make([]float64, 0, 3)
			for _, p := range parts {
				if eq := strings.Index(p, "="); eq >= 0 {
					if v, err := strconv.ParseFloat(strings.TrimSpace(p[eq+1:]), 64); err == nil {
						vals = append(vals, v)
					}
				}
			}
			if len(vals) >= 3 {
				h.omegaMatter, h.omegaLambda, h.hubbleConstant = vals[0], vals[1], vals[2]
			}
		case strings.HasPrefix(body, "Box size:"):
			rest := strings.TrimSpace(strings.TrimPrefix(body, "Box size:"))
			toks := strings.Fields(rest)
			if len(toks) >= 2 {
				if v, err := strconv.ParseFloat(toks[0], 64); err == nil {
					h.boxSize = v
					h.boxUnits = toks[1]
				}
			}
		case strings.HasPrefix(body, "Units:"):
			rest := strings.TrimPrefix(body, "Units:")
			if idx := strings.Index(rest, " in "); idx >= 0 {
				quan := strings.TrimSpace(rest[:idx])
				unit := strings.TrimSpace(rest[idx+len(" in "):])
				h.units[strings.ToLower(quan)] = unit
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return h, nil
}
