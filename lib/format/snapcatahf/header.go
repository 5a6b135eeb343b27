// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package snapcatahf implements the per-snapshot backward-linked
// dialect: a family of Amiga Halo Finder catalogs, one ".parameter" file
// per snapshot naming a sibling ".AHF_halos" column file and an
// ".AHF_mtree" progenitor-to-descendent link file. Unlike snapcatfwd,
// a halo's own row never carries its descendent's id — the mtree file
// instead records, for every progenitor/descendent pair that shares
// particles, a shared-particle count, and a unique descendent per
// progenitor is picked by maximizing share²/(prog_n·desc_n).
package snapcatahf

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/haloforest/arbor/lib/arborerr"
)

var columnSuffix = regexp.MustCompile(`\(\d+\)$`)

// header is the column layout of one family's .AHF_halos files (assumed
// identical across the whole family). parseHalosHeader leaves its
// cosmology fields zero; construct reads the sibling .log file's
// cosmology into the Backend instead.
type header struct {
	fields   []string
	columnOf map[string]int

	omegaMatter, omegaLambda, hubbleConstant float64
	boxSize                                  float64
}

// parseHalosHeader reads only the first, "#"-prefixed column-name line of
// an .AHF_halos file, matching AHFArbor._parse_parameter_file's
// `line[1:].strip().split()` read with the "(N)" column-index suffix
// stripped from each token.
func parseHalosHeader(path string) (*header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !sc.Scan() {
		return nil, fmt.Errorf("%w: empty AHF_halos file %s", arborerr.ErrHeaderMalformed, path)
	}
	first := strings.TrimPrefix(sc.Text(), "#")
	h := &header{columnOf: map[string]int{}}
	for i, tok := range strings.Fields(first) {
		name := columnSuffix.ReplaceAllString(tok, "")
		h.fields = append(h.fields, name)
		h.columnOf[name] = i
	}
	return h, nil
}

// parseParameterFile reads AHF's "key value" parameter lines
// (whitespace-separated, one pair per line), mirroring
// parse_AHF_file(filename, pars) with sep=None.
func parseParameterFile(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, path, err)
	}
	defer f.Close()
	return parseKeyValueFile(f, "")
}

// parseLogFile reads AHF's ":"-separated log-file cosmology lines
// ("simu.omega0 : 0.27000"), mirroring parse_AHF_file(..., sep=":").
func parseLogFile(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseKeyValueFile(f, ":")
}

func parseKeyValueFile(f *os.File, sep string) (map[string]float64, error) {
	out := map[string]float64{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var key, rest string
		if sep == "" {
			toks := strings.Fields(line)
			if len(toks) < 2 {
				continue
			}
			key, rest = toks[0], toks[1]
		} else {
			parts := strings.SplitN(line, sep, 2)
			if len(parts) != 2 {
				continue
			}
			key = strings.TrimSpace(parts[0])
			toks := strings.Fields(strings.TrimSpace(parts[1]))
			if len(toks) == 0 {
				continue
			}
			rest = toks[0]
		}
		v, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			continue
		}
		out[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
