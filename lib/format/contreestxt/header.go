// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package contreestxt implements the text-tree single dialect: one file
// holding every halo of every tree, grouped into contiguous per-tree
// blocks delimited by "#tree <uid>" marker lines (Consistent Trees
// tree_*.dat).
package contreestxt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/haloforest/arbor/lib/arborerr"
)

var columnSuffix = regexp.MustCompile(`\(\d+\)$`)

// header is everything parsed from the file's leading "#"-prefixed block:
// the column layout, per-field units, cosmology, and where the first
// "#tree" marker begins.
type header struct {
	fields   []string // column index -> raw field name, "(N)" suffix stripped
	columnOf map[string]int
	units    map[string]string // lowercased field name -> unit expression

	omegaMatter, omegaLambda, hubbleConstant float64
	boxSize                                  float64
	boxUnits                                 string

	ntrees     int
	dataOffset int64
}

var unitQualifiers = []string{"(physical, peculiar)", "(comoving)", "(physical)", "physical, peculiar", "comoving", "physical"}

func parseHeader(f *os.File) (*header, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)
	var offset int64

	readLine := func() (string, error) {
		line, err := r.ReadString('\n')
		offset += int64(len(line))
		return line, err
	}

	first, err := readLine()
	if err != nil && first == "" {
		return nil, fmt.Errorf("%w: empty consistent-trees file", arborerr.ErrHeaderMalformed)
	}
	h := &header{columnOf: map[string]int{}, units: map[string]string{}}
	toks := strings.Fields(strings.TrimPrefix(strings.TrimSpace(first), "#"))
	for i, tok := range toks {
		name := columnSuffix.ReplaceAllString(tok, "")
		h.fields = append(h.fields, name)
		h.columnOf[name] = i
	}

	for {
		line, err := readLine()
		trimmed := strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(trimmed, "#") {
			n, perr := strconv.Atoi(strings.TrimSpace(trimmed))
			if perr != nil {
				return nil, fmt.Errorf("%w: expected tree count line, got %q: %w", arborerr.ErrHeaderMalformed, trimmed, perr)
			}
			h.ntrees = n
			h.dataOffset = offset
			return h, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: unexpected EOF in header", arborerr.ErrHeaderMalformed)
		}
		parseHeaderLine(h, trimmed)
	}
}

func parseHeaderLine(h *header, line string) {
	body := strings.TrimPrefix(line, "#")
	switch {
	case strings.Contains(line, "Omega_M"):
		parts := strings.Split(body, ";")
		keys := []string{"omega_matter", "omega_lambda", "hubble_constant"}
		vals := make([]float64, 0, 3)
		for _, p := range parts {
			if eq := strings.Index(p, "="); eq >= 0 {
				v, err := strconv.ParseFloat(strings.TrimSpace(p[eq+1:]), 64)
				if err == nil {
					vals = append(vals, v)
				}
			}
		}
		for i, k := range keys {
			if i >= len(vals) {
				break
			}
			switch k {
			case "omega_matter":
				h.omegaMatter = vals[i]
			case "omega_lambda":
				h.omegaLambda = vals[i]
			case "hubble_constant":
				h.hubbleConstant = vals[i]
			}
		}
	case strings.Contains(line, "Full box size"):
		if eq := strings.Index(body, "="); eq >= 0 {
			fields := strings.Fields(strings.TrimSpace(body[eq+1:]))
			if len(fields) >= 2 {
				if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
					h.boxSize = v
					h.boxUnits = fields[1]
				}
			}
		}
	case strings.Contains(line, ":"):
		colon := strings.Index(body, ":")
		namesPart, desc := body[:colon], body[colon+1:]
		unit := ""
		if lp, rp := strings.Index(desc, "("), strings.LastIndex(desc, ")"); lp >= 0 && rp > lp {
			unit = desc[lp+1 : rp]
			for _, q := range unitQualifiers {
				unit = strings.ReplaceAll(unit, q, "")
			}
			unit = strings.TrimSpace(unit)
		}
		var names []string
		switch {
		case strings.Contains(namesPart, "/"):
			names = strings.Split(namesPart, "/")
		case strings.Contains(namesPart, ","):
			names = strings.Split(namesPart, ",")
		default:
			names = []string{namesPart}
		}
		for _, n := range names {
			h.units[strings.ToLower(strings.TrimSpace(n))] = unit
		}
	}
}

// canonicalFieldName maps the on-disk "id"/"desc_id" columns onto this
// module's uid/desc_uid convention; every other column keeps its catalog
// name verbatim.
func canonicalFieldName(raw string) string {
	switch raw {
	case "id":
		return "uid"
	case "desc_id":
		return "desc_uid"
	default:
		return raw
	}
}

// sourceColumnName is canonicalFieldName's inverse, for resolving a
// requested field name back to the column it's stored under.
func sourceColumnName(name string) string {
	switch name {
	case "uid":
		return "id"
	case "desc_uid":
		return "desc_id"
	default:
		return name
	}
}
