// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package contreesloc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/haloforest/arbor/lib/arborerr"
)

// manifestHeaderMarker is the column-header comment line locations.dat
// carries, used by probe to distinguish this dialect from any other
// "locations.dat"-named file.
const manifestHeaderMarker = "TreeRootID FileID Offset Filename"

// locRow is one data row of locations.dat: which file a tree's rows live
// in, and the byte offset of the first row (immediately after that
// tree's "#tree <uid>" marker line).
type locRow struct {
	uid      int64
	fileID   int
	offset   int64
	filename string
}

// manifest is the fully parsed locations.dat: the representative header
// file to pull cosmology/field layout from, the fileID->path table, and
// every tree's (fileID, uid) pair in the file's declared order.
type manifest struct {
	headerFile string
	fileByID   map[int]string
	rows       []locRow
}

// parseManifest skips every leading "#"-prefixed line (recording the
// last one's trailing token as the representative header file, mirroring
// _parse_parameter_file's single read of that line), then parses every
// remaining non-blank line as a "uid fileID offset filename" data row.
func parseManifest(path string) (*manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, path, err)
	}
	defer f.Close()

	dir := filepath.Dir(path)
	m := &manifest{fileByID: map[int]string{}}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var headerTok string
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			toks := strings.Fields(trimmed)
			if len(toks) > 0 {
				headerTok = toks[len(toks)-1]
			}
			continue
		}
		cols := strings.Fields(trimmed)
		if len(cols) < 4 {
			return nil, fmt.Errorf("%w: locations.dat row %q has too few columns", arborerr.ErrHeaderMalformed, trimmed)
		}
		uid, err := strconv.ParseInt(cols[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad TreeRootID: %w", arborerr.ErrHeaderMalformed, err)
		}
		fid, err := strconv.Atoi(cols[1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad FileID: %w", arborerr.ErrHeaderMalformed, err)
		}
		off, err := strconv.ParseInt(cols[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad Offset: %w", arborerr.ErrHeaderMalformed, err)
		}
		fn := cols[3]
		m.rows = append(m.rows, locRow{uid: uid, fileID: fid, offset: off, filename: fn})
		if _, ok := m.fileByID[fid]; !ok {
			m.fileByID[fid] = resolvePath(dir, fn)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if headerTok == "" {
		return nil, fmt.Errorf("%w: locations.dat never names a header file", arborerr.ErrHeaderMalformed)
	}
	m.headerFile = resolvePath(dir, headerTok)

	sort.SliceStable(m.rows, func(i, j int) bool {
		if m.rows[i].fileID != m.rows[j].fileID {
			return m.rows[i].fileID < m.rows[j].fileID
		}
		return m.rows[i].offset < m.rows[j].offset
	})
	return m, nil
}

func resolvePath(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
