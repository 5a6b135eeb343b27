// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package canonical

import (
	"bytes"

	"git.lukeshu.com/go/lowmemjson"

	"github.com/haloforest/arbor/lib/field"
)

// fieldRecord is one entry of the field-info JSON blob a header (or header
// sidecar) file's meta group carries: enough to reconstruct an on-disk
// field.Descriptor on reload, per §4.7's "field-info JSON enumerating
// every field's units, description, and (if analysis) dtype and default."
// A reloaded canonical field is always registered as Kind on-disk, Source
// file, regardless of what kind it was when saved — what was a derived or
// analysis field in the saving arbor is now literal stored data; a caller
// wanting it treated as analysis again re-declares it with forceAdd.
type fieldRecord struct {
	Name        string  `json:"name"`
	Units       string  `json:"units"`
	Description string  `json:"description,omitempty"`
	Dtype       int     `json:"dtype"`
	WasAnalysis bool    `json:"was_analysis,omitempty"`
	Default     float64 `json:"default,omitempty"`
}

func encodeFieldInfo(descs []field.Descriptor) ([]byte, error) {
	recs := make([]fieldRecord, len(descs))
	for i, d := range descs {
		recs[i] = fieldRecord{
			Name:        d.Name,
			Units:       d.Units,
			Description: d.Description,
			Dtype:       int(d.Dtype),
			WasAnalysis: d.Kind == field.KindAnalysis || d.Kind == field.KindAnalysisSaved,
			Default:     d.Default,
		}
	}
	var buf bytes.Buffer
	if err := lowmemjson.Encode(&buf, recs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFieldInfo(data []byte) ([]field.Descriptor, error) {
	var recs []fieldRecord
	if err := lowmemjson.Decode(bytes.NewReader(data), &recs); err != nil {
		return nil, err
	}
	out := make([]field.Descriptor, len(recs))
	for i, r := range recs {
		out[i] = field.Descriptor{
			Name:        r.Name,
			Units:       r.Units,
			Description: r.Description,
			Dtype:       field.Dtype(r.Dtype),
			Kind:        field.KindOnDisk,
			Source:      field.SourceFile,
			Default:     r.Default,
		}
	}
	return out, nil
}
