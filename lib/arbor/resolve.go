// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arbor

import (
	"context"

	"github.com/haloforest/arbor/lib/field"
	"github.com/haloforest/arbor/lib/units"
)

// resolveFields runs tree setup if needed and materializes any of names
// not already in the root's field cache, via the field resolver (§4.2).
// Column values are indexed by tree_id, which setup (not grow) assigns,
// so this only requires setup — callers needing scope traversal (which
// does require the grown link array) call grow separately. This also
// lets the prog-chain selector (built during grow) resolve its nominated
// field without reentering growOnce.
func (r *root) resolveFields(ctx context.Context, names []string) error {
	if err := r.setup(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fieldCache == nil {
		r.fieldCache = make(map[string]units.Array)
	}
	var missing []string
	for _, nm := range names {
		if _, ok := r.fieldCache[nm]; !ok {
			missing = append(missing, nm)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	for _, nm := range missing {
		if desc, ok := r.arbor.Fields.Get(nm); ok && (desc.Kind == field.KindAnalysis || desc.Kind == field.KindAnalysisSaved) {
			r.syncAnalysisRaw(nm, desc.Default)
		}
	}
	loader := &treeLoader{ctx: ctx, a: r.arbor, root: r}
	return r.arbor.resolver.Resolve(missing, r.treeSize(), r.fieldCache, loader)
}
