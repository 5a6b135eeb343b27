// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arbor

import (
	"context"
	"fmt"
	"sync"

	"github.com/datawire/dlib/dlog"

	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/units"
)

// link is one tree-interior halo's compact adjacency record, indexed by
// tree_id (§4.5 grow_tree).
type link struct {
	descTreeID      int // -1 for the root itself
	ancestorTreeIDs []int
}

// root owns every per-tree array a grown tree needs: the materialized
// setup arrays, the link array, the field cache, and the precomputed
// scope index arrays. Only roots own this storage (§3 "Root ownership");
// non-root TreeNode handles carry only (root, treeID) and reacquire
// everything through here.
type root struct {
	arbor *Arbor
	idx   int // position in arbor.roots / the root-field table
	desc  datafile.RootDescriptor

	mu sync.Mutex

	setupOnce sync.Once
	setupErr  error
	uids      []int64
	descUIDs  []int64
	locs      []datafile.Locator

	growOnce sync.Once
	growErr  error
	links    []link

	fieldCache   map[string]units.Array
	analysisRaw  map[string][]float64 // per-halo analysis values, index 0 mirrors the root's arbor-wide value

	treeIdx []int // identity permutation [0, treeSize)
	progIdx []int // main-progenitor chain of treeIDs, root first
}

func (r *root) node() *TreeNode {
	return &TreeNode{arbor: r.arbor, root: r, treeID: 0, uid: r.desc.UID}
}

func (r *root) treeSize() int { return len(r.uids) }

// setup materializes uid[]/desc_uid[]/locator[] for every halo of this
// tree (§4.5 setup_tree). Idempotent.
func (r *root) setup(ctx context.Context) error {
	r.setupOnce.Do(func() {
		uids, descUIDs, locs, err := r.arbor.backend.SetupTree(ctx, r.desc)
		if err != nil {
			r.setupErr = err
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		r.uids, r.descUIDs, r.locs = uids, descUIDs, locs
		r.fieldCache = make(map[string]units.Array)
	})
	return r.setupErr
}

// grow builds the compact link array from the setup arrays (§4.5
// grow_tree): first pass resolves each halo's descendent by uid via a
// hash map and appends self as an ancestor; a single re-scan after the
// first pass catches descendents that appear later in the array.
// Halos whose desc_uid never resolves are repaired by promotion to root
// (§3 invariants, §7 propagation policy #1), logged at info.
func (r *root) grow(ctx context.Context) error {
	if err := r.setup(ctx); err != nil {
		return err
	}
	r.growOnce.Do(func() {
		n := len(r.uids)
		byUID := make(map[int64]int, n)
		for i, uid := range r.uids {
			byUID[uid] = i
		}
		links := make([]link, n)
		for i := range links {
			links[i].descTreeID = -2 // "unresolved" sentinel, distinct from -1 "is root"
		}
		var orphans []int
		resolve := func(i int) bool {
			descUID := r.descUIDs[i]
			if descUID == -1 {
				links[i].descTreeID = -1
				return true
			}
			dt, ok := byUID[descUID]
			if !ok {
				return false
			}
			links[i].descTreeID = dt
			links[dt].ancestorTreeIDs = append(links[dt].ancestorTreeIDs, i)
			return true
		}
		for i := range r.uids {
			if !resolve(i) {
				orphans = append(orphans, i)
			}
		}
		var stillOrphaned []int
		for _, i := range orphans {
			if !resolve(i) {
				stillOrphaned = append(stillOrphaned, i)
			}
		}
		for _, i := range stillOrphaned {
			dlog.Infof(ctx, "arbor: promoting halo uid=%d (tree root uid=%d) to root: desc_uid=%d not found in tree",
				r.uids[i], r.desc.UID, r.descUIDs[i])
			links[i].descTreeID = -1
			r.descUIDs[i] = -1
		}
		r.mu.Lock()
		r.links = links
		r.treeIdx = make([]int, n)
		for i := range r.treeIdx {
			r.treeIdx[i] = i
		}
		r.mu.Unlock()

		// buildProgChain resolves the selector's nominated field, which
		// takes r.mu itself; must run unlocked to avoid self-deadlock.
		progIdx := buildProgChain(ctx, links, r.arbor, r)
		r.mu.Lock()
		r.progIdx = progIdx
		r.mu.Unlock()
	})
	return r.growErr
}

// buildProgChain walks the main-progenitor chain from the root (tree_id
// 0) using the arbor's active selector, whose nominated field is "mass"
// for the default selector (§4.5 ordering and tie-breaks). The chain
// stops at the first halo with no ancestors or at a selector error.
func buildProgChain(ctx context.Context, links []link, a *Arbor, r *root) []int {
	chain := []int{0}
	cur := 0
	for {
		anc := links[cur].ancestorTreeIDs
		if len(anc) == 0 {
			break
		}
		next, err := a.selectAncestor(ctx, r, anc)
		if err != nil {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	return chain
}

// reset clears the link array, setup arrays, and field cache (§4.5
// reset_node, root case).
func (r *root) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setupOnce = sync.Once{}
	r.growOnce = sync.Once{}
	r.setupErr = nil
	r.growErr = nil
	r.uids, r.descUIDs, r.locs = nil, nil, nil
	r.links, r.treeIdx, r.progIdx = nil, nil, nil
	r.fieldCache = nil
	r.analysisRaw = nil
}

func (r *root) invalidateVector(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fieldCache == nil {
		return
	}
	delete(r.fieldCache, name+"_magnitude")
	for _, comp := range []string{"x_" + name, "y_" + name, "z_" + name} {
		delete(r.fieldCache, comp)
	}
}

// scopeIndices returns the tree_id slice for one of "tree"/"prog"/"forest".
// forest is not tracked separately from tree by this generic core (no
// backend currently surfaces cross-tree forest membership beyond its own
// tree), so it aliases the tree scope.
func (r *root) scopeIndices(scope string) ([]int, error) {
	switch scope {
	case "tree", "forest":
		return r.treeIdx, nil
	case "prog":
		return r.progIdx, nil
	default:
		return nil, fmt.Errorf("arbor: unknown scope %q", scope)
	}
}
