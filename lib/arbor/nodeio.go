// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arbor

import (
	"context"

	"github.com/haloforest/arbor/lib/datafile"
)

// NodeIOVisitor is called once per node by NodeIOLoop, with the DataFile
// that owns it already open and the node's position in the original input
// slice (for assembling order-preserving results).
type NodeIOVisitor func(ctx context.Context, df datafile.DataFile, node *TreeNode, origIndex int) error

// NodeIOLoop groups nodes by owning DataFile, opens each file once,
// visits every node in file order, and closes before moving to the next
// group (§4.5 node_io_loop, §5 suspension/blocking points). It is the
// single substrate shared by field reads and the canonical writer.
//
// Visitor errors are collected and the first one (in original input
// order) is returned after every group has been given a chance to run;
// this keeps one bad node from leaking handles opened for its siblings.
func (a *Arbor) NodeIOLoop(ctx context.Context, nodes []*TreeNode, visit NodeIOVisitor) error {
	type entry struct {
		node *TreeNode
		idx  int
	}

	dfs := make(map[string]datafile.DataFile)
	groups := make(map[string][]entry)
	var order []string

	for i, n := range nodes {
		loc, err := n.locator()
		if err != nil {
			return err
		}
		df, err := a.backend.OpenDataFile(ctx, loc)
		if err != nil {
			return err
		}
		name := df.Name()
		if _, ok := dfs[name]; !ok {
			dfs[name] = df
			order = append(order, name)
		}
		groups[name] = append(groups[name], entry{node: n, idx: i})
	}

	errs := make([]error, len(nodes))
	for _, name := range order {
		df := dfs[name]
		if err := df.Open(ctx); err != nil {
			return err
		}
		for _, e := range groups[name] {
			errs[e.idx] = visit(ctx, df, e.node, e.idx)
		}
		if err := df.Close(); err != nil {
			return err
		}
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
