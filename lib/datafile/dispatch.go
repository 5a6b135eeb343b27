// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package datafile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/haloforest/arbor/lib/arborerr"
)

// Options carries the per-Load knobs a backend's probe or constructor may
// consult; the only one is a forced backend name.
type Options struct {
	// ForceBackend, if non-empty, skips probing and opens exactly this
	// registered backend by name, erroring if it declines the path.
	ForceBackend string
}

// Probe is a dialect's cheap, fast sniff of a path: suffix, magic
// attribute, or signature string. Any I/O failure while probing must be
// reported via the error return and is treated as "not my format", not
// propagated — see Dispatch.
type Probe func(path string, opts Options) (bool, error)

// Constructor opens path as this dialect's Backend, doing header parsing
// but no halo-row reads.
type Constructor func(ctx context.Context, path string, opts Options) (Backend, error)

type registration struct {
	name      string
	probe     Probe
	construct Constructor
}

var (
	registryMu     sync.Mutex
	registrations  []registration
	registeredName = map[string]bool{}
)

// Register adds a dialect to the dispatch table. Call only at package
// init time (var _ = datafile.Register(...) or an init() func in each
// format subpackage) — the table is treated as read-only after a
// process's backends have all registered themselves.
func Register(name string, probe Probe, construct Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registeredName[name] {
		panic(fmt.Sprintf("datafile: backend %q registered twice", name))
	}
	registeredName[name] = true
	registrations = append(registrations, registration{name: name, probe: probe, construct: construct})
}

// Dispatch probes every registered backend against path in registration
// order and opens the unique match. Zero or multiple matches is a hard
// error (ErrBackendUnknown / ErrBackendAmbiguous).
func Dispatch(ctx context.Context, path string, opts Options) (Backend, error) {
	registryMu.Lock()
	regs := make([]registration, len(registrations))
	copy(regs, registrations)
	registryMu.Unlock()

	if opts.ForceBackend != "" {
		for _, reg := range regs {
			if reg.name == opts.ForceBackend {
				return reg.construct(ctx, path, opts)
			}
		}
		return nil, fmt.Errorf("%w: no backend registered named %q", arborerr.ErrBackendUnknown, opts.ForceBackend)
	}

	var matched []registration
	for _, reg := range regs {
		ok, err := reg.probe(path, opts)
		if err != nil {
			// §7: "_is_valid treats any I/O failure as 'not my
			// format' and moves on."
			continue
		}
		if ok {
			matched = append(matched, reg)
		}
	}
	switch len(matched) {
	case 0:
		return nil, fmt.Errorf("%w: %q", arborerr.ErrBackendUnknown, path)
	case 1:
		return matched[0].construct(ctx, path, opts)
	default:
		names := make([]string, len(matched))
		for i, m := range matched {
			names[i] = m.name
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: %q matches %v", arborerr.ErrBackendAmbiguous, path, names)
	}
}
