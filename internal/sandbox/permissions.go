// Package sandbox validates and normalizes the sandbox capability object
// handed into session construction. Filesystem and network enforcement
// live in an external collaborator; this package only shapes the data.
package sandbox

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/termshare/termshare/pkg/types"
)

// Normalize returns a copy of p with absolute, deduplicated paths and a
// validated network policy. A nil p stays nil (no sandbox requested).
func Normalize(p *types.SandboxPermissions) (*types.SandboxPermissions, error) {
	if p == nil {
		return nil, nil
	}

	out := &types.SandboxPermissions{Network: p.Network}
	if out.Network == "" {
		out.Network = types.NetworkAll
	}
	switch out.Network {
	case types.NetworkAll, types.NetworkNone:
		if len(p.AllowedDomains) > 0 {
			return nil, fmt.Errorf("allowedDomains requires network policy %q, got %q", types.NetworkAllowlist, out.Network)
		}
	case types.NetworkAllowlist:
		if len(p.AllowedDomains) == 0 {
			return nil, fmt.Errorf("network policy %q requires at least one allowed domain", types.NetworkAllowlist)
		}
		out.AllowedDomains = dedupe(p.AllowedDomains)
	default:
		return nil, fmt.Errorf("unknown network policy %q", p.Network)
	}

	var err error
	if out.ReadWritePaths, err = absPaths(p.ReadWritePaths); err != nil {
		return nil, err
	}
	if out.ReadOnlyPaths, err = absPaths(p.ReadOnlyPaths); err != nil {
		return nil, err
	}
	if out.BlockedPaths, err = absPaths(p.BlockedPaths); err != nil {
		return nil, err
	}
	return out, nil
}

// Status reports whether enforcement is in effect for the permissions the
// session was constructed with. The core does not enforce; it reports what
// the launching collaborator can do on this platform.
func Status(p *types.SandboxPermissions) types.SandboxStatus {
	st := types.SandboxStatus{Platform: runtime.GOOS}
	if p == nil {
		st.Reason = "no sandbox requested"
		return st
	}
	switch runtime.GOOS {
	case "linux", "darwin":
		st.Enabled = true
	default:
		st.Reason = fmt.Sprintf("sandbox enforcement unsupported on %s", runtime.GOOS)
	}
	return st
}

func absPaths(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve path %q: %w", p, err)
		}
		out = append(out, filepath.Clean(abs))
	}
	return dedupe(out), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
