package types

// NetworkPolicy is the sandbox network stance for a session.
type NetworkPolicy string

const (
	NetworkAll       NetworkPolicy = "all"
	NetworkNone      NetworkPolicy = "none"
	NetworkAllowlist NetworkPolicy = "allowlist"
)

// SandboxPermissions is the capability object passed into session
// construction. The core carries it opaquely; filesystem and network
// enforcement happen in an external collaborator.
type SandboxPermissions struct {
	ReadWritePaths []string      `json:"readWritePaths,omitempty" yaml:"readWritePaths"`
	ReadOnlyPaths  []string      `json:"readOnlyPaths,omitempty" yaml:"readOnlyPaths"`
	BlockedPaths   []string      `json:"blockedPaths,omitempty" yaml:"blockedPaths"`
	Network        NetworkPolicy `json:"network,omitempty" yaml:"network"`
	AllowedDomains []string      `json:"allowedDomains,omitempty" yaml:"allowedDomains"`
}

// SandboxStatus reports whether sandbox enforcement is in effect for the
// running session.
type SandboxStatus struct {
	Enabled  bool   `json:"enabled"`
	Platform string `json:"platform"`
	Reason   string `json:"reason,omitempty"`
}
