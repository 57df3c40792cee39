package guard

import "time"

type Config struct {
	Enabled bool

	Network   NetworkConfig
	Redaction RedactionConfig

	Shell    ShellConfig
	Patch    PatchConfig
	Computer ComputerConfig
	Tools    ToolsConfig

	Audit     AuditConfig
	Approvals ApprovalsConfig
}

type NetworkConfig struct {
	URLFetch URLFetchNetworkPolicy
}

type URLFetchNetworkPolicy struct {
	AllowedURLPrefixes []string
	DenyPrivateIPs     bool
	ResolveDNS         bool // When true, resolve hostnames via DNS and block private IPs.
	FollowRedirects    bool
	AllowProxy         bool
}

type RedactionConfig struct {
	Enabled  bool
	Patterns []RegexPattern
}

type RegexPattern struct {
	Name string
	Re   string
}

type ShellConfig struct {
	RequireApproval bool
}

type PatchConfig struct {
	RequireApproval bool
}

type ComputerConfig struct {
	RequireApproval bool
}

// ToolsConfig gates function tools by name. Deny beats AutoApprove
// beats RequireApproval when a name appears in several lists.
type ToolsConfig struct {
	RequireApproval []string
	AutoApprove     []string
	Deny            []string
}

type AuditConfig struct {
	JSONLPath      string
	RotateMaxBytes int64
}

type ApprovalsConfig struct {
	Enabled bool
	TTL     time.Duration
}
