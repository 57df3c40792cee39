package main

import (
	"database/sql"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/quailyquaily/turnstile/guard"
	"github.com/quailyquaily/turnstile/internal/pathutil"
	"github.com/quailyquaily/turnstile/internal/statepaths"
)

// guardFromViper assembles the policy guard from `guard.*` config keys.
// Returns nil when the guard is disabled: the engine then runs every
// action without approval gating.
func guardFromViper(log *slog.Logger, sqlDB *sql.DB) *guard.Guard {
	if !viper.GetBool("guard.enabled") {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}

	var patterns []guard.RegexPattern
	_ = viper.UnmarshalKey("guard.redaction.patterns", &patterns)

	cfg := guard.Config{
		Enabled: true,
		Network: guard.NetworkConfig{
			URLFetch: guard.URLFetchNetworkPolicy{
				AllowedURLPrefixes: viper.GetStringSlice("guard.network.url_fetch.allowed_url_prefixes"),
				DenyPrivateIPs:     viper.GetBool("guard.network.url_fetch.deny_private_ips"),
				ResolveDNS:         viper.GetBool("guard.network.url_fetch.resolve_dns"),
				FollowRedirects:    viper.GetBool("guard.network.url_fetch.follow_redirects"),
				AllowProxy:         viper.GetBool("guard.network.url_fetch.allow_proxy"),
			},
		},
		Redaction: guard.RedactionConfig{
			Enabled:  viper.GetBool("guard.redaction.enabled"),
			Patterns: patterns,
		},
		Shell: guard.ShellConfig{
			RequireApproval: viper.GetBool("guard.shell.require_approval"),
		},
		Patch: guard.PatchConfig{
			RequireApproval: viper.GetBool("guard.patch.require_approval"),
		},
		Computer: guard.ComputerConfig{
			RequireApproval: viper.GetBool("guard.computer.require_approval"),
		},
		Tools: guard.ToolsConfig{
			RequireApproval: viper.GetStringSlice("guard.tools.require_approval"),
			AutoApprove:     viper.GetStringSlice("guard.tools.auto_approve"),
			Deny:            viper.GetStringSlice("guard.tools.deny"),
		},
		Audit: guard.AuditConfig{
			JSONLPath:      strings.TrimSpace(viper.GetString("guard.audit.jsonl_path")),
			RotateMaxBytes: viper.GetInt64("guard.audit.rotate_max_bytes"),
		},
		Approvals: guard.ApprovalsConfig{
			Enabled: viper.GetBool("guard.approvals.enabled"),
			TTL:     viper.GetDuration("guard.approvals.ttl"),
		},
	}

	jsonlPath := cfg.Audit.JSONLPath
	if jsonlPath == "" {
		jsonlPath = statepaths.DefaultAuditPath()
	}
	jsonlPath = pathutil.ExpandHomePath(jsonlPath)

	var sink guard.AuditSink
	if s, err := guard.NewJSONLAuditSink(jsonlPath, cfg.Audit.RotateMaxBytes); err != nil {
		log.Warn("guard_audit_sink_error", "error", err.Error())
	} else {
		sink = s
	}

	approvals := approvalStoreFromViper(log, cfg, sqlDB)

	log.Info("guard_enabled",
		"url_fetch_prefixes", len(cfg.Network.URLFetch.AllowedURLPrefixes),
		"shell_require_approval", cfg.Shell.RequireApproval,
		"patch_require_approval", cfg.Patch.RequireApproval,
		"audit_jsonl", jsonlPath,
		"approvals_enabled", approvals != nil,
	)

	return guard.New(cfg, sink, approvals)
}

func approvalStoreFromViper(log *slog.Logger, cfg guard.Config, sqlDB *sql.DB) guard.ApprovalStore {
	if !cfg.Approvals.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(viper.GetString("guard.approvals.store"))) {
	case "memory":
		return guard.NewMemoryApprovalStore()
	default:
		if sqlDB == nil {
			log.Warn("guard_approvals_no_db")
			return nil
		}
		st, err := guard.NewSQLiteApprovalStoreWithDB(sqlDB)
		if err != nil {
			log.Warn("guard_approvals_store_error", "error", err.Error())
			return nil
		}
		return st
	}
}
