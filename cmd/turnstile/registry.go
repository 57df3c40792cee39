package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quailyquaily/turnstile/tools"
	"github.com/quailyquaily/turnstile/tools/builtin"
)

// registryFromViper builds the shared tool registry: the built-in
// function tools plus the single shell and apply-patch kind handlers.
// No computer handler ships built in; computer calls classify fatally
// unless an embedder registers one.
func registryFromViper() *tools.Registry {
	r := tools.NewRegistry()

	viper.SetDefault("tools.read_file.max_bytes", 256*1024)
	viper.SetDefault("tools.read_file.deny_paths", []string{"config.yaml"})

	viper.SetDefault("tools.write_file.enabled", true)
	viper.SetDefault("tools.write_file.max_bytes", 512*1024)

	viper.SetDefault("tools.bash.enabled", false)
	viper.SetDefault("tools.bash.timeout", 30*time.Second)
	viper.SetDefault("tools.bash.max_output_bytes", int64(256*1024))
	viper.SetDefault("tools.bash.deny_paths", []string{"config.yaml"})

	viper.SetDefault("tools.url_fetch.enabled", true)
	viper.SetDefault("tools.url_fetch.timeout", 30*time.Second)
	viper.SetDefault("tools.url_fetch.max_bytes", int64(512*1024))

	viper.SetDefault("tools.apply_patch.max_bytes", 512*1024)

	userAgent := strings.TrimSpace(viper.GetString("user_agent"))
	cacheDir := strings.TrimSpace(viper.GetString("file_cache_dir"))

	r.Register(builtin.NewReadFileToolWithOptions(
		int64(viper.GetInt("tools.read_file.max_bytes")),
		viper.GetStringSlice("tools.read_file.deny_paths"),
		viper.GetStringSlice("tools.read_file.allowed_dirs"),
	))

	r.Register(builtin.NewWriteFileTool(
		viper.GetBool("tools.write_file.enabled"),
		viper.GetInt("tools.write_file.max_bytes"),
		cacheDir,
	))

	if viper.GetBool("tools.url_fetch.enabled") {
		r.Register(builtin.NewURLFetchTool(
			true,
			viper.GetDuration("tools.url_fetch.timeout"),
			viper.GetInt64("tools.url_fetch.max_bytes"),
			userAgent,
		))
	}

	if viper.GetBool("tools.bash.enabled") {
		bt := builtin.NewBashTool(
			true,
			viper.GetDuration("tools.bash.timeout"),
			viper.GetInt64("tools.bash.max_output_bytes"),
		)
		bt.DenyPaths = viper.GetStringSlice("tools.bash.deny_paths")
		bt.DenyTokens = viper.GetStringSlice("tools.bash.deny_tokens")
		bt.WorkDir = strings.TrimSpace(viper.GetString("tools.bash.work_dir"))
		bt.RequireApproval = viper.GetBool("tools.bash.require_approval")
		r.Register(bt)

		r.SetShellHandler(&builtin.ShellRunner{Bash: bt})
	}

	r.SetApplyPatchHandler(builtin.NewPatchApplier(
		cacheDir,
		viper.GetInt("tools.apply_patch.max_bytes"),
	))

	return r
}
