// Package secrets resolves credential references (API keys and the
// like) without ever putting the values themselves into config files.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

type Resolver interface {
	Resolve(ctx context.Context, secretRef string) (string, error)
}

// EnvResolver resolves secrets from environment variables. Resolution
// is fail-closed: a missing or empty variable is an error, never an
// empty credential. Aliases map a logical ref to its env var name.
type EnvResolver struct {
	Aliases map[string]string
}

func (r *EnvResolver) Resolve(ctx context.Context, secretRef string) (string, error) {
	_ = ctx

	ref := strings.TrimSpace(secretRef)
	if ref == "" {
		return "", fmt.Errorf("empty secret_ref")
	}

	envName := ref
	if r != nil && r.Aliases != nil {
		if v, ok := r.Aliases[ref]; ok && strings.TrimSpace(v) != "" {
			envName = strings.TrimSpace(v)
		}
	}

	val, ok := os.LookupEnv(envName)
	if !ok {
		return "", fmt.Errorf("secret not found (env var %q is not set)", envName)
	}
	if strings.TrimSpace(val) == "" {
		return "", fmt.Errorf("secret is empty (env var %q)", envName)
	}
	return val, nil
}
