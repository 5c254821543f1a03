// Package appid resolves the application identity, falling back to the copy
// embedded in the binary.
package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/vmetrics/vmetrics/internal/assets/appidentity"
)

func init() {
	// Explicit overrides (FULMEN_APP_IDENTITY_PATH, a repo-local .fulmen/app.yaml)
	// still win over the embedded copy.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

// Get returns the process-wide application identity.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return appidentity.Get(ctx)
}

// EnvPrefix returns the identity env prefix, or fallback when it cannot be loaded.
func EnvPrefix(ctx context.Context, fallback string) string {
	identity, err := Get(ctx)
	if err != nil || identity == nil || identity.EnvPrefix == "" {
		return fallback
	}
	return identity.EnvPrefix
}
