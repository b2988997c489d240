// Package config loads the receipt validation configuration from an optional
// YAML file, a .env file and IAP_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/code-payments/iap-server/iap"
)

const (
	EnvAppleSharedSecret           = "IAP_APPLE_SHARED_SECRET"
	EnvAppleExcludeOldTransactions = "IAP_APPLE_EXCLUDE_OLD_TRANSACTIONS"
	EnvAppleProductionURL          = "IAP_APPLE_PRODUCTION_URL"
	EnvAppleSandboxURL             = "IAP_APPLE_SANDBOX_URL"
	EnvGoogleServiceAccountPath    = "IAP_GOOGLE_SERVICE_ACCOUNT_PATH"
	EnvGoogleServiceAccountJSON    = "IAP_GOOGLE_SERVICE_ACCOUNT_JSON"
	EnvGoogleEndpoint              = "IAP_GOOGLE_ENDPOINT"
	EnvAmazonSecret                = "IAP_AMAZON_SECRET"
	EnvAmazonEndpoint              = "IAP_AMAZON_ENDPOINT"
	EnvSandbox                     = "IAP_SANDBOX"
)

// Load reads path (skipped when empty), then the given env files (".env" when
// none are given; missing files are ignored), then applies environment
// overrides.
func Load(path string, envFiles ...string) (iap.Config, error) {
	var cfg iap.Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return iap.Config{}, pkgerrors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return iap.Config{}, pkgerrors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return iap.Config{}, pkgerrors.Wrapf(err, "failed to load %s", f)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return iap.Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *iap.Config) error {
	for env, dst := range map[string]*string{
		EnvAppleSharedSecret:        &cfg.AppleSharedSecret,
		EnvAppleProductionURL:       &cfg.AppleProductionURL,
		EnvAppleSandboxURL:          &cfg.AppleSandboxURL,
		EnvGoogleServiceAccountPath: &cfg.GoogleServiceAccountPath,
		EnvGoogleServiceAccountJSON: &cfg.GoogleServiceAccountJSON,
		EnvGoogleEndpoint:           &cfg.GoogleEndpoint,
		EnvAmazonSecret:             &cfg.AmazonSecret,
		EnvAmazonEndpoint:           &cfg.AmazonEndpoint,
	} {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}

	for env, dst := range map[string]*bool{
		EnvAppleExcludeOldTransactions: &cfg.AppleExcludeOldTransactions,
		EnvSandbox:                     &cfg.Sandbox,
	} {
		v, ok := os.LookupEnv(env)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return pkgerrors.Wrapf(err, "invalid %s", env)
		}
		*dst = parsed
	}

	return nil
}
