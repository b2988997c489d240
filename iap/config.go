package iap

// Config is the single bundle of options handed to Validator.Configure. Each
// adapter reads the fields it recognizes and ignores the rest.
type Config struct {
	// Apple verifyReceipt shared secret, required for auto-renewable subscriptions.
	AppleSharedSecret           string `yaml:"apple_shared_secret"`
	AppleExcludeOldTransactions bool   `yaml:"apple_exclude_old_transactions"`
	AppleProductionURL          string `yaml:"apple_production_url"`
	AppleSandboxURL             string `yaml:"apple_sandbox_url"`

	// Google Play service account, either as a path to the JSON key file or
	// the JSON itself. The inline form wins when both are set.
	GoogleServiceAccountPath string `yaml:"google_service_account_path"`
	GoogleServiceAccountJSON string `yaml:"google_service_account_json"`
	GoogleEndpoint           string `yaml:"google_endpoint"`

	// Amazon Receipt Verification Service shared developer secret.
	AmazonSecret   string `yaml:"amazon_secret"`
	AmazonEndpoint string `yaml:"amazon_endpoint"`

	Sandbox bool `yaml:"sandbox"`
}
