package types

// ProviderType represents the type of KMS provider
type ProviderType string

const (
	ProviderAWS   ProviderType = "aws"
	ProviderAzure ProviderType = "azure"
	ProviderGCP   ProviderType = "gcp"
	ProviderVault ProviderType = "vault"
	ProviderAead  ProviderType = "aead"
)

// KMSCredentials represents KMS provider credentials
type KMSCredentials struct {
	// AWS credentials
	AccessKeyID     string `json:"accessKeyId,omitempty" yaml:"accessKeyId,omitempty" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" yaml:"secretAccessKey,omitempty" env:"SECRET_ACCESS_KEY"`
	SessionToken    string `json:"sessionToken,omitempty" yaml:"sessionToken,omitempty" env:"SESSION_TOKEN"`

	// Azure credentials
	TenantID     string `json:"tenantId,omitempty" yaml:"tenantId,omitempty" env:"TENANT_ID"`
	ClientID     string `json:"clientId,omitempty" yaml:"clientId,omitempty" env:"CLIENT_ID"`
	ClientSecret string `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty" env:"CLIENT_SECRET"`

	// GCP credentials
	CredentialsJSON string `json:"credentialsJson,omitempty" yaml:"credentialsJson,omitempty" env:"CREDENTIALS_JSON"`

	// Vault credentials
	Token string `json:"token,omitempty" yaml:"token,omitempty" env:"TOKEN"`
}

// IsZero reports whether no credential field is set
func (c KMSCredentials) IsZero() bool {
	return c == KMSCredentials{}
}

// AuditLogConfig represents the audit log configuration
type AuditLogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Type    string `json:"type" yaml:"type" env:"TYPE"`
}
