// Package kms provides the key encryption key (KEK) providers that wrap data keys
package kms

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	kmsaead "github.com/hashicorp/go-kms-wrapping/v2/aead"
	awskms "github.com/hashicorp/go-kms-wrapping/wrappers/awskms/v2"
	azurekeyvault "github.com/hashicorp/go-kms-wrapping/wrappers/azurekeyvault/v2"
	gcpckms "github.com/hashicorp/go-kms-wrapping/wrappers/gcpckms/v2"
	transit "github.com/hashicorp/go-kms-wrapping/wrappers/transit/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

var log = zlog.With().Str("component", "kms").Logger()

// Provider holds a configured KEK wrapper
type Provider struct {
	providerType    types.ProviderType
	wrapper         wrapping.Wrapper
	lastHealthCheck error
}

// NewProvider creates a new KMS provider based on the configuration
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	var wrapper wrapping.Wrapper
	var err error
	var keyID, location string

	log.Debug().
		Str("provider", string(config.Type)).
		Msg("Initializing KMS provider")

	switch config.Type {
	case types.ProviderAWS:
		if config.AWS == nil {
			return nil, fmt.Errorf("AWS configuration is missing for provider type %s", config.Type)
		}
		keyID = config.AWS.KeyID
		location = config.AWS.Region
		if err = validateAWSConfig(*config.AWS); err != nil {
			return nil, fmt.Errorf("invalid AWS KMS configuration: %w", err)
		}
		wrapper, err = createAWSWrapper(ctx, *config.AWS)
	case types.ProviderAzure:
		if config.Azure == nil {
			return nil, fmt.Errorf("azure configuration is missing for provider type %s", config.Type)
		}
		keyID = config.Azure.KeyID
		location = config.Azure.VaultAddress
		if err = validateAzureConfig(*config.Azure); err != nil {
			return nil, fmt.Errorf("invalid Azure Key Vault configuration: %w", err)
		}
		wrapper, err = createAzureWrapper(ctx, *config.Azure)
	case types.ProviderGCP:
		if config.GCP == nil {
			return nil, fmt.Errorf("GCP configuration is missing for provider type %s", config.Type)
		}
		keyID = config.GCP.ResourceName
		if err = validateGCPConfig(*config.GCP); err != nil {
			return nil, fmt.Errorf("invalid GCP KMS configuration: %w", err)
		}
		location = strings.Split(config.GCP.ResourceName, "/")[3]
		wrapper, err = createGCPWrapper(ctx, *config.GCP)
	case types.ProviderVault:
		if config.Vault == nil {
			return nil, fmt.Errorf("vault configuration is missing for provider type %s", config.Type)
		}
		keyID = config.Vault.KeyID
		location = config.Vault.VaultAddress
		if err = validateVaultConfig(*config.Vault); err != nil {
			return nil, fmt.Errorf("invalid Vault configuration: %w", err)
		}
		wrapper, err = createVaultWrapper(ctx, *config.Vault)
	case types.ProviderAead:
		if config.Aead == nil || config.Aead.KeyBase64 == "" {
			return nil, fmt.Errorf("AEAD provider requires a base64 key")
		}
		decoded, keyErr := base64.StdEncoding.DecodeString(config.Aead.KeyBase64)
		if keyErr != nil {
			return nil, fmt.Errorf("failed to decode AEAD key: %w", keyErr)
		}
		if len(decoded) != types.KeySize {
			return nil, fmt.Errorf("decoded AEAD key must be %d bytes for AES-256-GCM, got %d", types.KeySize, len(decoded))
		}
		keyID = config.Aead.KeyID
		location = "local"
		wrapper, err = createAeadWrapper(ctx, decoded, keyID)
	default:
		log.Error().Str("providerConfigType", string(config.Type)).Msg("Unsupported KMS provider type")
		return nil, fmt.Errorf("unsupported KMS provider type: %s", config.Type)
	}

	if err != nil {
		log.Error().Err(err).Str("provider", string(config.Type)).Msg("Failed to create KMS provider wrapper")
		return nil, fmt.Errorf("failed to create wrapper: %w", err)
	}

	log.Info().
		Str("provider", string(config.Type)).
		Str("keyIdentifier", keyID).
		Str("locationContext", location).
		Msg("KMS provider initialized successfully")

	return &Provider{providerType: config.Type, wrapper: wrapper}, nil
}

// NewEphemeralProvider creates a local AEAD provider under a random in-memory KEK.
// Data keys wrapped by it do not survive the process.
func NewEphemeralProvider(ctx context.Context) (*Provider, error) {
	kek := make([]byte, types.KeySize)
	if _, err := rand.Read(kek); err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral KEK: %w", err)
	}
	keyID := "ephemeral-" + uuid.New().String()
	wrapper, err := createAeadWrapper(ctx, kek, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to create wrapper: %w", err)
	}
	log.Warn().Str("keyIdentifier", keyID).Msg("Using ephemeral AEAD KEK; wrapped keys are lost on exit")
	return &Provider{providerType: types.ProviderAead, wrapper: wrapper}, nil
}

// GetWrapper returns the underlying KMS wrapper
func (p *Provider) GetWrapper() wrapping.Wrapper {
	return p.wrapper
}

// Type returns the provider type
func (p *Provider) Type() types.ProviderType {
	return p.providerType
}

// Test tests the KMS wrapper by performing a test encryption/decryption
func (p *Provider) Test(ctx context.Context) error {
	if p.wrapper == nil {
		return fmt.Errorf("wrapper not initialized")
	}

	testData := []byte("test")
	encrypted, err := p.wrapper.Encrypt(ctx, testData)
	if err != nil {
		return fmt.Errorf("encryption test failed: %w", err)
	}
	decrypted, err := p.wrapper.Decrypt(ctx, encrypted)
	if err != nil {
		return fmt.Errorf("decryption test failed: %w", err)
	}
	if !bytes.Equal(decrypted, testData) {
		return fmt.Errorf("decrypted data does not match original")
	}
	return nil
}

// HealthCheck performs an encrypt/decrypt round trip and records the outcome
func (p *Provider) HealthCheck(ctx context.Context) error {
	if p.wrapper == nil {
		return fmt.Errorf("KMS provider not properly initialized: wrapper is nil")
	}

	if err := p.Test(ctx); err != nil {
		p.lastHealthCheck = fmt.Errorf("KMS provider health check failed: %w", err)
		return p.lastHealthCheck
	}

	p.lastHealthCheck = nil
	return nil
}

// GetLastHealthCheckError returns the last health check error if any
func (p *Provider) GetLastHealthCheckError() error {
	return p.lastHealthCheck
}

// validateAWSConfig validates AWS KMS configuration
func validateAWSConfig(awsConfig AWSConfig) error {
	if awsConfig.KeyID == "" {
		return fmt.Errorf("key ID (ARN) is required")
	}
	if awsConfig.Region == "" {
		return fmt.Errorf("region is required")
	}

	if creds := awsConfig.Credentials; creds != nil {
		if (creds.AccessKeyID == "") != (creds.SecretAccessKey == "") {
			return fmt.Errorf("both accessKeyId and secretAccessKey must be provided if using credentials")
		}
	} else {
		log.Info().Msg("AWS credentials not provided in config, assuming environment variables or default credentials")
	}
	return nil
}

// validateAzureConfig validates Azure Key Vault configuration
func validateAzureConfig(azureConfig AzureConfig) error {
	if azureConfig.KeyID == "" {
		return fmt.Errorf("key ID (URL) is required")
	}
	if !strings.HasPrefix(azureConfig.VaultAddress, "https://") || !strings.Contains(azureConfig.VaultAddress, ".vault.azure.net") {
		return fmt.Errorf("vault address must be a valid Azure Key Vault URL (e.g., https://myvault.vault.azure.net)")
	}

	if creds := azureConfig.Credentials; creds != nil {
		required := map[string]string{
			"tenantId":     creds.TenantID,
			"clientId":     creds.ClientID,
			"clientSecret": creds.ClientSecret,
		}
		for _, field := range []string{"tenantId", "clientId", "clientSecret"} {
			if required[field] == "" {
				return fmt.Errorf("%s is required in credentials and cannot be empty", field)
			}
		}
	} else {
		log.Info().Msg("Azure credentials not provided, assuming alternative authentication method (e.g., Managed Identity)")
	}
	return nil
}

// validateGCPConfig validates GCP KMS configuration
func validateGCPConfig(gcpConfig GCPConfig) error {
	if gcpConfig.ResourceName == "" {
		return fmt.Errorf("resource name is required")
	}
	parts := strings.Split(gcpConfig.ResourceName, "/")
	if len(parts) != 8 || parts[0] != "projects" || parts[2] != "locations" || parts[4] != "keyRings" || parts[6] != "cryptoKeys" {
		return fmt.Errorf("invalid resource name format. Expected: projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{cryptoKey}")
	}
	if parts[1] == "" || parts[3] == "" || parts[5] == "" || parts[7] == "" {
		return fmt.Errorf("project, location, keyRing, and cryptoKey components in resource name cannot be empty")
	}

	// A nil Credentials block means Application Default Credentials
	if gcpConfig.Credentials != nil && gcpConfig.Credentials.CredentialsJSON == "" {
		return fmt.Errorf("credentialsJson is required in credentials and cannot be empty")
	}
	return nil
}

// validateVaultConfig validates HashiCorp Vault configuration
func validateVaultConfig(vaultConfig VaultConfig) error {
	if vaultConfig.KeyID == "" {
		return fmt.Errorf("key ID (key name) is required")
	}
	if vaultConfig.VaultAddress == "" {
		return fmt.Errorf("vault address is required")
	}

	if vaultConfig.Credentials != nil {
		if vaultConfig.Credentials.Token == "" {
			return fmt.Errorf("token is required in credentials and cannot be empty")
		}
	} else {
		log.Info().Msg("Vault token not provided in config, assuming VAULT_TOKEN environment variable or other auth method")
	}
	return nil
}

// createAeadWrapper creates a local AES-GCM wrapper around kek
func createAeadWrapper(ctx context.Context, kek []byte, keyID string) (wrapping.Wrapper, error) {
	wrapper := kmsaead.NewWrapper()
	opts := []wrapping.Option{kmsaead.WithKey(kek)}
	if keyID != "" {
		opts = append(opts, wrapping.WithKeyId(keyID))
	}
	if _, err := wrapper.SetConfig(ctx, opts...); err != nil {
		return nil, fmt.Errorf("failed to configure AEAD wrapper: %w", err)
	}
	return wrapper, nil
}

// createAWSWrapper creates an AWS KMS wrapper
func createAWSWrapper(ctx context.Context, awsConfig AWSConfig) (wrapping.Wrapper, error) {
	wrapper := awskms.NewWrapper()

	configMap := map[string]string{
		"kms_key_id": awsConfig.KeyID,
		"region":     awsConfig.Region,
	}
	if creds := awsConfig.Credentials; creds != nil {
		log.Debug().
			Bool("accessKey", creds.AccessKeyID != "").
			Bool("sessionToken", creds.SessionToken != "").
			Msg("Configuring AWS KMS credentials from config")
		setIfNotEmpty(configMap, "access_key", creds.AccessKeyID)
		setIfNotEmpty(configMap, "secret_key", creds.SecretAccessKey)
		setIfNotEmpty(configMap, "session_token", creds.SessionToken)
	}

	if _, err := wrapper.SetConfig(ctx, wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure AWS KMS wrapper: %w", err)
	}
	return wrapper, nil
}

// createAzureWrapper creates an Azure Key Vault wrapper
func createAzureWrapper(ctx context.Context, azureConfig AzureConfig) (wrapping.Wrapper, error) {
	wrapper := azurekeyvault.NewWrapper()

	// KeyID looks like https://myvault.vault.azure.net/keys/mykey/version
	keyName := azureConfig.KeyID
	keyVersion := ""
	parts := strings.Split(azureConfig.KeyID, "/")
	if len(parts) >= 5 && parts[3] == "keys" {
		keyName = parts[4]
		if len(parts) >= 6 {
			keyVersion = parts[5]
		}
	} else {
		log.Warn().Str("keyId", azureConfig.KeyID).Msg("Azure KeyID does not look like a standard Key Identifier URL. Using the full value as key_name.")
	}

	vaultName := strings.Split(strings.TrimPrefix(azureConfig.VaultAddress, "https://"), ".")[0]
	if vaultName == "" {
		return nil, fmt.Errorf("could not parse vault name from VaultAddress: %s", azureConfig.VaultAddress)
	}

	configMap := map[string]string{
		"key_name":   keyName,
		"vault_name": vaultName,
		"vault_url":  azureConfig.VaultAddress,
	}
	setIfNotEmpty(configMap, "key_version", keyVersion)
	if creds := azureConfig.Credentials; creds != nil {
		log.Debug().Msg("Configuring Azure Key Vault credentials from config")
		setIfNotEmpty(configMap, "tenant_id", creds.TenantID)
		setIfNotEmpty(configMap, "client_id", creds.ClientID)
		setIfNotEmpty(configMap, "client_secret", creds.ClientSecret)
	}

	if _, err := wrapper.SetConfig(ctx, wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure Azure Key Vault wrapper: %w", err)
	}
	return wrapper, nil
}

// createGCPWrapper creates a Google Cloud KMS wrapper
func createGCPWrapper(ctx context.Context, gcpConfig GCPConfig) (wrapping.Wrapper, error) {
	wrapper := gcpckms.NewWrapper()

	parts := strings.Split(gcpConfig.ResourceName, "/")
	if len(parts) != 8 {
		return nil, fmt.Errorf("internal error: invalid resource name format passed validation: %s", gcpConfig.ResourceName)
	}
	configMap := map[string]string{
		"project":    parts[1],
		"region":     parts[3],
		"key_ring":   parts[5],
		"crypto_key": parts[7],
	}

	// The library only accepts a credentials file path
	if gcpConfig.Credentials != nil {
		tempFile, err := os.CreateTemp("", "gcp-creds-*.json")
		if err != nil {
			return nil, fmt.Errorf("failed to create temporary credentials file: %w", err)
		}
		defer func() {
			if errRemove := os.Remove(tempFile.Name()); errRemove != nil {
				log.Error().Err(errRemove).Str("filePath", tempFile.Name()).Msg("Failed to remove temporary credentials file")
			}
		}()

		if _, err := tempFile.WriteString(gcpConfig.Credentials.CredentialsJSON); err != nil {
			_ = tempFile.Close()
			return nil, fmt.Errorf("failed to write credentials to temporary file: %w", err)
		}
		if err := tempFile.Close(); err != nil {
			log.Error().Err(err).Str("filePath", tempFile.Name()).Msg("Failed to close temporary credentials file after successful write")
		}
		configMap["credentials"] = tempFile.Name()
	} else {
		log.Info().Msg("GCP credentials not provided in config, relying on Application Default Credentials (ADC).")
	}

	if _, err := wrapper.SetConfig(ctx, wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure GCP KMS wrapper: %w", err)
	}
	return wrapper, nil
}

// createVaultWrapper creates a HashiCorp Vault Transit wrapper
func createVaultWrapper(ctx context.Context, vaultConfig VaultConfig) (wrapping.Wrapper, error) {
	wrapper := transit.NewWrapper()

	configMap := map[string]string{
		"address":  vaultConfig.VaultAddress,
		"key_name": vaultConfig.KeyID,
	}
	setIfNotEmpty(configMap, "mount_path", vaultConfig.VaultMount)
	if vaultConfig.Credentials != nil {
		setIfNotEmpty(configMap, "token", vaultConfig.Credentials.Token)
		log.Debug().Msg("Configuring Vault Transit credentials from config (token)")
	}

	if _, err := wrapper.SetConfig(ctx, wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure Vault Transit wrapper: %w", err)
	}
	return wrapper, nil
}

func setIfNotEmpty(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
