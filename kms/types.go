package kms

import (
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

// Config represents the KMS provider configuration.
// Exactly the block matching Type is consulted.
type Config struct {
	Type  types.ProviderType `json:"type"`
	AWS   *AWSConfig         `json:"aws,omitempty"`
	Azure *AzureConfig       `json:"azure,omitempty"`
	GCP   *GCPConfig         `json:"gcp,omitempty"`
	Vault *VaultConfig       `json:"vault,omitempty"`
	Aead  *AeadConfig        `json:"aead,omitempty"`
}

// AWSConfig configures an AWS KMS key encryption key
type AWSConfig struct {
	KeyID       string                `json:"keyId"`
	Region      string                `json:"region"`
	Credentials *types.KMSCredentials `json:"credentials,omitempty"`
}

// AzureConfig configures an Azure Key Vault key encryption key
type AzureConfig struct {
	KeyID        string                `json:"keyId"`
	VaultAddress string                `json:"vaultAddress"`
	Credentials  *types.KMSCredentials `json:"credentials,omitempty"`
}

// GCPConfig configures a Google Cloud KMS key encryption key
type GCPConfig struct {
	// ResourceName is projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{cryptoKey}
	ResourceName string                `json:"resourceName"`
	Credentials  *types.KMSCredentials `json:"credentials,omitempty"`
}

// VaultConfig configures a HashiCorp Vault Transit key encryption key
type VaultConfig struct {
	KeyID        string                `json:"keyId"`
	VaultAddress string                `json:"vaultAddress"`
	VaultMount   string                `json:"vaultMount,omitempty"`
	Credentials  *types.KMSCredentials `json:"credentials,omitempty"`
}

// AeadConfig configures a local AES-256-GCM key encryption key
type AeadConfig struct {
	KeyBase64 string `json:"-"`
	KeyID     string `json:"keyId,omitempty"`
}
