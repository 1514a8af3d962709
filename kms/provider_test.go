package kms

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

func TestValidateAWSConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    AWSConfig
		expectErr bool
		errSubstr string
	}{
		{
			name: "Valid AWS Config",
			config: AWSConfig{
				KeyID:       "arn:aws:kms:us-east-1:123456789012:key/valid-key-id",
				Region:      "us-east-1",
				Credentials: &types.KMSCredentials{AccessKeyID: "ACCESSKEY", SecretAccessKey: "SECRETKEY"},
			},
		},
		{
			name:   "Valid AWS Config (No Credentials)",
			config: AWSConfig{KeyID: "arn:aws:kms:us-east-1:123456789012:key/valid-key-id", Region: "us-east-1"},
		},
		{
			name:      "Missing KeyID",
			config:    AWSConfig{Region: "us-east-1"},
			expectErr: true,
			errSubstr: "key ID (ARN) is required",
		},
		{
			name:      "Missing Region",
			config:    AWSConfig{KeyID: "arn:aws:kms:us-east-1:123456789012:key/valid-key-id"},
			expectErr: true,
			errSubstr: "region is required",
		},
		{
			name: "Missing Secret Key",
			config: AWSConfig{
				KeyID:       "arn:aws:kms:us-east-1:123456789012:key/valid-key-id",
				Region:      "us-east-1",
				Credentials: &types.KMSCredentials{AccessKeyID: "ACCESSKEY"},
			},
			expectErr: true,
			errSubstr: "both accessKeyId and secretAccessKey must be provided",
		},
		{
			name: "Missing Access Key",
			config: AWSConfig{
				KeyID:       "arn:aws:kms:us-east-1:123456789012:key/valid-key-id",
				Region:      "us-east-1",
				Credentials: &types.KMSCredentials{SecretAccessKey: "SECRETKEY"},
			},
			expectErr: true,
			errSubstr: "both accessKeyId and secretAccessKey must be provided",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, validateAWSConfig(tt.config), tt.expectErr, tt.errSubstr)
		})
	}
}

func TestValidateAzureConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    AzureConfig
		expectErr bool
		errSubstr string
	}{
		{
			name: "Valid Azure Config",
			config: AzureConfig{
				KeyID:        "https://myvault.vault.azure.net/keys/mykey/version",
				VaultAddress: "https://myvault.vault.azure.net",
				Credentials:  &types.KMSCredentials{TenantID: "TENANT", ClientID: "CLIENT", ClientSecret: "SECRET"},
			},
		},
		{
			name: "Valid Azure Config (No Credentials - MSI)",
			config: AzureConfig{
				KeyID:        "https://myvault.vault.azure.net/keys/mykey/version",
				VaultAddress: "https://myvault.vault.azure.net",
			},
		},
		{
			name:      "Missing KeyID",
			config:    AzureConfig{VaultAddress: "https://myvault.vault.azure.net"},
			expectErr: true,
			errSubstr: "key ID (URL) is required",
		},
		{
			name:      "Invalid Vault Address",
			config:    AzureConfig{KeyID: "https://myvault.vault.azure.net/keys/mykey", VaultAddress: "http://example.com"},
			expectErr: true,
			errSubstr: "vault address must be a valid Azure Key Vault URL",
		},
		{
			name: "Missing Client Secret",
			config: AzureConfig{
				KeyID:        "https://myvault.vault.azure.net/keys/mykey",
				VaultAddress: "https://myvault.vault.azure.net",
				Credentials:  &types.KMSCredentials{TenantID: "TENANT", ClientID: "CLIENT"},
			},
			expectErr: true,
			errSubstr: "clientSecret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, validateAzureConfig(tt.config), tt.expectErr, tt.errSubstr)
		})
	}
}

func TestValidateGCPConfig(t *testing.T) {
	const valid = "projects/p/locations/europe-west1/keyRings/r/cryptoKeys/k"
	tests := []struct {
		name      string
		config    GCPConfig
		expectErr bool
		errSubstr string
	}{
		{name: "Valid GCP Config (ADC)", config: GCPConfig{ResourceName: valid}},
		{
			name:   "Valid GCP Config (Credentials JSON)",
			config: GCPConfig{ResourceName: valid, Credentials: &types.KMSCredentials{CredentialsJSON: `{"project_id":"p"}`}},
		},
		{name: "Missing Resource Name", config: GCPConfig{}, expectErr: true, errSubstr: "resource name is required"},
		{name: "Malformed Resource Name", config: GCPConfig{ResourceName: "projects/p/keyRings/r"}, expectErr: true, errSubstr: "invalid resource name format"},
		{
			name:      "Empty Component",
			config:    GCPConfig{ResourceName: "projects//locations/l/keyRings/r/cryptoKeys/k"},
			expectErr: true,
			errSubstr: "cannot be empty",
		},
		{
			name:      "Credentials Without JSON",
			config:    GCPConfig{ResourceName: valid, Credentials: &types.KMSCredentials{}},
			expectErr: true,
			errSubstr: "credentialsJson is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, validateGCPConfig(tt.config), tt.expectErr, tt.errSubstr)
		})
	}
}

func TestValidateVaultConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    VaultConfig
		expectErr bool
		errSubstr string
	}{
		{name: "Valid Vault Config", config: VaultConfig{KeyID: "evidence", VaultAddress: "https://vault.example.com", Credentials: &types.KMSCredentials{Token: "s.token"}}},
		{name: "Valid Vault Config (Env Token)", config: VaultConfig{KeyID: "evidence", VaultAddress: "https://vault.example.com"}},
		{name: "Missing KeyID", config: VaultConfig{VaultAddress: "https://vault.example.com"}, expectErr: true, errSubstr: "key ID (key name) is required"},
		{name: "Missing Address", config: VaultConfig{KeyID: "evidence"}, expectErr: true, errSubstr: "vault address is required"},
		{
			name:      "Empty Token",
			config:    VaultConfig{KeyID: "evidence", VaultAddress: "https://vault.example.com", Credentials: &types.KMSCredentials{}},
			expectErr: true,
			errSubstr: "token is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, validateVaultConfig(tt.config), tt.expectErr, tt.errSubstr)
		})
	}
}

func TestNewProviderConfigErrors(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		errSubstr string
	}{
		{name: "Unsupported Provider Type", config: Config{Type: "unknown"}, errSubstr: "unsupported KMS provider type"},
		{name: "Missing AWS Config Struct", config: Config{Type: types.ProviderAWS}, errSubstr: "AWS configuration is missing"},
		{name: "Missing Azure Config Struct", config: Config{Type: types.ProviderAzure}, errSubstr: "azure configuration is missing"},
		{name: "Missing GCP Config Struct", config: Config{Type: types.ProviderGCP}, errSubstr: "GCP configuration is missing"},
		{name: "Missing Vault Config Struct", config: Config{Type: types.ProviderVault}, errSubstr: "vault configuration is missing"},
		{name: "Invalid AWS Config", config: Config{Type: types.ProviderAWS, AWS: &AWSConfig{Region: "us-east-1"}}, errSubstr: "invalid AWS KMS configuration"},
		{name: "Invalid GCP Config", config: Config{Type: types.ProviderGCP, GCP: &GCPConfig{ResourceName: "invalid-format"}}, errSubstr: "invalid GCP KMS configuration"},
		{name: "Missing AEAD Key", config: Config{Type: types.ProviderAead}, errSubstr: "AEAD provider requires a base64 key"},
		{name: "Bad AEAD Base64", config: Config{Type: types.ProviderAead, Aead: &AeadConfig{KeyBase64: "%%%"}}, errSubstr: "failed to decode AEAD key"},
		{
			name:      "Short AEAD Key",
			config:    Config{Type: types.ProviderAead, Aead: &AeadConfig{KeyBase64: base64.StdEncoding.EncodeToString(make([]byte, 16))}},
			errSubstr: "must be 32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tt.config)
			checkErr(t, err, true, tt.errSubstr)
		})
	}
}

func TestAeadProviderWrapsWithAAD(t *testing.T) {
	ctx := context.Background()
	kek := make([]byte, types.KeySize)
	for i := range kek {
		kek[i] = byte(i + 1)
	}
	p, err := NewProvider(ctx, Config{Type: types.ProviderAead, Aead: &AeadConfig{KeyBase64: base64.StdEncoding.EncodeToString(kek), KeyID: "local-kek"}})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Type() != types.ProviderAead {
		t.Fatalf("Type = %q, want %q", p.Type(), types.ProviderAead)
	}
	if err := p.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if p.GetLastHealthCheckError() != nil {
		t.Fatalf("GetLastHealthCheckError = %v, want nil", p.GetLastHealthCheckError())
	}

	blob, err := p.GetWrapper().Encrypt(ctx, []byte("data key"), wrapping.WithAad([]byte("key:key-1")))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := p.GetWrapper().Decrypt(ctx, blob, wrapping.WithAad([]byte("key:key-2"))); err == nil {
		t.Fatalf("Decrypt with wrong AAD succeeded")
	}
	got, err := p.GetWrapper().Decrypt(ctx, blob, wrapping.WithAad([]byte("key:key-1")))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != "data key" {
		t.Fatalf("Decrypt = %q, want %q", got, "data key")
	}
}

func TestEphemeralProvider(t *testing.T) {
	ctx := context.Background()
	a, err := NewEphemeralProvider(ctx)
	if err != nil {
		t.Fatalf("NewEphemeralProvider: %v", err)
	}
	b, err := NewEphemeralProvider(ctx)
	if err != nil {
		t.Fatalf("NewEphemeralProvider: %v", err)
	}
	if err := a.Test(ctx); err != nil {
		t.Fatalf("Test: %v", err)
	}

	blob, err := a.GetWrapper().Encrypt(ctx, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.GetWrapper().Decrypt(ctx, blob); err == nil {
		t.Fatalf("a blob from one ephemeral KEK opened under another")
	}
}

func checkErr(t *testing.T, err error, expectErr bool, errSubstr string) {
	t.Helper()
	if expectErr {
		if err == nil {
			t.Errorf("expected an error but got nil")
		} else if errSubstr != "" && !strings.Contains(err.Error(), errSubstr) {
			t.Errorf("expected error containing %q, got %q", errSubstr, err.Error())
		}
	} else if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
}
