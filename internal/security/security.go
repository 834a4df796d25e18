package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled            bool
	CertFile           string
	KeyFile            string
	CAFile             string
	InsecureSkipVerify bool
	MinVersion         uint16
}

// LoadTLSConfig loads and creates a TLS configuration. It returns nil when
// TLS is disabled.
func LoadTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: cfg.MinVersion,
	}

	if tlsConfig.MinVersion == 0 {
		tlsConfig.MinVersion = tls.VersionTLS12
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate and key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}

		tlsConfig.RootCAs = caCertPool
	}

	tlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify

	return tlsConfig, nil
}

// SecretManager resolves credential references found in configuration
type SecretManager struct{}

// NewSecretManager creates a new secret manager
func NewSecretManager() *SecretManager {
	return &SecretManager{}
}

// GetSecret retrieves a secret by key.
// Supports format: env:VAR_NAME, file:/path/to/secret, or plain text
func (sm *SecretManager) GetSecret(key string) (string, error) {
	if strings.HasPrefix(key, "env:") {
		envVar := strings.TrimPrefix(key, "env:")
		value := os.Getenv(envVar)
		if value == "" {
			return "", fmt.Errorf("environment variable %s not found", envVar)
		}
		return value, nil
	}

	if strings.HasPrefix(key, "file:") {
		filePath := strings.TrimPrefix(key, "file:")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	return key, nil
}

// Resolve replaces each non-empty referenced string in place with its secret
// value
func (sm *SecretManager) Resolve(refs ...*string) error {
	for _, ref := range refs {
		if ref == nil || *ref == "" {
			continue
		}
		value, err := sm.GetSecret(*ref)
		if err != nil {
			return err
		}
		*ref = value
	}
	return nil
}

// SanitizeTerminal makes attacker-controlled text safe to print on a
// terminal. Control characters, including ESC and the C1 range, are dropped
// and invalid UTF-8 is replaced.
func SanitizeTerminal(s string) string {
	s = strings.ToValidUTF8(s, "�")
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// Validator provides input validation functions
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateHostPort validates host:port format
func (v *Validator) ValidateHostPort(hostPort string) bool {
	idx := strings.LastIndex(hostPort, ":")
	if idx <= 0 {
		return false
	}

	var port int
	if _, err := fmt.Sscanf(hostPort[idx+1:], "%d", &port); err != nil {
		return false
	}
	return port > 0 && port <= 65535
}
