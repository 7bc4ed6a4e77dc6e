package vault

import (
	"github.com/tradewerk/broker-router/internal/broker"
)

// CredentialSource adapts the vault to the broker layer's credential
// interface so adapters never hold a vault reference directly.
type CredentialSource struct {
	v *Vault
}

// NewCredentialSource wraps a vault for use by broker adapters.
func NewCredentialSource(v *Vault) *CredentialSource {
	return &CredentialSource{v: v}
}

// Credentials fetches the broker's API credentials. Vault failures
// propagate unchanged so the executor treats them as transport faults.
func (s *CredentialSource) Credentials(brokerID, caller string) (broker.Credentials, error) {
	secret, err := s.v.GetSecret(brokerID, caller)
	if err != nil {
		return broker.Credentials{}, err
	}
	return broker.Credentials{APIKey: secret.APIKey, APISecret: secret.APISecret}, nil
}
