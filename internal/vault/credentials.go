package vault

import (
	"encoding/json"
	"fmt"

	"github.com/evansantos/slimclaw/internal/forwarder"
)

const credentialKeyPrefix = "provider:"

// CredentialStore adapts a Vault into a forwarder.CredentialSource,
// storing one {baseUrl, apiKey} pair per providerId under the vault's
// generic encrypted key/value store.
type CredentialStore struct {
	vault *Vault
}

// NewCredentialStore wraps v as a forwarder.CredentialSource.
func NewCredentialStore(v *Vault) *CredentialStore {
	return &CredentialStore{vault: v}
}

// SetCredentials stores (or rotates) a provider's credentials.
func (c *CredentialStore) SetCredentials(provider string, creds forwarder.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("vault: marshal credentials for %q: %w", provider, err)
	}
	return c.vault.Set(credentialKeyPrefix+provider, string(data))
}

// Credentials implements forwarder.CredentialSource.
func (c *CredentialStore) Credentials(provider string) (forwarder.Credentials, bool) {
	raw, err := c.vault.Get(credentialKeyPrefix + provider)
	if err != nil {
		return forwarder.Credentials{}, false
	}
	var creds forwarder.Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return forwarder.Credentials{}, false
	}
	return creds, true
}

// RemoveCredentials deletes a provider's stored credentials.
func (c *CredentialStore) RemoveCredentials(provider string) {
	c.vault.Delete(credentialKeyPrefix + provider)
}
