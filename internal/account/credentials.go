package account

import (
	"context"

	"drip/pkg/crypto"
	pkgerrors "drip/pkg/errors"
)

// CredentialResolver decides which provider API key a batch send uses: a
// request-scoped override wins, then the account's stored (encrypted)
// key, then the system default.
type CredentialResolver struct {
	cipher       *crypto.Cipher
	systemAPIKey string
}

func NewCredentialResolver(cipher *crypto.Cipher, systemAPIKey string) *CredentialResolver {
	return &CredentialResolver{cipher: cipher, systemAPIKey: systemAPIKey}
}

func (r *CredentialResolver) Resolve(_ context.Context, acct *Account, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if acct.ProviderAPIKeyEncrypted != "" {
		key, err := r.cipher.Decrypt(acct.ProviderAPIKeyEncrypted)
		if err != nil {
			return "", pkgerrors.ErrProviderKey.
				WithCause(err).
				WithDetail("account_id", acct.ID)
		}
		return key, nil
	}

	if r.systemAPIKey != "" {
		return r.systemAPIKey, nil
	}

	return "", pkgerrors.ErrProviderKey.WithDetail("account_id", acct.ID)
}

func (r *CredentialResolver) Encrypt(plaintext string) (string, error) {
	return r.cipher.Encrypt(plaintext)
}
