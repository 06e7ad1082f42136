package account

import (
	"time"
)

// Account is the tenant. Each account carries its own provider API
// credential (encrypted at rest) and rate budget; downstream provider
// calls are always account-scoped.
type Account struct {
	ID                      string    `json:"id"`
	Name                    string    `json:"name"`
	APIKey                  string    `json:"-"`
	ProviderAPIKeyEncrypted string    `json:"-"`
	ProviderKeyValid        bool      `json:"provider_key_valid"`
	EmailsSent              int64     `json:"emails_sent"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

type StoreProviderKeyRequest struct {
	ProviderAPIKey string `json:"provider_api_key" binding:"required"`
}
