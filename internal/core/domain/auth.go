package domain

import "time"

// APIKey grants read access to the key ledger API.
type APIKey struct {
	TokenHash string
	Name      string
	Active    bool
	CreatedAt time.Time
}
