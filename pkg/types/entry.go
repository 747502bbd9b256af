package types

import "time"

// EntryState is where a config entry is in its lifecycle.
type EntryState string

const (
	EntryStateNotLoaded  EntryState = "not_loaded"
	EntryStateLoaded     EntryState = "loaded"
	EntryStateSetupRetry EntryState = "setup_retry"
	EntryStateSetupError EntryState = "setup_error"
	EntryStateReauth     EntryState = "reauth_required"
)

// ConfigEntry is a persisted, authorized connection to an Electric Kiwi
// account.
type ConfigEntry struct {
	ID             string    `json:"id"`
	Domain         string    `json:"domain"`
	Title          string    `json:"title"`
	UniqueID       string    `json:"uniqueID,omitempty"`
	AuthImpl       string    `json:"authImpl,omitempty"`
	Token          Token     `json:"-"`
	EncryptedToken []byte    `json:"encryptedToken,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	State EntryState `json:"state,omitempty"`
}
