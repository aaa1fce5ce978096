package entity

import "time"

// ConnectionKind describes how credentials for a CloudAccount are obtained.
type ConnectionKind string

const (
	// ConnectionDirect means long-lived static keys are stored on the account.
	ConnectionDirect ConnectionKind = "direct-credentials"
	// ConnectionDelegatedRole means short-lived credentials are obtained by
	// assuming a pre-established role with a shared secret.
	ConnectionDelegatedRole ConnectionKind = "delegated-role"
)

// CloudAccount is a user's connection to one billing provider. Account rows
// are owned by the account-management service; the ingestion core reads them
// and only ever flips ExportEnabled off when an export becomes inaccessible.
type CloudAccount struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UserID         uint           `gorm:"index;not null" json:"user_id"`
	Provider       string         `gorm:"index;not null" json:"provider"`
	ConnectionKind ConnectionKind `gorm:"not null" json:"connection_kind"`

	// CredentialsJSON is the opaque credential blob for direct-credentials
	// accounts. Encryption at rest is handled by the account service.
	CredentialsJSON []byte `json:"-"`

	// RoleReference and SharedSecret identify the delegated trust
	// relationship for delegated-role accounts.
	RoleReference string `json:"role_reference"`
	SharedSecret  string `json:"-"`

	Active        bool      `gorm:"index" json:"active"`
	ExportEnabled bool      `json:"export_enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Credentials are resolved, ready-to-use provider credentials. For delegated
// roles they are short-lived and carry an expiry.
type Credentials struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	// Token is used by providers that authenticate with a single API token.
	Token  string
	Region string
	Expiry time.Time
}
