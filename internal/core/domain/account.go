package domain

import "slices"

// Reserved accounts owned by the marketplace. They can never act as callers
// or be named as recipients of a direct transfer or mint.
const (
	EscrowAccount     = "marketplace:escrow"
	SettlementAccount = "marketplace:settlement"
)

// IsReservedAccount reports whether id belongs to the marketplace itself.
func IsReservedAccount(id string) bool {
	return id == EscrowAccount || id == SettlementAccount
}

// Account is a holder of fungible credits.
type Account struct {
	ID               string   `json:"id"`
	Balance          int64    `json:"balance"`
	IsVerifiedIssuer bool     `json:"is_verified_issuer"`
	Projects         []string `json:"projects,omitempty"`
}

// VerifiedFor reports whether the account was verified for projectID.
func (a Account) VerifiedFor(projectID string) bool {
	return slices.Contains(a.Projects, projectID)
}

// Clone returns a copy that shares no memory with a.
func (a Account) Clone() Account {
	a.Projects = slices.Clone(a.Projects)
	return a
}
