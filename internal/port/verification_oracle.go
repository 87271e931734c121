package port

import "context"

// Assessment is the oracle's opinion on whether an issuer should be trusted
// to mint credits for a project.
type Assessment struct {
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

type VerificationOracle interface {
	Assess(ctx context.Context, issuer, projectID string) (Assessment, error)
}
