package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

// IssuerReview lets the owner verify issuers on the verification oracle's
// recommendation instead of by hand.
type IssuerReview struct {
	ledger        *CreditLedger
	oracle        port.VerificationOracle
	minConfidence float64
	log           logrus.FieldLogger
}

func NewIssuerReview(ledger *CreditLedger, oracle port.VerificationOracle, minConfidence float64, log logrus.FieldLogger) *IssuerReview {
	if log == nil {
		log = discardLogger()
	}
	return &IssuerReview{ledger: ledger, oracle: oracle, minConfidence: minConfidence, log: log}
}

// Review asks the oracle about issuer and verifies it for projectID when the
// assessment is approved with at least the configured confidence.
func (r *IssuerReview) Review(ctx context.Context, caller, issuer, projectID string) (port.Assessment, error) {
	if !r.ledger.IsOwner(caller) {
		return port.Assessment{}, fmt.Errorf("review issuer %s: %w", issuer, domain.ErrUnauthorized)
	}

	a, err := r.oracle.Assess(ctx, issuer, projectID)
	if err != nil {
		return port.Assessment{}, fmt.Errorf("assess issuer %s: %w", issuer, err)
	}

	log := r.log.WithFields(logrus.Fields{
		"issuer":     issuer,
		"project_id": projectID,
		"approved":   a.Approved,
		"confidence": a.Confidence,
	})
	if !a.Approved || a.Confidence < r.minConfidence {
		log.Info("issuer not verified")
		return a, fmt.Errorf("issuer %s (confidence %.2f, minimum %.2f): %w",
			issuer, a.Confidence, r.minConfidence, domain.ErrVerificationRejected)
	}

	if err := r.ledger.VerifyIssuer(ctx, caller, issuer, projectID); err != nil {
		return a, err
	}
	log.Info("issuer verified")
	return a, nil
}
