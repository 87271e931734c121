package handler

import (
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
)

type ErrorResponse struct {
	Error   domain.Kind `json:"error"`
	Message string      `json:"message"`
}

func httpStatus(kind domain.Kind) int {
	switch kind {
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidAmount, domain.KindInvalidAccount:
		return http.StatusBadRequest
	case domain.KindInsufficientBalance, domain.KindAlreadyRetired, domain.KindDuplicateRequest:
		return http.StatusConflict
	case domain.KindInsufficientPayment, domain.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case domain.KindListingInactive:
		return http.StatusGone
	case domain.KindOverflow, domain.KindVerificationRejected:
		return http.StatusUnprocessableEntity
	case domain.KindPaymentFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(kind domain.Kind) codes.Code {
	switch kind {
	case domain.KindNone:
		return codes.OK
	case domain.KindUnauthorized:
		return codes.PermissionDenied
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindInvalidAmount, domain.KindInvalidAccount, domain.KindOverflow:
		return codes.InvalidArgument
	case domain.KindInsufficientBalance, domain.KindInsufficientPayment, domain.KindInsufficientFunds,
		domain.KindListingInactive, domain.KindVerificationRejected:
		return codes.FailedPrecondition
	case domain.KindAlreadyRetired, domain.KindDuplicateRequest:
		return codes.AlreadyExists
	case domain.KindPaymentFailed:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// errorResponse hides the detail of internal failures from clients.
func errorResponse(err error) (int, ErrorResponse) {
	kind := domain.KindOf(err)
	status := httpStatus(kind)
	if status == http.StatusInternalServerError {
		return status, ErrorResponse{Error: domain.KindInternal, Message: "internal error"}
	}
	return status, ErrorResponse{Error: kind, Message: err.Error()}
}
