// Package apierr maps domain errors onto HTTP statuses and stable error codes
// shared by the public API and the back-office.
package apierr

import (
	"errors"
	"net/http"

	"github.com/tradesense/challenge/internal/domain"
)

// rule ties one error to its HTTP rendering.  Specific errors come before
// the kinds they wrap.
type rule struct {
	err    error
	status int
	code   string
}

var rules = []rule{
	{domain.ErrChallengeNotFound, http.StatusNotFound, "ERR_CHALLENGE_NOT_FOUND"},
	{domain.ErrTradeNotFound, http.StatusNotFound, "ERR_TRADE_NOT_FOUND"},
	{domain.ErrPlanNotFound, http.StatusNotFound, "ERR_PLAN_NOT_FOUND"},
	{domain.ErrNotFound, http.StatusNotFound, "ERR_NOT_FOUND"},

	{domain.ErrInvalidQty, http.StatusBadRequest, "ERR_INVALID_QTY"},
	{domain.ErrInvalidSide, http.StatusBadRequest, "ERR_INVALID_SIDE"},
	{domain.ErrInvalidSymbol, http.StatusBadRequest, "ERR_INVALID_SYMBOL"},
	{domain.ErrUnsupportedMarket, http.StatusBadRequest, "ERR_UNSUPPORTED_MARKET"},
	{domain.ErrInvalidStatus, http.StatusBadRequest, "ERR_INVALID_STATUS"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "ERR_INVALID_AMOUNT"},
	{domain.ErrInvalidInterval, http.StatusBadRequest, "ERR_INVALID_INTERVAL"},
	{domain.ErrInvalidRange, http.StatusBadRequest, "ERR_INVALID_RANGE"},
	{domain.ErrInvalidWindow, http.StatusBadRequest, "ERR_INVALID_WINDOW"},
	{domain.ErrNotEnoughHistory, http.StatusUnprocessableEntity, "ERR_NOT_ENOUGH_HISTORY"},
	{domain.ErrValidation, http.StatusBadRequest, "ERR_VALIDATION"},

	{domain.ErrChallengeNotActive, http.StatusConflict, "ERR_CHALLENGE_NOT_ACTIVE"},
	{domain.ErrTradeClosed, http.StatusConflict, "ERR_TRADE_CLOSED"},
	{domain.ErrPlanNotSuperior, http.StatusConflict, "ERR_PLAN_NOT_SUPERIOR"},
	{domain.ErrState, http.StatusConflict, "ERR_STATE"},

	{domain.ErrNotOwner, http.StatusForbidden, "ERR_NOT_OWNER"},
	{domain.ErrForbidden, http.StatusForbidden, "ERR_FORBIDDEN"},
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired, "ERR_INSUFFICIENT_FUNDS"},

	{domain.ErrUnauthorized, http.StatusUnauthorized, "ERR_UNAUTHORIZED"},
	{domain.ErrTokenInvalid, http.StatusUnauthorized, "ERR_TOKEN_INVALID"},

	{domain.ErrLockUnavailable, http.StatusServiceUnavailable, "ERR_BUSY"},
	{domain.ErrPriceUnavailable, http.StatusBadGateway, "ERR_PRICE_UNAVAILABLE"},
	{domain.ErrExternalService, http.StatusBadGateway, "ERR_EXTERNAL_SERVICE"},
}

// Classify returns the HTTP status and code for err.  Unknown errors are
// internal: ok is false and the caller should log err and hide its text.
func Classify(err error) (status int, code string, ok bool) {
	for _, r := range rules {
		if errors.Is(err, r.err) {
			return r.status, r.code, true
		}
	}
	return http.StatusInternalServerError, "ERR_INTERNAL", false
}
