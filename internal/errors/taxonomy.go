package errors

import "net/http"

// Category groups codes into the user-facing failure classes.
type Category string

const (
	CategoryNone              Category = ""
	CategoryValidation        Category = "validation"
	CategoryNoRoute           Category = "no_route"
	CategoryNetwork           Category = "network"
	CategoryAuthorization     Category = "authorization"
	CategoryOnChain           Category = "on_chain"
	CategoryInsufficientFunds Category = "insufficient_funds"
	CategoryInternal          Category = "internal"
)

func CategoryOf(err error) Category {
	if err == nil {
		return CategoryNone
	}
	switch CodeOf(err) {
	case CodeUsage, CodeUnsupported, CodeBlocked, CodeActionPlan:
		return CategoryValidation
	case CodeNoRoute:
		return CategoryNoRoute
	case CodeUnavailable, CodeRateLimited, CodeGatewayExhausted, CodeStale, CodeActionTimeout:
		return CategoryNetwork
	case CodeAuth, CodeSigner:
		return CategoryAuthorization
	case CodeReverted, CodeActionSim:
		return CategoryOnChain
	case CodeInsufficientFunds:
		return CategoryInsufficientFunds
	default:
		return CategoryInternal
	}
}

// TypeName is the stable string used in rendered error envelopes.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "provider_unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeStale:
		return "stale_data"
	case CodeNoRoute:
		return "no_route"
	case CodeBlocked:
		return "command_blocked"
	case CodeGatewayExhausted:
		return "gateway_exhausted"
	case CodeInsufficientFunds:
		return "insufficient_funds"
	case CodeActionPlan:
		return "action_plan_error"
	case CodeActionSim:
		return "action_simulation_error"
	case CodeSigner:
		return "signer_error"
	case CodeActionTimeout:
		return "action_timeout"
	case CodeReverted:
		return "transaction_reverted"
	default:
		return "internal_error"
	}
}

func HTTPStatus(err error) int {
	switch CategoryOf(err) {
	case CategoryNone:
		return http.StatusOK
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryNoRoute:
		return http.StatusConflict
	case CategoryInsufficientFunds:
		return http.StatusPaymentRequired
	case CategoryAuthorization:
		return http.StatusUnauthorized
	case CategoryNetwork:
		return http.StatusServiceUnavailable
	case CategoryOnChain:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage renders an error for end users without provider internals.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	cliErr, ok := As(err)
	if !ok {
		return "Something went wrong. Please try again."
	}
	switch CategoryOf(err) {
	case CategoryValidation, CategoryNoRoute, CategoryInsufficientFunds, CategoryAuthorization:
		return cliErr.Message
	case CategoryNetwork:
		return "Blockchain network is unreachable right now. Please retry in a moment."
	case CategoryOnChain:
		if cliErr.Code == CodeActionSim {
			return cliErr.Message + ". The transaction was not sent."
		}
		return cliErr.Message + ". Gas may have been spent without completing the swap."
	default:
		return "Something went wrong. Please try again."
	}
}
