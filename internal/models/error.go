package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Signing workflow errors
	ErrTokenNotFound      = errors.New("signing token not found")
	ErrTokenMalformed     = errors.New("signing token is malformed")
	ErrTokenUsed          = errors.New("signing token has already been used")
	ErrTokenExpired       = errors.New("signing token has expired")
	ErrOrderAlreadySigned = errors.New("order has already been signed")
	ErrConsentRequired    = errors.New("consent acknowledgement is required")
	ErrIPBlocked          = errors.New("ip address is blocked")
)
