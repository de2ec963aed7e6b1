package services

import (
	"github.com/rotisserie/eris"

	"tournament-orchestrator/store"
)

var (
	ErrNotFound            = eris.New("not found")
	ErrInvalidState        = eris.New("invalid state")
	ErrAuthorizationDenied = eris.New("authorization denied")
	ErrValidation          = eris.New("validation failed")
	ErrInvalidToken        = eris.New("invalid or already used")
	ErrTokenExpired        = eris.New("token expired")
)

// notFound lifts a store miss into the service error kind and passes other
// errors through.
func notFound(err error, format string, args ...interface{}) error {
	if eris.Is(err, store.ErrNotFound) {
		return eris.Wrapf(ErrNotFound, format, args...)
	}
	return eris.Wrapf(err, format, args...)
}
