package model

import "github.com/pkg/errors"

// Error taxonomy. Callers classify with errors.Is; wrapped variants carry
// the offending symbol/series for context.
var (
	// ErrBadEvent marks a malformed trade or quote. The event is rejected
	// and no series state is mutated.
	ErrBadEvent = errors.New("malformed market event")

	// ErrStateOwned marks an attempt to register an indicator state object
	// that is already owned by another subscription.
	ErrStateOwned = errors.New("indicator state already owned by a subscription")

	// ErrUnknownSubscription marks an unregister call with an id that was
	// never issued or has already been removed.
	ErrUnknownSubscription = errors.New("unknown subscription id")

	// ErrBadRegistration marks a structurally invalid registration
	// (nil state, nil callback, invalid timeframe).
	ErrBadRegistration = errors.New("invalid registration")
)
