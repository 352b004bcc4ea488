package domain

import "errors"

// Failure taxonomy shared by adapters and session components. Adapters wrap
// these with context; callers match with errors.Is.
var (
	// ErrNetworkFailure: a request to the backend or geocoder was rejected or non-2xx.
	ErrNetworkFailure = errors.New("network failure")
	// ErrLocationUnavailable: the device denied or timed out a geolocation request.
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrGeocodeParse: the geocoder answered with an unexpected shape.
	ErrGeocodeParse = errors.New("unexpected geocoder response")
	// ErrVoteConflict: a vote was rejected and the optimistic change rolled back.
	ErrVoteConflict = errors.New("vote conflict")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrAlreadyVoted = errors.New("already voted")
	// ErrAlreadyLocating: a device lookup is already in flight for this store.
	ErrAlreadyLocating = errors.New("already locating")
)
