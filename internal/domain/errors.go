package domain

import "errors"

var (
	ErrPositionExists   = errors.New("position already open")
	ErrNoPosition       = errors.New("no open position")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrVerifyDenied     = errors.New("trade verification denied")
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrQuantityTooSmall = errors.New("quantity below lot size")
	ErrVenueRejected    = errors.New("venue rejected request")
)
