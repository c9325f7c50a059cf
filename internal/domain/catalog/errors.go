package catalog

import "errors"

var (
	ErrBillingCodeNotFound = errors.New("billing code not found")
	ErrProtocolNotFound    = errors.New("protocol not found")
	ErrUnknownBillingCode  = errors.New("unknown billing code")
	ErrInvalidBillingCode  = errors.New("invalid billing code")
	ErrInvalidProtocol     = errors.New("invalid protocol")
	ErrProtocolExists      = errors.New("protocol already exists")
	ErrInvalidDoctor       = errors.New("invalid doctor name")
)
