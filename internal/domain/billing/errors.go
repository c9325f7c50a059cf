package billing

import "errors"

var (
	ErrEntryNotFound   = errors.New("entry not found")
	ErrTenderNotFound  = errors.New("tender not found")
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvalidEntry    = errors.New("invalid entry")
	ErrInvalidTender   = errors.New("invalid tender")
	ErrInvalidInvoice  = errors.New("invalid invoice")
)
