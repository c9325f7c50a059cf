package patient

import (
	"errors"
	"fmt"

	"github.com/protolab/protolab/internal/domain/catalog"
)

var (
	// ErrInvalidState means the stored patient cannot be advanced: its active
	// protocol is missing from the catalog or from its own assignment list.
	ErrInvalidState = errors.New("invalid patient state")
	// ErrOutOfRangeStep is a corrupted step index. It is also ErrInvalidState.
	ErrOutOfRangeStep = fmt.Errorf("%w: step index out of range", ErrInvalidState)

	ErrPatientNotFound       = errors.New("patient not found")
	ErrSuspendedPatient      = errors.New("patient is not active")
	ErrActionBeforeAdmission = errors.New("action date precedes admission date")
	ErrEmptyAction           = errors.New("action has no billing codes")
	ErrPrematureAction       = errors.New("action date precedes the scheduled date")
	ErrDuplicateProtocolNo   = errors.New("protocol number already registered")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrInvalidPatient        = errors.New("invalid patient")
	ErrUnknownProtocol       = errors.New("unknown protocol")

	ErrUnknownBillingCode = catalog.ErrUnknownBillingCode
)
