package docq

import (
	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/domain"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrUnsupported      = domain.ErrUnsupported
	ErrNotFound         = domain.ErrNotFound
	ErrConversion       = domain.ErrConversion
	ErrGateway          = domain.ErrGateway
	ErrNoElements       = domain.ErrNoElements
	ErrMultipleElements = domain.ErrMultipleElements
	ErrInvalidPlan      = domain.ErrInvalidPlan
	ErrInvalidSchema    = domain.ErrInvalidSchema
	ErrInternal         = domain.ErrInternal

	// ErrExists is wrapped by the gateway error of an Add whose document
	// already exists.
	ErrExists = db.ErrExists
)

// Typed errors; use errors.As() to inspect them.
type (
	UnsupportedError = domain.UnsupportedError
	ConversionError  = domain.ConversionError
	NotFoundError    = domain.NotFoundError
	GatewayError     = domain.GatewayError
)
