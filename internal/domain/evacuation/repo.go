package evacuation

import (
	"context"

	"github.com/google/uuid"
)

// Repository reads and writes are always scoped by a Side; a record outside
// the side's tenant does not exist for the caller. Conditional updates fail
// with apperr.ErrConflict when the stored status is no longer from.
type Repository interface {
	CreateEvacuation(ctx context.Context, e *Evacuation) error
	GetEvacuation(ctx context.Context, side Side, id uuid.UUID) (*Evacuation, error)
	ListEvacuations(ctx context.Context, side Side, f Filter, limit, offset int) ([]*Evacuation, int, error)
	UpdateEvacuation(ctx context.Context, side Side, e *Evacuation, from Status) error
	// OpenForPatient reports whether the clinic's patient already has an
	// evacuation in an open status.
	OpenForPatient(ctx context.Context, clinicID, patientID uuid.UUID) (bool, error)

	CreateCase(ctx context.Context, c *CriticalCase) error
	GetCase(ctx context.Context, side Side, id uuid.UUID) (*CriticalCase, error)
	ListCases(ctx context.Context, side Side, status CaseStatus, limit, offset int) ([]*CriticalCase, int, error)
	UpdateCase(ctx context.Context, side Side, c *CriticalCase, from CaseStatus) error

	CreateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, side Side, id uuid.UUID) (*Booking, error)
	ListBookings(ctx context.Context, side Side, status BookingStatus, limit, offset int) ([]*Booking, int, error)
	UpdateBooking(ctx context.Context, side Side, b *Booking, from BookingStatus) error
	// ActiveBooking reports whether the evacuation already holds a reserved
	// or occupied bed.
	ActiveBooking(ctx context.Context, hospitalID, evacuationID uuid.UUID) (bool, error)

	Counts(ctx context.Context, side Side) (*Counts, error)
}
