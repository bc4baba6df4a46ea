package lab

import "context"

// ListFilter narrows ListPlates.
type ListFilter struct {
	IncludeDiscarded bool
	Limit            int
	Offset           int
}

// Repository defines lab persistence. Implementations queue their statements
// on the Transaction found in ctx.
type Repository interface {
	// CreatePlate inserts the plate and all of its wells.
	CreatePlate(ctx context.Context, p NewPlate) (*Plate, error)
	GetPlate(ctx context.Context, id int64) (*Plate, error)
	ListPlates(ctx context.Context, filter ListFilter) ([]Plate, error)
	SetDiscarded(ctx context.Context, id int64) error

	FindWell(ctx context.Context, plateID int64, row, column int) (*Well, error)

	AddComposition(ctx context.Context, c Composition) (*Composition, error)
	ListCompositions(ctx context.Context, plateID int64) ([]Composition, error)

	CreateUser(ctx context.Context, email, name, passwordHash string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}
