package lab

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"labcontrol/internal/core/apperror"
	"labcontrol/internal/core/tx"
	"labcontrol/pkg/logger"
)

const minPasswordLength = 8

// errNoTransaction means the caller did not put a Transaction in the context.
var errNoTransaction = errors.New("lab: no transaction in context")

// Service provides business logic for plates, compositions and users.
// The Transaction is obtained from context.
type Service struct {
	repo Repository
}

// NewService creates a new lab service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// inTransaction runs fn as one (possibly nested) scope of the context's
// Transaction, so everything fn queues commits or rolls back together.
func inTransaction(ctx context.Context, fn func(ctx context.Context, t *tx.Transaction) error) error {
	t := tx.FromContext(ctx)
	if t == nil {
		return apperror.NewInternal(errNoTransaction)
	}
	return t.RunInTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, t)
	})
}

// CreatePlate creates a plate with one well per position. The plate and its
// wells are committed together.
func (s *Service) CreatePlate(ctx context.Context, in NewPlate) (*Plate, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var plate *Plate
	err := inTransaction(ctx, func(ctx context.Context, t *tx.Transaction) error {
		var err error
		plate, err = s.repo.CreatePlate(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "plate created", "plate_id", plate.ID, "name", plate.Name, "wells", plate.WellCount)
	return plate, nil
}

// GetPlate returns a plate with its wells.
func (s *Service) GetPlate(ctx context.Context, id int64) (*Plate, error) {
	var plate *Plate
	err := inTransaction(ctx, func(ctx context.Context, t *tx.Transaction) error {
		var err error
		plate, err = s.repo.GetPlate(ctx, id)
		return err
	})
	return plate, err
}

// ListPlates returns plates ordered by id.
func (s *Service) ListPlates(ctx context.Context, filter ListFilter) ([]Plate, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var plates []Plate
	err := inTransaction(ctx, func(ctx context.Context, t *tx.Transaction) error {
		var err error
		plates, err = s.repo.ListPlates(ctx, filter)
		return err
	})
	return plates, err
}

// DiscardPlate marks a plate as discarded. Discarded plates accept no new
// compositions.
func (s *Service) DiscardPlate(ctx context.Context, id int64) error {
	return inTransaction(ctx, func(ctx context.Context, t *tx.Transaction) error {
		plate, err := s.repo.GetPlate(ctx, id)
		if err != nil {
			return err
		}
		if plate.Discarded {
			return apperror.NewBusinessRule(apperror.CodePlateDiscarded, "plate is already discarded").
				WithDetail("plate_id", id)
		}
		if err := s.repo.SetDiscarded(ctx, id); err != nil {
			return err
		}

		// Log only once the discard is durable.
		return t.AddPostCommitCallback(func() error {
			logger.Info(ctx, "plate discarded", "plate_id", id, "name", plate.Name)
			return nil
		})
	})
}

// AddComposition dispenses a reagent into one well of a plate.
func (s *Service) AddComposition(ctx context.Context, plateID int64, in NewComposition) (*Composition, error) {
	in.Reagent = strings.TrimSpace(in.Reagent)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	row, column, _ := ParseWellLabel(in.Well)

	var comp *Composition
	err := inTransaction(ctx, func(ctx context.Context, t *tx.Transaction) error {
		plate, err := s.repo.GetPlate(ctx, plateID)
		if err != nil {
			return err
		}
		if plate.Discarded {
			return apperror.NewBusinessRule(apperror.CodePlateDiscarded, "plate is discarded").
				WithDetail("plate_id", plateID)
		}
		if row >= plate.NumRows || column >= plate.NumColumns {
			return apperror.NewValidation("well is outside the plate").
				WithDetail("field", "well").
				WithDetail("value", in.Well)
		}

		well, err := s.repo.FindWell(ctx, plateID, row, column)
		if err != nil {
			return err
		}
		comp, err = s.repo.AddComposition(ctx, Composition{
			WellID:  well.ID,
			Reagent: in.Reagent,
			Volume:  in.Volume,
		})
		return err
	})
	return comp, err
}

// TotalVolume sums every volume dispensed into the plate, in microliters.
func (s *Service) TotalVolume(ctx context.Context, plateID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	err := inTransaction(ctx, func(ctx context.Context, t *tx.Transaction) error {
		if _, err := s.repo.GetPlate(ctx, plateID); err != nil {
			return err
		}
		comps, err := s.repo.ListCompositions(ctx, plateID)
		if err != nil {
			return err
		}
		for _, c := range comps {
			total = total.Add(c.Volume)
		}
		return nil
	})
	return total, err
}

// CreateUser registers a lab member with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, email, name, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !isValidEmail(email) {
		return nil, apperror.NewValidation("invalid email").WithDetail("field", "email")
	}
	if strings.TrimSpace(name) == "" {
		return nil, apperror.NewValidation("name is required").WithDetail("field", "name")
	}
	if len(password) < minPasswordLength {
		return nil, apperror.NewValidation("password is too short").
			WithDetail("field", "password").
			WithDetail("min_length", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	var user *User
	err = inTransaction(ctx, func(ctx context.Context, t *tx.Transaction) error {
		var err error
		user, err = s.repo.CreateUser(ctx, email, strings.TrimSpace(name), string(hash))
		return err
	})
	return user, err
}

// Authenticate checks a user's password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	var user *User
	err := inTransaction(ctx, func(ctx context.Context, t *tx.Transaction) error {
		var err error
		user, err = s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		return err
	})
	if apperror.IsNotFound(err) {
		return nil, apperror.NewUnauthorized("invalid email or password")
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperror.NewUnauthorized("invalid email or password")
	}
	return user, nil
}
