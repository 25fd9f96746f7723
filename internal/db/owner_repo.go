package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"lifeline/internal/types"
)

// OwnerRepository reads owner contact projections from the owners table.
// The table is maintained by the account system; this side only ever reads
// it, to resolve reminder recipients.
type OwnerRepository struct {
	db DBTX
}

// NewOwnerRepository creates a new OwnerRepository backed by the given
// database connection (pool or transaction).
func NewOwnerRepository(db DBTX) *OwnerRepository {
	return &OwnerRepository{db: db}
}

// GetContact returns the contact record for an owner ID.
func (r *OwnerRepository) GetContact(ctx context.Context, ownerID string) (*types.OwnerContact, error) {
	row := r.db.QueryRow(ctx,
		`SELECT owner_id, email, COALESCE(display_name, '')
		 FROM owners
		 WHERE owner_id = $1`,
		ownerID,
	)

	var c types.OwnerContact
	if err := row.Scan(&c.OwnerID, &c.Email, &c.DisplayName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundOwner,
				"owner contact not found", err,
				map[string]any{"owner_id": ownerID})
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get owner contact", err)
	}
	return &c, nil
}
