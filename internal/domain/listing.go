package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ListingType string

const (
	ListingTypeRent ListingType = "rent"
	ListingTypeSale ListingType = "sale"
)

// Listing is the property record. Write access to windows and appointments
// is decided by matching ContactEmail against the caller's identity; that
// check lives in the auth layer, not here.
type Listing struct {
	bun.BaseModel `bun:"table:listings"`

	ID           uuid.UUID   `bun:"id,pk,type:uuid"`
	Address      string      `bun:"address,notnull"`
	Price        int         `bun:"price,notnull"`
	Description  string      `bun:"description"`
	ContactEmail string      `bun:"contact_email,notnull"`
	ListingType  ListingType `bun:"listing_type,notnull"`
	CreatedAt    time.Time   `bun:"created_at,notnull"`
	UpdatedAt    time.Time   `bun:"updated_at,notnull"`
}

func (l *Listing) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if l.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			l.ID = id
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		if l.UpdatedAt.IsZero() {
			l.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		l.UpdatedAt = now
	}
	return nil
}

// Profile is the tenant contact directory entry. IDs come from the external
// auth provider, so they are opaque strings rather than UUIDs we mint.
type Profile struct {
	bun.BaseModel `bun:"table:profiles"`

	ID        string    `bun:"id,pk"`
	Email     string    `bun:"email,notnull"`
	FullName  string    `bun:"full_name"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}
