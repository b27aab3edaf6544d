package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/plazamarket/api/internal/domain"
	pfirestore "github.com/plazamarket/api/internal/platform/firestore"
)

const shopsCollection = "shops"

type shopDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	OwnerID     string    `firestore:"ownerId"`
	IsVerified  bool      `firestore:"isVerified"`
	IsActive    bool      `firestore:"isActive"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// ShopRepository implements repositories.ShopRepository over Firestore.
type ShopRepository struct {
	provider *pfirestore.Provider
	shops    *pfirestore.BaseRepository[shopDocument]
}

// NewShopRepository constructs a Firestore-backed shop repository.
func NewShopRepository(provider *pfirestore.Provider) (*ShopRepository, error) {
	if provider == nil {
		return nil, errors.New("shop repository requires firestore provider")
	}
	return &ShopRepository{
		provider: provider,
		shops:    pfirestore.NewBaseRepository[shopDocument](provider, shopsCollection, nil, nil),
	}, nil
}

// FindByID fetches a single shop.
func (r *ShopRepository) FindByID(ctx context.Context, shopID string) (domain.Shop, error) {
	if r == nil || r.shops == nil {
		return domain.Shop{}, errors.New("shop repository not initialised")
	}
	doc, err := r.shops.Get(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByOwner lists the shops owned by the given user.
func (r *ShopRepository) FindByOwner(ctx context.Context, ownerID string) ([]domain.Shop, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("shop repository not initialised")
	}
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return nil, errors.New("shop repository: owner id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	snaps, err := client.Collection(shopsCollection).
		Where("ownerId", "==", owner).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("shops.findbyowner", err)
	}

	shops := make([]domain.Shop, 0, len(snaps))
	for _, snap := range snaps {
		var doc shopDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		shops = append(shops, doc.toDomain(snap.Ref.ID))
	}
	return shops, nil
}

func (d shopDocument) toDomain(id string) domain.Shop {
	return domain.Shop{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		OwnerID:     d.OwnerID,
		IsVerified:  d.IsVerified,
		IsActive:    d.IsActive,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
