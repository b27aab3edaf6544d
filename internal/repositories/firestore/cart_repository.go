package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/plazamarket/api/internal/domain"
	pfirestore "github.com/plazamarket/api/internal/platform/firestore"
)

const (
	cartsCollection        = "carts"
	cartItemsSubcollection = "items"
)

type cartItemDocument struct {
	Quantity  int       `firestore:"quantity"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CartRepository stores cart lines under carts/{userID}/items/{productID}.
// Keying items by product ID enforces the one-line-per-(user,product)
// invariant without a uniqueness query.
type CartRepository struct {
	provider *pfirestore.Provider
	products *ProductRepository
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider, products *ProductRepository) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	if products == nil {
		return nil, errors.New("cart repository requires product repository")
	}
	return &CartRepository{provider: provider, products: products}, nil
}

func (r *CartRepository) itemsRef(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("cart repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(cartsCollection).Doc(userID).Collection(cartItemsSubcollection), nil
}

// ListLines returns the user's cart lines with their products resolved,
// newest first.
func (r *CartRepository) ListLines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("cart repository not initialised")
	}
	items, err := r.listItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		info, err := r.products.OrderInfo(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, domain.CartLine{Item: item, Product: info})
	}
	return lines, nil
}

// UpsertItem adds the quantity to an existing line or creates a new one.
func (r *CartRepository) UpsertItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error) {
	if r == nil || r.provider == nil {
		return domain.CartItem{}, errors.New("cart repository not initialised")
	}
	if strings.TrimSpace(item.ProductID) == "" {
		return domain.CartItem{}, errors.New("cart repository: product id is required")
	}

	coll, err := r.itemsRef(ctx, item.UserID)
	if err != nil {
		return domain.CartItem{}, err
	}
	ref := coll.Doc(item.ProductID)

	now := item.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var saved domain.CartItem
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc := cartItemDocument{Quantity: item.Quantity, CreatedAt: now, UpdatedAt: now}
		snap, err := tx.Get(ref)
		if err == nil {
			var existing cartItemDocument
			if decodeErr := snap.DataTo(&existing); decodeErr != nil {
				return decodeErr
			}
			doc.Quantity = existing.Quantity + item.Quantity
			doc.CreatedAt = existing.CreatedAt
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain(item.UserID, item.ProductID)
		return nil
	})
	if err != nil {
		return domain.CartItem{}, pfirestore.WrapError("carts.upsert", err)
	}
	return saved, nil
}

// SetQuantity overwrites the quantity of an existing line.
func (r *CartRepository) SetQuantity(ctx context.Context, userID string, productID string, quantity int, now time.Time) (domain.CartItem, error) {
	if r == nil || r.provider == nil {
		return domain.CartItem{}, errors.New("cart repository not initialised")
	}
	coll, err := r.itemsRef(ctx, userID)
	if err != nil {
		return domain.CartItem{}, err
	}
	ref := coll.Doc(productID)

	ts := now.UTC()
	var saved domain.CartItem
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc cartItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		doc.Quantity = quantity
		doc.UpdatedAt = ts
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain(userID, productID)
		return nil
	})
	if err != nil {
		return domain.CartItem{}, pfirestore.WrapError("carts.setquantity", err)
	}
	return saved, nil
}

// DeleteItem removes a single line from the cart.
func (r *CartRepository) DeleteItem(ctx context.Context, userID string, productID string) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	coll, err := r.itemsRef(ctx, userID)
	if err != nil {
		return err
	}
	ref := coll.Doc(productID)
	// Existence check so missing lines surface as not-found instead of a no-op.
	if _, err := ref.Get(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

// Clear removes every line from the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	items, err := r.listItems(ctx, userID)
	if err != nil {
		return err
	}
	coll, err := r.itemsRef(ctx, userID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if _, err := coll.Doc(item.ProductID).Delete(ctx); err != nil {
			return pfirestore.WrapError("carts.clear", err)
		}
	}
	return nil
}

func (r *CartRepository) listItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	coll, err := r.itemsRef(ctx, userID)
	if err != nil {
		return nil, err
	}

	snaps, err := coll.Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("carts.list", err)
	}

	items := make([]domain.CartItem, 0, len(snaps))
	for _, snap := range snaps {
		var doc cartItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		items = append(items, doc.toDomain(userID, snap.Ref.ID))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (d cartItemDocument) toDomain(userID string, productID string) domain.CartItem {
	return domain.CartItem{
		UserID:    userID,
		ProductID: productID,
		Quantity:  d.Quantity,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
