package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/plazamarket/api/internal/domain"
	pfirestore "github.com/plazamarket/api/internal/platform/firestore"
)

const productsCollection = "products"

type productDocument struct {
	Name          string    `firestore:"name"`
	Description   string    `firestore:"description,omitempty"`
	Price         int64     `firestore:"price"`
	StockQuantity int       `firestore:"stockQuantity"`
	ShopID        string    `firestore:"shopId"`
	Category      string    `firestore:"category,omitempty"`
	Images        []string  `firestore:"images,omitempty"`
	IsActive      bool      `firestore:"isActive"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// ProductRepository implements repositories.ProductRepository over Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
	shops    *pfirestore.BaseRepository[shopDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
		shops:    pfirestore.NewBaseRepository[shopDocument](provider, shopsCollection, nil, nil),
	}, nil
}

// FindByID fetches a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// OrderInfo resolves the order-relevant read model including the owning
// seller, keeping shop-join concerns out of the services layer.
func (r *ProductRepository) OrderInfo(ctx context.Context, productID string) (domain.ProductInfo, error) {
	if r == nil || r.products == nil {
		return domain.ProductInfo{}, errors.New("product repository not initialised")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.ProductInfo{}, err
	}

	info := domain.ProductInfo{
		ID:            doc.ID,
		Name:          doc.Data.Name,
		Price:         doc.Data.Price,
		StockQuantity: doc.Data.StockQuantity,
		IsActive:      doc.Data.IsActive,
		ShopID:        doc.Data.ShopID,
	}

	if shopID := strings.TrimSpace(doc.Data.ShopID); shopID != "" {
		shop, err := r.shops.Get(ctx, shopID)
		if err != nil {
			return domain.ProductInfo{}, err
		}
		info.ShopOwnerID = shop.Data.OwnerID
	}
	return info, nil
}

// Upsert persists the product document.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	now := product.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	createdAt := product.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := productDocument{
		Name:          strings.TrimSpace(product.Name),
		Description:   product.Description,
		Price:         product.Price,
		StockQuantity: product.StockQuantity,
		ShopID:        strings.TrimSpace(product.ShopID),
		Category:      strings.TrimSpace(product.Category),
		Images:        product.Images,
		IsActive:      product.IsActive,
		CreatedAt:     createdAt,
		UpdatedAt:     now,
	}
	if _, err := r.products.Set(ctx, product.ID, doc); err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(product.ID), nil
}

// SetStock overwrites the absolute stock quantity on the product document.
func (r *ProductRepository) SetStock(ctx context.Context, productID string, quantity int, now time.Time) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := doc.Data
	updated.StockQuantity = quantity
	updated.UpdatedAt = now.UTC()
	if _, err := r.products.Set(ctx, productID, updated); err != nil {
		return domain.Product{}, err
	}
	return updated.toDomain(productID), nil
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          d.Name,
		Description:   d.Description,
		Price:         d.Price,
		StockQuantity: d.StockQuantity,
		ShopID:        d.ShopID,
		Category:      d.Category,
		Images:        d.Images,
		IsActive:      d.IsActive,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
