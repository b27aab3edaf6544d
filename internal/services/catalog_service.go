package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/plazamarket/api/internal/domain"
	"github.com/plazamarket/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput signals the caller provided invalid data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogProductNotFound indicates the product could not be located.
	ErrCatalogProductNotFound = errors.New("catalog: product not found")
	// ErrCatalogForbidden indicates the actor may not mutate the product.
	ErrCatalogForbidden = errors.New("catalog: forbidden")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Shops    repositories.ShopRepository
	Clock    func() time.Time
}

type catalogService struct {
	products repositories.ProductRepository
	shops    repositories.ShopRepository
	clock    func() time.Time
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Shops == nil {
		return nil, errors.New("catalog service: shop repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &catalogService{
		products: deps.Products,
		shops:    deps.Shops,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) SetStock(ctx context.Context, cmd SetStockCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if cmd.Quantity < 0 {
		return Product{}, fmt.Errorf("%w: quantity must not be negative", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	if !cmd.Force {
		if err := s.authorizeStockChange(ctx, cmd.Actor, product); err != nil {
			return Product{}, err
		}
	}

	updated, err := s.products.SetStock(ctx, productID, cmd.Quantity, s.clock())
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

// authorizeStockChange allows elevated roles and the owner of the product's
// shop. Everyone else is rejected regardless of the product state.
func (s *catalogService) authorizeStockChange(ctx context.Context, actor Actor, product Product) error {
	if actor.Role.Elevated() {
		return nil
	}
	if actor.Role != domain.RoleSeller || strings.TrimSpace(actor.UserID) == "" {
		return ErrCatalogForbidden
	}

	shop, err := s.shops.FindByID(ctx, product.ShopID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if shop.OwnerID != actor.UserID {
		return ErrCatalogForbidden
	}
	return nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrCatalogProductNotFound, err)
	}
	return err
}
