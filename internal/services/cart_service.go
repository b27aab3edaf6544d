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
	// ErrCartInvalidInput signals the caller provided invalid data.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound indicates the cart has no line for the product.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartProductNotFound indicates the referenced product does not exist.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartProductUnavailable indicates the product is not currently sellable.
	ErrCartProductUnavailable = errors.New("cart: product unavailable")
	// ErrCartInsufficientStock indicates the requested quantity exceeds availability.
	ErrCartInsufficientStock = errors.New("cart: insufficient stock")
)

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Clock    func() time.Time
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	clock    func() time.Time
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (CartView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	return s.view(ctx, userID)
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return CartView{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return CartView{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	info, err := s.products.OrderInfo(ctx, productID)
	if err != nil {
		return CartView{}, s.mapProductError(err)
	}
	if !info.IsActive {
		return CartView{}, fmt.Errorf("%w: %s", ErrCartProductUnavailable, info.Name)
	}

	// The repository merges quantities for an existing line, so the stock
	// check must cover the combined quantity.
	requested := cmd.Quantity
	lines, err := s.carts.ListLines(ctx, userID)
	if err != nil {
		return CartView{}, s.mapRepositoryError(err)
	}
	for _, line := range lines {
		if line.Item.ProductID == productID {
			requested += line.Item.Quantity
			break
		}
	}
	if requested > info.StockQuantity {
		return CartView{}, fmt.Errorf("%w: %s (requested %d, available %d)",
			ErrCartInsufficientStock, info.Name, requested, info.StockQuantity)
	}

	now := s.clock()
	if _, err := s.carts.UpsertItem(ctx, domain.CartItem{
		UserID:    userID,
		ProductID: productID,
		Quantity:  cmd.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return CartView{}, s.mapRepositoryError(err)
	}

	return s.view(ctx, userID)
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return CartView{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return CartView{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	info, err := s.products.OrderInfo(ctx, productID)
	if err != nil {
		return CartView{}, s.mapProductError(err)
	}
	if cmd.Quantity > info.StockQuantity {
		return CartView{}, fmt.Errorf("%w: %s (requested %d, available %d)",
			ErrCartInsufficientStock, info.Name, cmd.Quantity, info.StockQuantity)
	}

	if _, err := s.carts.SetQuantity(ctx, userID, productID, cmd.Quantity, s.clock()); err != nil {
		return CartView{}, s.mapRepositoryError(err)
	}

	return s.view(ctx, userID)
}

func (s *cartService) RemoveItem(ctx context.Context, userID string, productID string) (CartView, error) {
	userID = strings.TrimSpace(userID)
	productID = strings.TrimSpace(productID)
	if userID == "" || productID == "" {
		return CartView{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}

	if err := s.carts.DeleteItem(ctx, userID, productID); err != nil {
		return CartView{}, s.mapRepositoryError(err)
	}
	return s.view(ctx, userID)
}

func (s *cartService) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.carts.Clear(ctx, userID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *cartService) view(ctx context.Context, userID string) (CartView, error) {
	lines, err := s.carts.ListLines(ctx, userID)
	if err != nil {
		return CartView{}, s.mapRepositoryError(err)
	}
	view := CartView{Lines: lines}
	for _, line := range lines {
		view.Total += line.Subtotal()
	}
	return view, nil
}

func (s *cartService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrCartItemNotFound, err)
	}
	return err
}

func (s *cartService) mapProductError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrCartProductNotFound, err)
	}
	return err
}
