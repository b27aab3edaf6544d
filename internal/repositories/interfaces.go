package repositories

import (
	"context"
	"time"

	"github.com/plazamarket/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order aggregates and executes the transactional
// workflows that must mutate orders and product stock as one atomic unit.
type OrderRepository interface {
	// PlaceOrder atomically persists the order with its items, decrements each
	// product's stock (re-verifying availability inside the transaction), and
	// clears the user's cart. No write survives a failure of any step.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error)

	// UpdateWithStockRestore atomically persists the updated order and
	// increments each line's product stock by the line quantity. Used by
	// cancellation and by transitions into the cancelled status.
	UpdateWithStockRestore(ctx context.Context, order domain.Order) (domain.Order, error)

	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PlaceOrderRequest carries the prepared aggregate into the transactional insert.
type PlaceOrderRequest struct {
	Order domain.Order
	// ClearCartUserID identifies the cart emptied within the same transaction.
	ClearCartUserID string
	Now             time.Time
}

// OrderListFilter scopes order listings by role-derived visibility. Results are
// always ordered by creation time descending.
type OrderListFilter struct {
	// UserID limits results to orders owned by the user (customer scope).
	UserID string
	// ShopOwnerID limits results to orders containing at least one line from a
	// shop owned by the user (seller scope).
	ShopOwnerID string
	Status      []domain.OrderStatus
	DateRange   domain.RangeQuery[time.Time]
	Pagination  domain.Pagination
}

// ProductRepository stores catalog products and the stock ledger.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// OrderInfo resolves the order-relevant read model, including the owning
	// shop's owner for seller authorisation.
	OrderInfo(ctx context.Context, productID string) (domain.ProductInfo, error)
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
	// SetStock overwrites the absolute stock quantity.
	SetStock(ctx context.Context, productID string, quantity int, now time.Time) (domain.Product, error)
}

// CartRepository stores cart lines keyed by (user, product).
type CartRepository interface {
	ListLines(ctx context.Context, userID string) ([]domain.CartLine, error)
	UpsertItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error)
	SetQuantity(ctx context.Context, userID string, productID string, quantity int, now time.Time) (domain.CartItem, error)
	DeleteItem(ctx context.Context, userID string, productID string) error
	Clear(ctx context.Context, userID string) error
}

// ShopRepository resolves shops for ownership checks.
type ShopRepository interface {
	FindByID(ctx context.Context, shopID string) (domain.Shop, error)
	FindByOwner(ctx context.Context, ownerID string) ([]domain.Shop, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
