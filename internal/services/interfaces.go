package services

import (
	"context"
	"time"

	"github.com/plazamarket/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination  = domain.Pagination
	SortOrder   = domain.SortOrder
	Role        = domain.Role
	Order       = domain.Order
	OrderItem   = domain.OrderItem
	OrderStatus = domain.OrderStatus
	Product     = domain.Product
	ProductInfo = domain.ProductInfo
	Shop        = domain.Shop
	CartItem    = domain.CartItem
	CartLine    = domain.CartLine
)

// Actor identifies the authenticated principal an operation runs on behalf of.
// Role is always a member of the closed domain.Role set; raw claim strings are
// parsed at the auth boundary.
type Actor struct {
	UserID string
	Role   Role
}

// OrderService encapsulates the cart-to-order conversion and the order
// lifecycle: role-scoped reads, status transitions, cancellation, and the
// payment confirmation callback.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	MarkPaid(ctx context.Context, cmd MarkPaidCommand) (Order, error)
}

// CreateOrderFromCartCommand converts the actor's cart into an order.
type CreateOrderFromCartCommand struct {
	Actor           Actor
	ShippingAddress string
	Notes           string
	PaymentMethod   string
}

// OrderListFilter scopes list queries. Visibility derives from the actor's
// role; the remaining fields are optional refinements.
type OrderListFilter struct {
	Actor      Actor
	Status     []OrderStatus
	CreatedAt  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// OrderStatusTransitionCommand moves an order to a new lifecycle status.
type OrderStatusTransitionCommand struct {
	OrderID string
	Target  OrderStatus
	Actor   Actor
	Reason  string
}

// CancelOrderCommand cancels an order and restores the reserved stock.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// MarkPaidCommand records a trusted payment confirmation. No actor is carried;
// callers are responsible for authenticating the payment provider.
type MarkPaidCommand struct {
	OrderID    string
	PaymentRef string
}

// CartView is a resolved cart snapshot with the running total in minor units.
type CartView struct {
	Lines []CartLine
	Total int64
}

// CartService manages mutable cart state while enforcing stock availability.
type CartService interface {
	GetCart(ctx context.Context, userID string) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error)
	RemoveItem(ctx context.Context, userID string, productID string) (CartView, error)
	Clear(ctx context.Context, userID string) error
}

// AddCartItemCommand adds quantity to the actor's cart, merging with an
// existing line for the same product.
type AddCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// UpdateCartItemCommand overwrites the quantity of an existing cart line.
type UpdateCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// CatalogService exposes the product reads and stock mutations the order
// workflow depends on.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	SetStock(ctx context.Context, cmd SetStockCommand) (Product, error)
}

// SetStockCommand overwrites a product's absolute stock quantity. Force skips
// the ownership check and is reserved for internal callers.
type SetStockCommand struct {
	ProductID string
	Quantity  int
	Actor     Actor
	Force     bool
}
