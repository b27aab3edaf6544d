package domain

import "time"

// Pagination carries the caller supplied page parameters for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role enumerates the closed set of principal roles known to the marketplace.
type Role string

const (
	// RoleCustomer is the default role for authenticated shoppers.
	RoleCustomer Role = "customer"
	// RoleSeller marks users owning one or more shops.
	RoleSeller Role = "seller"
	// RoleAdmin marks marketplace operators.
	RoleAdmin Role = "admin"
	// RoleSuperAdmin marks platform owners with unrestricted access.
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole maps a raw claim value onto the closed Role set.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleCustomer, RoleSeller, RoleAdmin, RoleSuperAdmin:
		return Role(raw), true
	}
	return "", false
}

// Elevated reports whether the role bypasses ownership checks.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Shop is a seller-owned storefront grouping products.
type Shop struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	IsVerified  bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Product is a sellable catalog entry. Price is stored in minor currency
// units (two decimal places when rendered).
type Product struct {
	ID            string
	Name          string
	Description   string
	Price         int64
	StockQuantity int
	ShopID        string
	Category      string
	Images        []string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProductInfo is the read model consumed by the order workflow: exactly the
// fields needed for pricing, stock checks, and seller authorisation.
type ProductInfo struct {
	ID            string
	Name          string
	Price         int64
	StockQuantity int
	IsActive      bool
	ShopID        string
	ShopOwnerID   string
}

// CartItem is one (product, quantity) line in a user's active cart. At most
// one line exists per (user, product) pair.
type CartItem struct {
	UserID    string
	ProductID string
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartLine is a cart item with its product resolved, as consumed by the
// conversion workflow and the cart read endpoints.
type CartLine struct {
	Item    CartItem
	Product ProductInfo
}

// Subtotal returns the line subtotal in minor units.
func (l CartLine) Subtotal() int64 {
	return l.Product.Price * int64(l.Item.Quantity)
}

// OrderStatus enumerates valid lifecycle states for orders.
//
// Payment confirmation is modelled as a status value even though it is
// conceptually orthogonal to the shipping progression; PaidAt records that
// the order has been paid regardless of later transitions.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been placed and awaits handling.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment has been confirmed.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusProcessing indicates the seller is preparing the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order has been cancelled and stock restored.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus maps a raw request value onto the closed status set.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	switch OrderStatus(raw) {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return OrderStatus(raw), true
	}
	return "", false
}

// Order is the aggregate root created by cart-to-order conversion. It is never
// hard deleted; lifecycle is expressed through Status alone.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Total           int64
	ShippingAddress string
	Notes           string
	PaymentMethod   string
	Status          OrderStatus
	Items           []OrderItem
	PaidAt          *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is an immutable order line. Price and ShopID are captured at
// conversion time and survive later product or shop changes.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Name      string
	ShopID    string
	ShopOwner string
	Quantity  int
	Price     int64
}

// Subtotal returns the line subtotal in minor units.
func (i OrderItem) Subtotal() int64 {
	return i.Price * int64(i.Quantity)
}

// ContainsShopOf reports whether at least one order line belongs to a shop
// owned by the given user. Seller visibility and mutation rights derive from
// this single predicate.
func (o Order) ContainsShopOf(ownerID string) bool {
	for _, item := range o.Items {
		if item.ShopOwner != "" && item.ShopOwner == ownerID {
			return true
		}
	}
	return false
}
