package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/plazamarket/api/internal/domain"
	"github.com/plazamarket/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventPaid          = "order.paid"
	orderEventCancelled     = "order.cancelled"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "ori_"

	orderNumberCounter = "orders"

	fallbackPaymentMethod = "card"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not see or mutate the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderConflict indicates concurrent modification or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrCartEmpty indicates conversion was attempted on an empty cart.
	ErrCartEmpty = errors.New("order: cart is empty")
	// ErrInsufficientStock indicates a line's quantity exceeds availability.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrProductNotFound indicates a cart line references a missing product.
	ErrProductNotFound = errors.New("order: product not found")
	// ErrProductUnavailable indicates a cart line references an inactive product.
	ErrProductUnavailable = errors.New("order: product unavailable")
	// ErrInvalidTransition indicates the requested status change is not allowed.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderCancelled indicates the order has already been cancelled.
	ErrOrderCancelled = errors.New("order: already cancelled")
	// ErrOrderTerminal indicates the order reached a terminal status.
	ErrOrderTerminal = errors.New("order: already delivered")
)

// orderStateTransitions is the closed lifecycle graph. Payment confirmation
// is orthogonal to the shipping progression, so paid is reachable from every
// status except cancelled.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusPaid, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:       {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusPaid, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusPaid, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:  {domain.OrderStatusPaid},
	domain.OrderStatusCancelled:  {},
}

// sellerTransitionTargets are the only statuses a seller may move an order to.
var sellerTransitionTargets = []domain.OrderStatus{
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Counters    repositories.CounterRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
	// DefaultPaymentMethod is applied when conversion commands omit one.
	DefaultPaymentMethod string
}

type orderService struct {
	orders        repositories.OrderRepository
	carts         repositories.CartRepository
	counters      repositories.CounterRepository
	clock         func() time.Time
	newID         func() string
	events        OrderEventPublisher
	logger        func(context.Context, string, map[string]any)
	sanitize      *bluemonday.Policy
	paymentMethod string
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	paymentMethod := strings.TrimSpace(deps.DefaultPaymentMethod)
	if paymentMethod == "" {
		paymentMethod = fallbackPaymentMethod
	}

	return &orderService{
		orders:   deps.Orders,
		carts:    deps.Carts,
		counters: deps.Counters,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		events:        deps.Events,
		logger:        logger,
		sanitize:      bluemonday.StrictPolicy(),
		paymentMethod: paymentMethod,
	}, nil
}

func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.Actor.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	address := strings.TrimSpace(s.sanitize.Sanitize(cmd.ShippingAddress))
	if address == "" {
		return Order{}, fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}

	lines, err := s.carts.ListLines(ctx, userID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if len(lines) == 0 {
		return Order{}, ErrCartEmpty
	}

	// Pre-flight availability check so callers get a precise error before the
	// transactional re-check inside the repository.
	for _, line := range lines {
		if !line.Product.IsActive {
			return Order{}, fmt.Errorf("%w: %s", ErrProductUnavailable, line.Product.Name)
		}
		if line.Item.Quantity > line.Product.StockQuantity {
			return Order{}, fmt.Errorf("%w: %s (requested %d, available %d)",
				ErrInsufficientStock, line.Product.Name, line.Item.Quantity, line.Product.StockQuantity)
		}
	}

	paymentMethod := strings.TrimSpace(cmd.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = s.paymentMethod
	}

	now := s.now()
	order := Order{
		ID:              s.nextOrderID(),
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		ShippingAddress: address,
		Notes:           strings.TrimSpace(s.sanitize.Sanitize(cmd.Notes)),
		PaymentMethod:   paymentMethod,
		Items:           s.buildOrderItems(lines),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		order.Total += order.Items[i].Subtotal()
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}
	order.OrderNumber = number

	placed, err := s.orders.PlaceOrder(ctx, repositories.PlaceOrderRequest{
		Order:           order,
		ClearCartUserID: userID,
		Now:             now,
	})
	if err != nil {
		return Order{}, s.mapPlacementError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       placed.ID,
		OrderNumber:   placed.OrderNumber,
		CurrentStatus: string(placed.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"total":     placed.Total,
			"lineCount": len(placed.Items),
		},
	})

	return placed, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(filter.Actor.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	repoFilter := repositories.OrderListFilter{
		Status:     filter.Status,
		DateRange:  filter.CreatedAt,
		Pagination: filter.Pagination,
	}

	switch {
	case filter.Actor.Role.Elevated():
		// Unscoped.
	case filter.Actor.Role == domain.RoleSeller:
		repoFilter.ShopOwnerID = userID
	default:
		repoFilter.UserID = userID
	}

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := authorizeOrderAccess(actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	target := cmd.Target
	if _, ok := domain.ParseOrderStatus(string(target)); !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, string(cmd.Target))
	}

	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	if err := authorizeStatusChange(cmd.Actor, order, target); err != nil {
		return Order{}, err
	}

	if target == domain.OrderStatusCancelled {
		return s.Cancel(ctx, CancelOrderCommand{OrderID: cmd.OrderID, Actor: cmd.Actor, Reason: cmd.Reason})
	}

	if order.Status == target {
		return order, nil
	}
	if !canTransition(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, target)
	}

	now := s.now()
	prev := order.Status
	order.Status = target
	order.UpdatedAt = now
	applyStatusTimestamps(&order, target, now)

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prev),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.Actor.UserID,
		OccurredAt:     now,
		Metadata:       transitionMetadata(cmd.Reason),
	})

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := authorizeCancellation(cmd.Actor, order); err != nil {
		return Order{}, err
	}

	now := s.now()
	prev := order.Status
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now

	cancelled, err := s.orders.UpdateWithStockRestore(ctx, order)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        cancelled.ID,
		OrderNumber:    cancelled.OrderNumber,
		PreviousStatus: string(prev),
		CurrentStatus:  string(cancelled.Status),
		ActorID:        cmd.Actor.UserID,
		OccurredAt:     now,
		Metadata:       transitionMetadata(cmd.Reason),
	})

	return cancelled, nil
}

func (s *orderService) MarkPaid(ctx context.Context, cmd MarkPaidCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, ErrOrderCancelled
	}
	if order.PaidAt != nil {
		// Duplicate confirmations are expected from retrying providers.
		return order, nil
	}

	now := s.now()
	prev := order.Status
	order.Status = domain.OrderStatusPaid
	order.PaidAt = &now
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	metadata := map[string]any{}
	if ref := strings.TrimSpace(cmd.PaymentRef); ref != "" {
		metadata["paymentRef"] = ref
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaid,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prev),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

// authorizeOrderAccess is the single read-visibility predicate. Elevated roles
// see everything, sellers see orders containing at least one line from a shop
// they own, and everyone sees their own orders.
func authorizeOrderAccess(actor Actor, order Order) error {
	switch {
	case actor.Role.Elevated():
		return nil
	case order.UserID == actor.UserID && actor.UserID != "":
		return nil
	case actor.Role == domain.RoleSeller && order.ContainsShopOf(actor.UserID):
		return nil
	}
	return ErrOrderForbidden
}

func authorizeStatusChange(actor Actor, order Order, target domain.OrderStatus) error {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSuperAdmin:
		return nil
	case domain.RoleSeller:
		if !order.ContainsShopOf(actor.UserID) {
			return ErrOrderForbidden
		}
		if !slices.Contains(sellerTransitionTargets, target) {
			return fmt.Errorf("%w: sellers may not set status %s", ErrOrderForbidden, target)
		}
		return nil
	default:
		return ErrOrderForbidden
	}
}

func authorizeCancellation(actor Actor, order Order) error {
	if order.Status == domain.OrderStatusCancelled {
		return ErrOrderCancelled
	}
	if order.Status == domain.OrderStatusDelivered {
		return ErrOrderTerminal
	}

	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSuperAdmin:
		return nil
	case domain.RoleSeller:
		if !order.ContainsShopOf(actor.UserID) {
			return ErrOrderForbidden
		}
		return nil
	default:
		if order.UserID != actor.UserID || actor.UserID == "" {
			return ErrOrderForbidden
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: customers may only cancel pending orders, status is %s", ErrInvalidTransition, order.Status)
		}
		return nil
	}
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) buildOrderItems(lines []CartLine) []OrderItem {
	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, OrderItem{
			ID:        orderItemIDPrefix + s.newID(),
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			ShopID:    line.Product.ShopID,
			ShopOwner: line.Product.ShopOwnerID,
			Quantity:  line.Item.Quantity,
			Price:     line.Product.Price,
		})
	}
	return items
}

func applyStatusTimestamps(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusPaid:
		if order.PaidAt == nil {
			order.PaidAt = &now
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

// mapPlacementError translates the transactional stock re-check failures into
// the service error taxonomy.
func (s *orderService) mapPlacementError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrInsufficientStock, stockErr.Message)
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrProductNotFound, stockErr.ProductID)
		case repositories.StockErrorProductInactive:
			return fmt.Errorf("%w: %s", ErrProductUnavailable, stockErr.ProductID)
		}
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PM-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func transitionMetadata(reason string) map[string]any {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil
	}
	return map[string]any{"reason": reason}
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}
