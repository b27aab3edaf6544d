package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plazamarket/api/internal/domain"
	"github.com/plazamarket/api/internal/repositories"
)

type stubOrderRepo struct {
	placeFn         func(context.Context, repositories.PlaceOrderRequest) (domain.Order, error)
	updateRestoreFn func(context.Context, domain.Order) (domain.Order, error)
	updateFn        func(context.Context, domain.Order) error
	findFn          func(context.Context, string) (domain.Order, error)
	listFn          func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) PlaceOrder(ctx context.Context, req repositories.PlaceOrderRequest) (domain.Order, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, req)
	}
	return req.Order, nil
}

func (s *stubOrderRepo) UpdateWithStockRestore(ctx context.Context, order domain.Order) (domain.Order, error) {
	if s.updateRestoreFn != nil {
		return s.updateRestoreFn(ctx, order)
	}
	return order, nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubCartRepo struct {
	listLinesFn func(context.Context, string) ([]domain.CartLine, error)
	upsertFn    func(context.Context, domain.CartItem) (domain.CartItem, error)
	setQtyFn    func(context.Context, string, string, int, time.Time) (domain.CartItem, error)
	deleteFn    func(context.Context, string, string) error
	clearFn     func(context.Context, string) error
}

func (s *stubCartRepo) ListLines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	if s.listLinesFn != nil {
		return s.listLinesFn(ctx, userID)
	}
	return nil, nil
}

func (s *stubCartRepo) UpsertItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, item)
	}
	return item, nil
}

func (s *stubCartRepo) SetQuantity(ctx context.Context, userID string, productID string, quantity int, now time.Time) (domain.CartItem, error) {
	if s.setQtyFn != nil {
		return s.setQtyFn(ctx, userID, productID, quantity, now)
	}
	return domain.CartItem{UserID: userID, ProductID: productID, Quantity: quantity}, nil
}

func (s *stubCartRepo) DeleteItem(ctx context.Context, userID string, productID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, userID, productID)
	}
	return nil
}

func (s *stubCartRepo) Clear(ctx context.Context, userID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return nil
}

type stubProductRepo struct {
	findFn      func(context.Context, string) (domain.Product, error)
	orderInfoFn func(context.Context, string) (domain.ProductInfo, error)
	upsertFn    func(context.Context, domain.Product) (domain.Product, error)
	setStockFn  func(context.Context, string, int, time.Time) (domain.Product, error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) OrderInfo(ctx context.Context, productID string) (domain.ProductInfo, error) {
	if s.orderInfoFn != nil {
		return s.orderInfoFn(ctx, productID)
	}
	return domain.ProductInfo{}, errors.New("not implemented")
}

func (s *stubProductRepo) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, product)
	}
	return product, nil
}

func (s *stubProductRepo) SetStock(ctx context.Context, productID string, quantity int, now time.Time) (domain.Product, error) {
	if s.setStockFn != nil {
		return s.setStockFn(ctx, productID, quantity, now)
	}
	return domain.Product{ID: productID, StockQuantity: quantity}, nil
}

type stubShopRepo struct {
	findFn    func(context.Context, string) (domain.Shop, error)
	byOwnerFn func(context.Context, string) ([]domain.Shop, error)
}

func (s *stubShopRepo) FindByID(ctx context.Context, shopID string) (domain.Shop, error) {
	if s.findFn != nil {
		return s.findFn(ctx, shopID)
	}
	return domain.Shop{}, errors.New("not implemented")
}

func (s *stubShopRepo) FindByOwner(ctx context.Context, ownerID string) ([]domain.Shop, error) {
	if s.byOwnerFn != nil {
		return s.byOwnerFn(ctx, ownerID)
	}
	return nil, nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 0, nil
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string       { return "not found" }
func (notFoundErr) IsNotFound() bool    { return true }
func (notFoundErr) IsConflict() bool    { return false }
func (notFoundErr) IsUnavailable() bool { return false }

func newTestOrderService(t *testing.T, orders *stubOrderRepo, carts *stubCartRepo, counters *stubCounterRepo, events OrderEventPublisher, now time.Time) OrderService {
	t.Helper()
	if counters == nil {
		counters = &stubCounterRepo{}
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Carts:    carts,
		Counters: counters,
		Clock: func() time.Time {
			return now
		},
		IDGenerator: func() string { return "000TEST" },
		Events:      events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func testCartLines() []domain.CartLine {
	return []domain.CartLine{
		{
			Item:    domain.CartItem{UserID: "user-1", ProductID: "prd_1", Quantity: 2},
			Product: domain.ProductInfo{ID: "prd_1", Name: "Mug", Price: 500, StockQuantity: 10, IsActive: true, ShopID: "shp_1", ShopOwnerID: "seller-1"},
		},
		{
			Item:    domain.CartItem{UserID: "user-1", ProductID: "prd_2", Quantity: 1},
			Product: domain.ProductInfo{ID: "prd_2", Name: "Poster", Price: 1500, StockQuantity: 3, IsActive: true, ShopID: "shp_2", ShopOwnerID: "seller-2"},
		},
	}
}

func TestOrderServiceCreateFromCart(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	events := &captureOrderEvents{}

	var placed repositories.PlaceOrderRequest
	orders := &stubOrderRepo{
		placeFn: func(_ context.Context, req repositories.PlaceOrderRequest) (domain.Order, error) {
			placed = req
			return req.Order, nil
		},
	}
	carts := &stubCartRepo{
		listLinesFn: func(_ context.Context, userID string) ([]domain.CartLine, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user id %s", userID)
			}
			return testCartLines(), nil
		},
	}
	counters := &stubCounterRepo{
		nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "orders" {
				t.Fatalf("unexpected counter id %s", counterID)
			}
			if step != 1 {
				t.Fatalf("unexpected step %d", step)
			}
			return 42, nil
		},
	}

	svc := newTestOrderService(t, orders, carts, counters, events, now)

	order, err := svc.CreateFromCart(ctx, CreateOrderFromCartCommand{
		Actor:           Actor{UserID: "user-1", Role: domain.RoleCustomer},
		ShippingAddress: "1 Market Street",
		Notes:           "leave at the door",
		PaymentMethod:   "card",
	})
	if err != nil {
		t.Fatalf("create from cart: %v", err)
	}

	if order.ID != "ord_000TEST" {
		t.Fatalf("unexpected order id %s", order.ID)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected status pending got %s", order.Status)
	}
	if order.OrderNumber != "PM-2025-000042" {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if order.Total != 2500 {
		t.Fatalf("expected total 2500 got %d", order.Total)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items got %d", len(order.Items))
	}
	if order.Items[0].Price != 500 || order.Items[0].ShopOwner != "seller-1" {
		t.Fatalf("line snapshot not captured: %+v", order.Items[0])
	}
	if order.Items[1].OrderID != order.ID {
		t.Fatalf("expected order id on line, got %s", order.Items[1].OrderID)
	}
	if placed.ClearCartUserID != "user-1" {
		t.Fatalf("expected cart clear for user-1, got %q", placed.ClearCartUserID)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventCreated {
		t.Fatalf("expected order.created event, got %+v", events.events)
	}
}

func TestOrderServiceCreateFromCartDefaultsPaymentMethod(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	carts := &stubCartRepo{
		listLinesFn: func(context.Context, string) ([]domain.CartLine, error) {
			return testCartLines(), nil
		},
	}

	t.Run("falls back to card", func(t *testing.T) {
		svc := newTestOrderService(t, &stubOrderRepo{}, carts, nil, nil, now)

		order, err := svc.CreateFromCart(ctx, CreateOrderFromCartCommand{
			Actor:           Actor{UserID: "user-1", Role: domain.RoleCustomer},
			ShippingAddress: "1 Market Street",
		})
		if err != nil {
			t.Fatalf("create from cart: %v", err)
		}
		if order.PaymentMethod != "card" {
			t.Fatalf("expected payment method card got %q", order.PaymentMethod)
		}
	})

	t.Run("configured default wins", func(t *testing.T) {
		svc, err := NewOrderService(OrderServiceDeps{
			Orders:               &stubOrderRepo{},
			Carts:                carts,
			Counters:             &stubCounterRepo{},
			Clock:                func() time.Time { return now },
			IDGenerator:          func() string { return "000TEST" },
			DefaultPaymentMethod: "bank_transfer",
		})
		if err != nil {
			t.Fatalf("new order service: %v", err)
		}

		order, err := svc.CreateFromCart(ctx, CreateOrderFromCartCommand{
			Actor:           Actor{UserID: "user-1", Role: domain.RoleCustomer},
			ShippingAddress: "1 Market Street",
		})
		if err != nil {
			t.Fatalf("create from cart: %v", err)
		}
		if order.PaymentMethod != "bank_transfer" {
			t.Fatalf("expected payment method bank_transfer got %q", order.PaymentMethod)
		}
	})

	t.Run("explicit method is kept", func(t *testing.T) {
		svc := newTestOrderService(t, &stubOrderRepo{}, carts, nil, nil, now)

		order, err := svc.CreateFromCart(ctx, CreateOrderFromCartCommand{
			Actor:           Actor{UserID: "user-1", Role: domain.RoleCustomer},
			ShippingAddress: "1 Market Street",
			PaymentMethod:   "cash_on_delivery",
		})
		if err != nil {
			t.Fatalf("create from cart: %v", err)
		}
		if order.PaymentMethod != "cash_on_delivery" {
			t.Fatalf("expected payment method cash_on_delivery got %q", order.PaymentMethod)
		}
	})
}

func TestOrderServiceCreateFromCartEmptyCart(t *testing.T) {
	ctx := context.Background()
	svc := newTestOrderService(t, &stubOrderRepo{}, &stubCartRepo{
		listLinesFn: func(context.Context, string) ([]domain.CartLine, error) {
			return nil, nil
		},
	}, nil, nil, time.Now())

	_, err := svc.CreateFromCart(ctx, CreateOrderFromCartCommand{
		Actor:           Actor{UserID: "user-1", Role: domain.RoleCustomer},
		ShippingAddress: "1 Market Street",
	})
	if !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("expected ErrCartEmpty got %v", err)
	}
}

func TestOrderServiceCreateFromCartInsufficientStock(t *testing.T) {
	ctx := context.Background()
	lines := testCartLines()
	lines[1].Item.Quantity = 5

	svc := newTestOrderService(t, &stubOrderRepo{}, &stubCartRepo{
		listLinesFn: func(context.Context, string) ([]domain.CartLine, error) {
			return lines, nil
		},
	}, nil, nil, time.Now())

	_, err := svc.CreateFromCart(ctx, CreateOrderFromCartCommand{
		Actor:           Actor{UserID: "user-1", Role: domain.RoleCustomer},
		ShippingAddress: "1 Market Street",
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock got %v", err)
	}
}

func TestOrderServiceCreateFromCartInactiveProduct(t *testing.T) {
	ctx := context.Background()
	lines := testCartLines()
	lines[0].Product.IsActive = false

	svc := newTestOrderService(t, &stubOrderRepo{}, &stubCartRepo{
		listLinesFn: func(context.Context, string) ([]domain.CartLine, error) {
			return lines, nil
		},
	}, nil, nil, time.Now())

	_, err := svc.CreateFromCart(ctx, CreateOrderFromCartCommand{
		Actor:           Actor{UserID: "user-1", Role: domain.RoleCustomer},
		ShippingAddress: "1 Market Street",
	})
	if !errors.Is(err, ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable got %v", err)
	}
}

func TestOrderServiceCreateFromCartStockRaceLoses(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		placeFn: func(context.Context, repositories.PlaceOrderRequest) (domain.Order, error) {
			return domain.Order{}, repositories.NewStockError(repositories.StockErrorInsufficient, "prd_1", "insufficient stock for Mug", nil)
		},
	}
	carts := &stubCartRepo{
		listLinesFn: func(context.Context, string) ([]domain.CartLine, error) {
			return testCartLines(), nil
		},
	}

	svc := newTestOrderService(t, orders, carts, nil, nil, time.Now())

	_, err := svc.CreateFromCart(ctx, CreateOrderFromCartCommand{
		Actor:           Actor{UserID: "user-1", Role: domain.RoleCustomer},
		ShippingAddress: "1 Market Street",
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock got %v", err)
	}
}

func TestOrderServiceListOrdersRoleScoping(t *testing.T) {
	ctx := context.Background()
	var captured repositories.OrderListFilter
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{}, nil
		},
	}
	svc := newTestOrderService(t, orders, &stubCartRepo{}, nil, nil, time.Now())

	cases := []struct {
		name          string
		actor         Actor
		wantUserID    string
		wantShopOwner string
	}{
		{name: "customer sees own orders", actor: Actor{UserID: "user-1", Role: domain.RoleCustomer}, wantUserID: "user-1"},
		{name: "seller sees shop orders", actor: Actor{UserID: "seller-1", Role: domain.RoleSeller}, wantShopOwner: "seller-1"},
		{name: "admin sees everything", actor: Actor{UserID: "admin-1", Role: domain.RoleAdmin}},
		{name: "super admin sees everything", actor: Actor{UserID: "root-1", Role: domain.RoleSuperAdmin}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			captured = repositories.OrderListFilter{}
			if _, err := svc.ListOrders(ctx, OrderListFilter{Actor: tc.actor}); err != nil {
				t.Fatalf("list orders: %v", err)
			}
			if captured.UserID != tc.wantUserID {
				t.Fatalf("expected user scope %q got %q", tc.wantUserID, captured.UserID)
			}
			if captured.ShopOwnerID != tc.wantShopOwner {
				t.Fatalf("expected shop owner scope %q got %q", tc.wantShopOwner, captured.ShopOwnerID)
			}
		})
	}
}

func TestOrderServiceGetOrderAuthorization(t *testing.T) {
	ctx := context.Background()
	stored := domain.Order{
		ID:     "ord_1",
		UserID: "user-1",
		Status: domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ProductID: "prd_1", ShopID: "shp_1", ShopOwner: "seller-1", Quantity: 1, Price: 500},
		},
	}
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			if orderID != stored.ID {
				return domain.Order{}, notFoundErr{}
			}
			return stored, nil
		},
	}
	svc := newTestOrderService(t, orders, &stubCartRepo{}, nil, nil, time.Now())

	cases := []struct {
		name    string
		actor   Actor
		wantErr error
	}{
		{name: "owner", actor: Actor{UserID: "user-1", Role: domain.RoleCustomer}},
		{name: "other customer", actor: Actor{UserID: "user-2", Role: domain.RoleCustomer}, wantErr: ErrOrderForbidden},
		{name: "seller with line", actor: Actor{UserID: "seller-1", Role: domain.RoleSeller}},
		{name: "seller without line", actor: Actor{UserID: "seller-9", Role: domain.RoleSeller}, wantErr: ErrOrderForbidden},
		{name: "admin", actor: Actor{UserID: "admin-1", Role: domain.RoleAdmin}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.GetOrder(ctx, stored.ID, tc.actor)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v got %v", tc.wantErr, err)
			}
		})
	}

	t.Run("missing order", func(t *testing.T) {
		_, err := svc.GetOrder(ctx, "ord_missing", Actor{UserID: "admin-1", Role: domain.RoleAdmin})
		if !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound got %v", err)
		}
	})
}

func TestOrderServiceTransitionStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	stored := domain.Order{
		ID:     "ord_1",
		UserID: "user-1",
		Status: domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ProductID: "prd_1", ShopOwner: "seller-1", Quantity: 1, Price: 500},
		},
	}

	newSvc := func(updated *domain.Order, events *captureOrderEvents) OrderService {
		orders := &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return stored, nil
			},
			updateFn: func(_ context.Context, order domain.Order) error {
				if updated != nil {
					*updated = order
				}
				return nil
			},
		}
		return newTestOrderService(t, orders, &stubCartRepo{}, nil, events, now)
	}

	t.Run("seller moves pending to processing", func(t *testing.T) {
		var updated domain.Order
		events := &captureOrderEvents{}
		svc := newSvc(&updated, events)

		order, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID: "ord_1",
			Target:  domain.OrderStatusProcessing,
			Actor:   Actor{UserID: "seller-1", Role: domain.RoleSeller},
		})
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if order.Status != domain.OrderStatusProcessing {
			t.Fatalf("expected processing got %s", order.Status)
		}
		if updated.UpdatedAt != now {
			t.Fatalf("expected updatedAt %v got %v", now, updated.UpdatedAt)
		}
		if len(events.events) != 1 || events.events[0].PreviousStatus != "pending" {
			t.Fatalf("unexpected events %+v", events.events)
		}
	})

	t.Run("customer may not transition", func(t *testing.T) {
		svc := newSvc(nil, nil)
		_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID: "ord_1",
			Target:  domain.OrderStatusProcessing,
			Actor:   Actor{UserID: "user-1", Role: domain.RoleCustomer},
		})
		if !errors.Is(err, ErrOrderForbidden) {
			t.Fatalf("expected ErrOrderForbidden got %v", err)
		}
	})

	t.Run("seller may not mark paid", func(t *testing.T) {
		svc := newSvc(nil, nil)
		_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID: "ord_1",
			Target:  domain.OrderStatusPaid,
			Actor:   Actor{UserID: "seller-1", Role: domain.RoleSeller},
		})
		if !errors.Is(err, ErrOrderForbidden) {
			t.Fatalf("expected ErrOrderForbidden got %v", err)
		}
	})

	t.Run("seller may not cancel via status change", func(t *testing.T) {
		processing := stored
		processing.Status = domain.OrderStatusProcessing
		restores := 0
		orders := &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return processing, nil
			},
			updateRestoreFn: func(_ context.Context, order domain.Order) (domain.Order, error) {
				restores++
				return order, nil
			},
		}
		svc := newTestOrderService(t, orders, &stubCartRepo{}, nil, nil, now)

		_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID: "ord_1",
			Target:  domain.OrderStatusCancelled,
			Actor:   Actor{UserID: "seller-1", Role: domain.RoleSeller},
		})
		if !errors.Is(err, ErrOrderForbidden) {
			t.Fatalf("expected ErrOrderForbidden got %v", err)
		}
		if restores != 0 {
			t.Fatalf("expected no stock restore, got %d", restores)
		}
	})

	t.Run("payment confirmation lands mid fulfilment", func(t *testing.T) {
		processing := stored
		processing.Status = domain.OrderStatusProcessing
		var updated domain.Order
		orders := &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return processing, nil
			},
			updateFn: func(_ context.Context, order domain.Order) error {
				updated = order
				return nil
			},
		}
		svc := newTestOrderService(t, orders, &stubCartRepo{}, nil, nil, now)

		order, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID: "ord_1",
			Target:  domain.OrderStatusPaid,
			Actor:   Actor{UserID: "admin-1", Role: domain.RoleAdmin},
		})
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if order.Status != domain.OrderStatusPaid {
			t.Fatalf("expected paid got %s", order.Status)
		}
		if updated.PaidAt == nil || !updated.PaidAt.Equal(now) {
			t.Fatalf("expected paidAt %v got %v", now, updated.PaidAt)
		}
	})

	t.Run("seller from foreign shop is rejected", func(t *testing.T) {
		svc := newSvc(nil, nil)
		_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID: "ord_1",
			Target:  domain.OrderStatusProcessing,
			Actor:   Actor{UserID: "seller-9", Role: domain.RoleSeller},
		})
		if !errors.Is(err, ErrOrderForbidden) {
			t.Fatalf("expected ErrOrderForbidden got %v", err)
		}
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		svc := newSvc(nil, nil)
		_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID: "ord_1",
			Target:  OrderStatus("refunded"),
			Actor:   Actor{UserID: "admin-1", Role: domain.RoleAdmin},
		})
		if !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected ErrOrderInvalidInput got %v", err)
		}
	})

	t.Run("illegal hop is rejected", func(t *testing.T) {
		svc := newSvc(nil, nil)
		_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID: "ord_1",
			Target:  domain.OrderStatusDelivered,
			Actor:   Actor{UserID: "admin-1", Role: domain.RoleAdmin},
		})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition got %v", err)
		}
	})

	t.Run("transition to cancelled restores stock", func(t *testing.T) {
		var restored domain.Order
		orders := &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return stored, nil
			},
			updateRestoreFn: func(_ context.Context, order domain.Order) (domain.Order, error) {
				restored = order
				return order, nil
			},
		}
		svc := newTestOrderService(t, orders, &stubCartRepo{}, nil, nil, now)

		order, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID: "ord_1",
			Target:  domain.OrderStatusCancelled,
			Actor:   Actor{UserID: "admin-1", Role: domain.RoleAdmin},
		})
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if order.Status != domain.OrderStatusCancelled {
			t.Fatalf("expected cancelled got %s", order.Status)
		}
		if restored.CancelledAt == nil || !restored.CancelledAt.Equal(now) {
			t.Fatalf("expected cancelledAt %v got %v", now, restored.CancelledAt)
		}
	})
}

func TestOrderServiceCancel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

	makeSvc := func(order domain.Order, restored *domain.Order) OrderService {
		orders := &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return order, nil
			},
			updateRestoreFn: func(_ context.Context, o domain.Order) (domain.Order, error) {
				if restored != nil {
					*restored = o
				}
				return o, nil
			},
		}
		return newTestOrderService(t, orders, &stubCartRepo{}, nil, nil, now)
	}

	base := domain.Order{
		ID:     "ord_1",
		UserID: "user-1",
		Status: domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ProductID: "prd_1", ShopOwner: "seller-1", Quantity: 2, Price: 500},
		},
	}

	t.Run("customer cancels own pending order", func(t *testing.T) {
		var restored domain.Order
		svc := makeSvc(base, &restored)
		order, err := svc.Cancel(ctx, CancelOrderCommand{
			OrderID: "ord_1",
			Actor:   Actor{UserID: "user-1", Role: domain.RoleCustomer},
		})
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if order.Status != domain.OrderStatusCancelled {
			t.Fatalf("expected cancelled got %s", order.Status)
		}
		if restored.CancelledAt == nil {
			t.Fatalf("expected cancelledAt to be set")
		}
	})

	t.Run("customer cannot cancel shipped order", func(t *testing.T) {
		shipped := base
		shipped.Status = domain.OrderStatusShipped
		svc := makeSvc(shipped, nil)
		_, err := svc.Cancel(ctx, CancelOrderCommand{
			OrderID: "ord_1",
			Actor:   Actor{UserID: "user-1", Role: domain.RoleCustomer},
		})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition got %v", err)
		}
	})

	t.Run("seller cancels shipped order", func(t *testing.T) {
		shipped := base
		shipped.Status = domain.OrderStatusShipped
		svc := makeSvc(shipped, nil)
		if _, err := svc.Cancel(ctx, CancelOrderCommand{
			OrderID: "ord_1",
			Actor:   Actor{UserID: "seller-1", Role: domain.RoleSeller},
		}); err != nil {
			t.Fatalf("cancel: %v", err)
		}
	})

	t.Run("already cancelled", func(t *testing.T) {
		cancelled := base
		cancelled.Status = domain.OrderStatusCancelled
		svc := makeSvc(cancelled, nil)
		_, err := svc.Cancel(ctx, CancelOrderCommand{
			OrderID: "ord_1",
			Actor:   Actor{UserID: "admin-1", Role: domain.RoleAdmin},
		})
		if !errors.Is(err, ErrOrderCancelled) {
			t.Fatalf("expected ErrOrderCancelled got %v", err)
		}
	})

	t.Run("delivered is terminal", func(t *testing.T) {
		delivered := base
		delivered.Status = domain.OrderStatusDelivered
		svc := makeSvc(delivered, nil)
		_, err := svc.Cancel(ctx, CancelOrderCommand{
			OrderID: "ord_1",
			Actor:   Actor{UserID: "admin-1", Role: domain.RoleAdmin},
		})
		if !errors.Is(err, ErrOrderTerminal) {
			t.Fatalf("expected ErrOrderTerminal got %v", err)
		}
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		svc := makeSvc(base, nil)
		_, err := svc.Cancel(ctx, CancelOrderCommand{
			OrderID: "ord_1",
			Actor:   Actor{UserID: "user-9", Role: domain.RoleCustomer},
		})
		if !errors.Is(err, ErrOrderForbidden) {
			t.Fatalf("expected ErrOrderForbidden got %v", err)
		}
	})
}

func TestOrderServiceMarkPaid(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

	t.Run("marks pending order paid once", func(t *testing.T) {
		stored := domain.Order{ID: "ord_1", UserID: "user-1", Status: domain.OrderStatusPending}
		var updated domain.Order
		orders := &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return stored, nil
			},
			updateFn: func(_ context.Context, order domain.Order) error {
				updated = order
				return nil
			},
		}
		events := &captureOrderEvents{}
		svc := newTestOrderService(t, orders, &stubCartRepo{}, nil, events, now)

		order, err := svc.MarkPaid(ctx, MarkPaidCommand{OrderID: "ord_1", PaymentRef: "pay_123"})
		if err != nil {
			t.Fatalf("mark paid: %v", err)
		}
		if order.Status != domain.OrderStatusPaid {
			t.Fatalf("expected paid got %s", order.Status)
		}
		if updated.PaidAt == nil || !updated.PaidAt.Equal(now) {
			t.Fatalf("expected paidAt %v got %v", now, updated.PaidAt)
		}
		if len(events.events) != 1 || events.events[0].Type != orderEventPaid {
			t.Fatalf("expected order.paid event got %+v", events.events)
		}
		if events.events[0].Metadata["paymentRef"] != "pay_123" {
			t.Fatalf("expected payment ref metadata got %+v", events.events[0].Metadata)
		}
	})

	t.Run("duplicate confirmation is a no-op", func(t *testing.T) {
		paidAt := now.Add(-time.Hour)
		stored := domain.Order{ID: "ord_1", Status: domain.OrderStatusProcessing, PaidAt: &paidAt}
		updates := 0
		orders := &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return stored, nil
			},
			updateFn: func(context.Context, domain.Order) error {
				updates++
				return nil
			},
		}
		svc := newTestOrderService(t, orders, &stubCartRepo{}, nil, nil, now)

		order, err := svc.MarkPaid(ctx, MarkPaidCommand{OrderID: "ord_1"})
		if err != nil {
			t.Fatalf("mark paid: %v", err)
		}
		if updates != 0 {
			t.Fatalf("expected no update, got %d", updates)
		}
		if order.Status != domain.OrderStatusProcessing {
			t.Fatalf("expected status untouched got %s", order.Status)
		}
	})

	t.Run("cancelled orders cannot be paid", func(t *testing.T) {
		stored := domain.Order{ID: "ord_1", Status: domain.OrderStatusCancelled}
		orders := &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return stored, nil
			},
		}
		svc := newTestOrderService(t, orders, &stubCartRepo{}, nil, nil, now)

		_, err := svc.MarkPaid(ctx, MarkPaidCommand{OrderID: "ord_1"})
		if !errors.Is(err, ErrOrderCancelled) {
			t.Fatalf("expected ErrOrderCancelled got %v", err)
		}
	})
}
