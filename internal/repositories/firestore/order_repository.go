package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/plazamarket/api/internal/domain"
	pfirestore "github.com/plazamarket/api/internal/platform/firestore"
	"github.com/plazamarket/api/internal/platform/pagination"
	"github.com/plazamarket/api/internal/repositories"
)

const ordersCollection = "orders"

type orderItemDocument struct {
	ID        string `firestore:"id"`
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	ShopID    string `firestore:"shopId"`
	ShopOwner string `firestore:"shopOwner"`
	Quantity  int    `firestore:"quantity"`
	Price     int64  `firestore:"price"`
}

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	UserID          string              `firestore:"userId"`
	Total           int64               `firestore:"total"`
	ShippingAddress string              `firestore:"shippingAddress"`
	Notes           string              `firestore:"notes,omitempty"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	Status          string              `firestore:"status"`
	Items           []orderItemDocument `firestore:"items"`
	// ShopOwners denormalises the owning sellers of every line so the seller
	// scoped listing can use a single array-contains predicate.
	ShopOwners  []string   `firestore:"shopOwners"`
	PaidAt      *time.Time `firestore:"paidAt,omitempty"`
	CancelledAt *time.Time `firestore:"cancelledAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
// The order aggregate is stored as a single document with embedded line items,
// so order mutations are atomic by construction; cross-document workflows
// (stock decrement, cart clearing) run inside Firestore transactions.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
	}, nil
}

// PlaceOrder atomically persists the order, decrements product stock, and
// clears the user's cart. Stock sufficiency is re-verified against the
// transactional read, so two concurrent checkouts cannot both succeed when
// their combined demand exceeds availability.
func (r *OrderRepository) PlaceOrder(ctx context.Context, req repositories.PlaceOrderRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if len(order.Items) == 0 {
		return domain.Order{}, errors.New("order repository: order has no items")
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}

		// Reads first: Firestore requires all transactional reads to precede writes.
		type stockUpdate struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		updates := make([]stockUpdate, 0, len(order.Items))
		for _, item := range order.Items {
			ref, err := r.products.DocumentRef(ctx, item.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, item.ProductID, fmt.Sprintf("product %s not found", item.ProductID), err)
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", item.ProductID, err)
			}
			if !doc.IsActive {
				return repositories.NewStockError(repositories.StockErrorProductInactive, item.ProductID, fmt.Sprintf("product %s is not available", doc.Name), nil)
			}
			if doc.StockQuantity < item.Quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, item.ProductID, fmt.Sprintf("not enough stock for product: %s", doc.Name), nil)
			}
			doc.StockQuantity -= item.Quantity
			doc.UpdatedAt = now
			updates = append(updates, stockUpdate{ref: ref, doc: doc})
		}

		cartItems := client.Collection(cartsCollection).Doc(req.ClearCartUserID).Collection(cartItemsSubcollection)
		cartRefs := make([]*firestore.DocumentRef, 0, len(order.Items))
		iter := tx.Documents(cartItems)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return err
			}
			cartRefs = append(cartRefs, snap.Ref)
		}

		for _, u := range updates {
			if err := tx.Set(u.ref, u.doc); err != nil {
				return err
			}
		}

		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		doc := newOrderDocument(order)
		doc.CreatedAt = now
		doc.UpdatedAt = now
		if err := tx.Create(orderRef, doc); err != nil {
			return err
		}

		for _, ref := range cartRefs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return domain.Order{}, stockErr
		}
		return domain.Order{}, pfirestore.WrapError("orders.place", err)
	}

	order.CreatedAt = now
	order.UpdatedAt = now
	return order, nil
}

// UpdateWithStockRestore atomically persists the updated order and returns
// each line's quantity to the product's stock ledger. The stock write is
// system initiated and bypasses ownership checks.
func (r *OrderRepository) UpdateWithStockRestore(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	now := order.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var persisted orderDocument
		if err := snap.DataTo(&persisted); err != nil {
			return fmt.Errorf("decode order %s: %w", order.ID, err)
		}
		// A concurrent cancellation may have restored stock between the
		// caller's read and this transaction. Abort instead of crediting the
		// products a second time.
		if persisted.Status == string(domain.OrderStatusCancelled) {
			return status.Errorf(codes.FailedPrecondition, "order %s is already cancelled", order.ID)
		}

		type stockUpdate struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		updates := make([]stockUpdate, 0, len(order.Items))
		for _, item := range order.Items {
			ref, err := r.products.DocumentRef(ctx, item.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, item.ProductID, fmt.Sprintf("product %s not found", item.ProductID), err)
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", item.ProductID, err)
			}
			doc.StockQuantity += item.Quantity
			doc.UpdatedAt = now
			updates = append(updates, stockUpdate{ref: ref, doc: doc})
		}

		for _, u := range updates {
			if err := tx.Set(u.ref, u.doc); err != nil {
				return err
			}
		}

		doc := newOrderDocument(order)
		doc.CreatedAt = order.CreatedAt.UTC()
		doc.UpdatedAt = now
		return tx.Set(orderRef, doc)
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return domain.Order{}, stockErr
		}
		return domain.Order{}, pfirestore.WrapError("orders.restock", err)
	}

	order.UpdatedAt = now
	return order, nil
}

// Update persists the order document without touching stock.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	doc := newOrderDocument(order)
	doc.CreatedAt = order.CreatedAt.UTC()
	doc.UpdatedAt = order.UpdatedAt.UTC()
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	if _, err := r.orders.Set(ctx, order.ID, doc); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single order aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders matching the role-scoped filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if filter.ShopOwnerID != "" {
			q = q.Where("shopOwners", "array-contains", filter.ShopOwnerID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if after, ok := decodeOrderCursor(cursor); ok {
			q = q.StartAfter(after.createdAt, after.docID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}

	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.Data.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}

	return page, nil
}

type orderCursor struct {
	createdAt time.Time
	docID     string
}

func decodeOrderCursor(cursor pagination.Cursor) (orderCursor, bool) {
	if len(cursor.StartAfter) != 2 {
		return orderCursor{}, false
	}
	raw, ok := cursor.StartAfter[0].(string)
	if !ok {
		return orderCursor{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return orderCursor{}, false
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok {
		return orderCursor{}, false
	}
	return orderCursor{createdAt: ts, docID: id}, true
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	owners := make([]string, 0, len(order.Items))
	seen := make(map[string]struct{}, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ID:        item.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			ShopID:    item.ShopID,
			ShopOwner: item.ShopOwner,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
		owner := strings.TrimSpace(item.ShopOwner)
		if owner == "" {
			continue
		}
		if _, dup := seen[owner]; !dup {
			seen[owner] = struct{}{}
			owners = append(owners, owner)
		}
	}

	doc := orderDocument{
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Total:           order.Total,
		ShippingAddress: order.ShippingAddress,
		Notes:           order.Notes,
		PaymentMethod:   order.PaymentMethod,
		Status:          string(order.Status),
		Items:           items,
		ShopOwners:      owners,
	}
	if order.PaidAt != nil {
		paidAt := order.PaidAt.UTC()
		doc.PaidAt = &paidAt
	}
	if order.CancelledAt != nil {
		cancelledAt := order.CancelledAt.UTC()
		doc.CancelledAt = &cancelledAt
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ID:        item.ID,
			OrderID:   id,
			ProductID: item.ProductID,
			Name:      item.Name,
			ShopID:    item.ShopID,
			ShopOwner: item.ShopOwner,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	return domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		UserID:          d.UserID,
		Total:           d.Total,
		ShippingAddress: d.ShippingAddress,
		Notes:           d.Notes,
		PaymentMethod:   d.PaymentMethod,
		Status:          domain.OrderStatus(d.Status),
		Items:           items,
		PaidAt:          d.PaidAt,
		CancelledAt:     d.CancelledAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
