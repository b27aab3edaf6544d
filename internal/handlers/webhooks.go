package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/plazamarket/api/internal/platform/httpx"
	"github.com/plazamarket/api/internal/services"
)

const maxWebhookBodySize = 16 * 1024

const (
	paymentEventSucceeded = "payment.succeeded"
	paymentEventFailed    = "payment.failed"
	paymentEventCancelled = "payment.cancelled"
)

type paymentWebhookRequest struct {
	Event      string `json:"event"`
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
}

// WebhookHandlers ingests callbacks from trusted integrations. Signature
// verification happens in middleware before these handlers run.
type WebhookHandlers struct {
	orders services.OrderService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{orders: orders}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.paymentCallback)
}

func (h *WebhookHandlers) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}

	switch strings.TrimSpace(req.Event) {
	case paymentEventSucceeded:
		order, err := h.orders.MarkPaid(ctx, services.MarkPaidCommand{
			OrderID:    orderID,
			PaymentRef: req.PaymentRef,
		})
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"received": true,
			"order_id": order.ID,
			"status":   string(order.Status),
		})
	case paymentEventFailed, paymentEventCancelled:
		// Acknowledged without mutation; the order stays pending and can be
		// retried or cancelled through the regular endpoints.
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"received": true,
			"order_id": orderID,
		})
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "event must be a known payment event", http.StatusBadRequest))
	}
}
