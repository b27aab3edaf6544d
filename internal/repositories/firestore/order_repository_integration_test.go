//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/plazamarket/api/internal/domain"
	pconfig "github.com/plazamarket/api/internal/platform/config"
	pfirestore "github.com/plazamarket/api/internal/platform/firestore"
	"github.com/plazamarket/api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestOrderRepositoryPlaceOrderIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	defer stopContainer(containerID)
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "test-project",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	products, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("product repository: %v", err)
	}
	carts, err := NewCartRepository(provider, products)
	if err != nil {
		t.Fatalf("cart repository: %v", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("order repository: %v", err)
	}

	now := time.Now().UTC()
	if _, err := products.Upsert(ctx, domain.Product{
		ID: "prd_1", Name: "Mug", Price: 500, StockQuantity: 5,
		ShopID: "shp_1", IsActive: true, CreatedAt: now,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	if _, err := carts.UpsertItem(ctx, domain.CartItem{
		UserID: "user-1", ProductID: "prd_1", Quantity: 2, CreatedAt: now,
	}); err != nil {
		t.Fatalf("seed cart item: %v", err)
	}

	order := domain.Order{
		ID:              "ord_1",
		OrderNumber:     "PM-2025-000001",
		UserID:          "user-1",
		Total:           1000,
		ShippingAddress: "1 Market Street",
		PaymentMethod:   "card",
		Status:          domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ID: "ori_1", OrderID: "ord_1", ProductID: "prd_1", Name: "Mug", ShopID: "shp_1", ShopOwner: "seller-1", Quantity: 2, Price: 500},
		},
	}

	placed, err := orders.PlaceOrder(ctx, repositories.PlaceOrderRequest{
		Order:           order,
		ClearCartUserID: "user-1",
		Now:             now,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if placed.CreatedAt.IsZero() {
		t.Fatalf("expected created timestamp to be set")
	}

	product, err := products.FindByID(ctx, "prd_1")
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if product.StockQuantity != 3 {
		t.Fatalf("expected stock 3 after placement, got %d", product.StockQuantity)
	}

	lines, err := carts.ListLines(ctx, "user-1")
	if err != nil {
		t.Fatalf("list cart lines: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected cart to be cleared, got %d lines", len(lines))
	}

	// A second placement for the remaining stock plus one must lose.
	oversized := order
	oversized.ID = "ord_2"
	oversized.Items = []domain.OrderItem{
		{ID: "ori_2", OrderID: "ord_2", ProductID: "prd_1", Name: "Mug", ShopID: "shp_1", ShopOwner: "seller-1", Quantity: 4, Price: 500},
	}
	if _, err := orders.PlaceOrder(ctx, repositories.PlaceOrderRequest{
		Order:           oversized,
		ClearCartUserID: "user-1",
		Now:             now,
	}); err == nil {
		t.Fatalf("expected stock error")
	} else {
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) {
			t.Fatalf("expected StockError, got %v", err)
		}
		if stockErr.Code != repositories.StockErrorInsufficient {
			t.Fatalf("expected insufficient stock code, got %v", stockErr.Code)
		}
	}

	// Cancellation restores stock.
	cancelled := placed
	cancelled.Status = domain.OrderStatusCancelled
	cancelledAt := now.Add(time.Minute)
	cancelled.CancelledAt = &cancelledAt
	cancelled.UpdatedAt = cancelledAt
	if _, err := orders.UpdateWithStockRestore(ctx, cancelled); err != nil {
		t.Fatalf("restore stock: %v", err)
	}

	product, err = products.FindByID(ctx, "prd_1")
	if err != nil {
		t.Fatalf("reload product after restore: %v", err)
	}
	if product.StockQuantity != 5 {
		t.Fatalf("expected stock 5 after restore, got %d", product.StockQuantity)
	}

	// A second restore against the already cancelled order must not credit
	// the stock again.
	if _, err := orders.UpdateWithStockRestore(ctx, cancelled); err == nil {
		t.Fatalf("expected repeated restore to fail")
	} else {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("expected conflict error, got %v", err)
		}
	}

	product, err = products.FindByID(ctx, "prd_1")
	if err != nil {
		t.Fatalf("reload product after repeated restore: %v", err)
	}
	if product.StockQuantity != 5 {
		t.Fatalf("expected stock unchanged at 5, got %d", product.StockQuantity)
	}

	page, err := orders.List(ctx, repositories.OrderListFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_1" {
		t.Fatalf("unexpected listing %+v", page.Items)
	}
	if page.Items[0].Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", page.Items[0].Status)
	}

	sellerPage, err := orders.List(ctx, repositories.OrderListFilter{ShopOwnerID: "seller-1"})
	if err != nil {
		t.Fatalf("list seller orders: %v", err)
	}
	if len(sellerPage.Items) != 1 {
		t.Fatalf("expected seller scoped listing to match, got %d", len(sellerPage.Items))
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
