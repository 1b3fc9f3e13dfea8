//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/lacehouse/store-api/internal/domain"
	pconfig "github.com/lacehouse/store-api/internal/platform/config"
	pfirestore "github.com/lacehouse/store-api/internal/platform/firestore"
	"github.com/lacehouse/store-api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestStoreRepositoriesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "lacehouse-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	registry, err := NewRegistry(provider, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	t.Run("stock decrements never oversell", func(t *testing.T) {
		products := registry.Products()
		seedProduct(t, ctx, registry.products, "lace-1", 5)

		const buyers = 12
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		wg.Add(buyers)
		for i := 0; i < buyers; i++ {
			go func() {
				defer wg.Done()
				_, err := products.AdjustStock(ctx, []domain.StockAdjustment{{
					ProductID: "lace-1",
					Variant:   domain.VariantSelector{Color: "Gold"},
					Delta:     -1,
				}})
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				var stockErr *repositories.StockError
				if !errors.As(err, &stockErr) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if succeeded != 5 {
			t.Fatalf("expected exactly 5 successful decrements, got %d", succeeded)
		}
		product, err := products.FindByID(ctx, "lace-1")
		if err != nil {
			t.Fatalf("find product: %v", err)
		}
		if product.Variants[0].Stock != 0 || product.TotalStock != 0 {
			t.Fatalf("expected stock drained to zero, got %+v", product.Variants[0])
		}
		if product.Status != domain.ProductStatusOutOfStock {
			t.Fatalf("expected out_of_stock, got %s", product.Status)
		}
	})

	t.Run("multi line batch is all or nothing", func(t *testing.T) {
		products := registry.Products()
		seedProduct(t, ctx, registry.products, "lace-2", 3)
		seedProduct(t, ctx, registry.products, "lace-3", 1)

		_, err := products.AdjustStock(ctx, []domain.StockAdjustment{
			{ProductID: "lace-2", Variant: domain.VariantSelector{Color: "Gold"}, Delta: -2},
			{ProductID: "lace-3", Variant: domain.VariantSelector{Color: "Gold"}, Delta: -2},
		})
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) || stockErr.ProductID != "lace-3" {
			t.Fatalf("expected stock error for lace-3, got %v", err)
		}
		product, err := products.FindByID(ctx, "lace-2")
		if err != nil {
			t.Fatalf("find product: %v", err)
		}
		if product.Variants[0].Stock != 3 {
			t.Fatalf("expected lace-2 untouched, got %d", product.Variants[0].Stock)
		}
	})

	t.Run("order update detects concurrent modification", func(t *testing.T) {
		orders := registry.Orders()
		created := time.Now().UTC().Truncate(time.Millisecond)
		order := domain.Order{
			ID:          "order-1",
			OrderNumber: "LH-2026-000001",
			UserID:      "user-1",
			Status:      domain.OrderStatusPending,
			Payment:     domain.OrderPayment{Reference: "LH-PAY-1", Status: domain.PaymentStatusPending},
			Timestamped: domain.Timestamped{CreatedAt: created, UpdatedAt: created},
		}
		if err := orders.Insert(ctx, order); err != nil {
			t.Fatalf("insert: %v", err)
		}

		next := order
		next.Status = domain.OrderStatusCancelled
		next.UpdatedAt = created.Add(time.Second)
		if err := orders.Update(ctx, next, created); err != nil {
			t.Fatalf("first update: %v", err)
		}
		err := orders.Update(ctx, next, created)
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("expected conflict on stale update, got %v", err)
		}

		found, err := orders.FindByPaymentReference(ctx, "LH-PAY-1")
		if err != nil {
			t.Fatalf("find by reference: %v", err)
		}
		if found.Status != domain.OrderStatusCancelled {
			t.Fatalf("expected cancelled, got %s", found.Status)
		}
	})

	t.Run("payment reference is claimed by exactly one order", func(t *testing.T) {
		orders := registry.Orders()
		created := time.Now().UTC().Truncate(time.Millisecond)
		const workers = 4
		errs := make([]error, workers)
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func(idx int) {
				defer wg.Done()
				errs[idx] = orders.Insert(ctx, domain.Order{
					ID:          fmt.Sprintf("order-shared-%d", idx),
					OrderNumber: fmt.Sprintf("LH-2026-%06d", 100+idx),
					UserID:      "user-1",
					Status:      domain.OrderStatusPending,
					Payment:     domain.OrderPayment{Reference: "client/ref-7", Status: domain.PaymentStatusPending},
					Timestamped: domain.Timestamped{CreatedAt: created, UpdatedAt: created},
				})
			}(i)
		}
		wg.Wait()

		inserted := 0
		for i, err := range errs {
			switch {
			case err == nil:
				inserted++
			case errors.Is(err, repositories.ErrPaymentReferenceInUse):
			default:
				t.Fatalf("insert %d: unexpected error %v", i, err)
			}
		}
		if inserted != 1 {
			t.Fatalf("expected exactly one order to claim the reference, got %d", inserted)
		}
	})

	t.Run("counter hands out a gap free sequence", func(t *testing.T) {
		counters := registry.Counters()
		const workers = 16
		results := make([]int64, workers)
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func(idx int) {
				defer wg.Done()
				value, err := counters.Next(ctx, "orders:2026", 1)
				if err != nil {
					t.Errorf("next(%d): %v", idx, err)
					return
				}
				results[idx] = value
			}(i)
		}
		wg.Wait()

		sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
		for i, val := range results {
			if val != int64(i+1) {
				t.Fatalf("expected %d at position %d, got %d", i+1, i, val)
			}
		}
	})

	t.Run("notifications mark all read", func(t *testing.T) {
		notifications := registry.Notifications()
		now := time.Now().UTC()
		for i, recipient := range []string{"user-1", "user-1", domain.AdminRecipient} {
			if err := notifications.Insert(ctx, domain.Notification{
				ID:          fmt.Sprintf("n-%d", i),
				RecipientID: recipient,
				Type:        domain.NotificationOrderPlaced,
				Title:       "Order placed",
				CreatedAt:   now.Add(time.Duration(i) * time.Second),
			}); err != nil {
				t.Fatalf("insert notification: %v", err)
			}
		}
		updated, err := notifications.MarkAllRead(ctx, []string{"user-1"}, now)
		if err != nil {
			t.Fatalf("mark all read: %v", err)
		}
		if updated != 2 {
			t.Fatalf("expected 2 updated, got %d", updated)
		}
		page, err := notifications.List(ctx, repositories.NotificationListFilter{
			RecipientIDs: []string{"user-1", domain.AdminRecipient},
			UnreadOnly:   true,
		})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if page.Total != 1 || page.Items[0].RecipientID != domain.AdminRecipient {
			t.Fatalf("expected only the admin notification unread, got %+v", page.Items)
		}
	})
}

func seedProduct(t *testing.T, ctx context.Context, repo *ProductRepository, id string, stock int) {
	t.Helper()
	now := time.Now().UTC()
	product := domain.Product{
		ID:               id,
		Name:             "Guipure lace " + id,
		BasePrice:        450000,
		Currency:         "NGN",
		Unit:             "yard",
		MinOrderQuantity: 1,
		Status:           domain.ProductStatusActive,
		Variants: []domain.ProductVariant{
			{SKU: strings.ToUpper(id) + "-GLD", Color: "Gold", Stock: stock, Available: true},
		},
		Timestamped: domain.Timestamped{CreatedAt: now, UpdatedAt: now},
	}
	product.RecountStock()
	if err := repo.base.Set(ctx, id, productToDocument(product)); err != nil {
		t.Fatalf("seed product %s: %v", id, err)
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
	out, err := exec.Command("docker", args...).CombinedOutput()
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

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
