package onchainperp

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"swing-core/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dryRunClient(t *testing.T) *Client {
	t.Helper()
	w := testWallet(t)
	return NewClient(Config{RESTBaseURL: "http://localhost", DryRun: true}, w, testLogger())
}

func TestDryRunCreateOrder(t *testing.T) {
	t.Parallel()
	c := dryRunClient(t)

	ord, err := c.CreateOrder(context.Background(), types.OrderRequest{
		Symbol: "ETH-PERP", Side: types.BUY, Type: types.OrderTypeMarket, Quantity: 1,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if ord.OrderID == "" {
		t.Error("expected non-empty dry-run order id")
	}
	if ord.Status != types.OrderStatusNew {
		t.Errorf("Status = %q, want NEW", ord.Status)
	}
}

func TestDryRunCancelOrder(t *testing.T) {
	t.Parallel()
	c := dryRunClient(t)
	if err := c.CancelOrder(context.Background(), "ETH-PERP", "1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestDryRunCancelAllOrders(t *testing.T) {
	t.Parallel()
	c := dryRunClient(t)
	if err := c.CancelAllOrders(context.Background(), "ETH-PERP"); err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
}

func TestLevelsFromRowsSkipsMalformed(t *testing.T) {
	t.Parallel()
	rows := [][]string{{"2500.0", "1.0"}, {"bad"}, {"2501.0", "notanumber"}}
	levels := levelsFromRows(rows)
	if len(levels) != 1 {
		t.Fatalf("expected 1 valid level, got %d", len(levels))
	}
}
