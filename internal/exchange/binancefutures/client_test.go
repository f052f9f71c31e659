package binancefutures

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"swing-core/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dryRunClient() *Client {
	return NewClient(Config{RESTBaseURL: "http://localhost", DryRun: true}, testLogger())
}

func TestSignedParamsSignatureIsHexSHA256(t *testing.T) {
	t.Parallel()
	c := NewClient(Config{APISecret: "topsecret"}, testLogger())

	params := c.signedParams(nil)
	sig1 := params.Get("signature")

	params2 := c.signedParams(nil)
	sig2 := params2.Get("signature")

	if sig1 == "" {
		t.Fatal("expected non-empty signature")
	}
	// Signatures differ because timestamp changes, but both must be valid
	// hex of the expected length (HMAC-SHA256 -> 64 hex chars).
	if len(sig1) != 64 || len(sig2) != 64 {
		t.Errorf("signature length = %d/%d, want 64", len(sig1), len(sig2))
	}
}

func TestDryRunCreateOrder(t *testing.T) {
	t.Parallel()
	c := dryRunClient()

	ord, err := c.CreateOrder(context.Background(), types.OrderRequest{
		Symbol: "ETHUSDT", Side: types.BUY, Type: types.OrderTypeMarket, Quantity: 1.5,
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
	c := dryRunClient()
	if err := c.CancelOrder(context.Background(), "ETHUSDT", "123"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestLevelsFromRowsSkipsMalformed(t *testing.T) {
	t.Parallel()
	rows := [][]string{{"100.5", "2.0"}, {"bad"}, {"101.0", "notanumber"}}
	levels := levelsFromRows(rows)
	if len(levels) != 1 {
		t.Fatalf("expected 1 valid level, got %d", len(levels))
	}
	if levels[0].Price != "100.5" || levels[0].Quantity != 2.0 {
		t.Errorf("unexpected level: %+v", levels[0])
	}
}

func TestParseKlineRowExtractsClosePrice(t *testing.T) {
	t.Parallel()
	raw := `[1620000000000, "100.0", "110.0", "95.0", "105.25", "1000", 1620003600000]`
	var row []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	candle, err := parseKlineRow(row)
	if err != nil {
		t.Fatalf("parseKlineRow: %v", err)
	}
	if candle.Close != 105.25 {
		t.Errorf("Close = %v, want 105.25", candle.Close)
	}
	if !candle.IsClosed {
		t.Error("REST kline rows should always be treated as closed")
	}
}

func TestParseKlineRowRejectsShortRow(t *testing.T) {
	t.Parallel()
	row := []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`"1"`)}
	if _, err := parseKlineRow(row); err == nil {
		t.Error("expected error for short kline row")
	}
}

func TestIsUnknownOrderStatus(t *testing.T) {
	t.Parallel()
	if !isUnknownOrderStatus(400, `{"code":-2011,"msg":"Unknown order sent."}`) {
		t.Error("expected unknown-order detection on 400 with matching message")
	}
	if isUnknownOrderStatus(400, `{"code":-1013,"msg":"Quantity invalid."}`) {
		t.Error("did not expect unknown-order detection for unrelated 400")
	}
	if isUnknownOrderStatus(500, `{"msg":"Unknown order"}`) {
		t.Error("did not expect unknown-order detection on 5xx")
	}
}
