package onchainperp

import (
	"strings"
	"testing"
	"time"

	"swing-core/pkg/types"
)

func testWallet(t *testing.T) *Wallet {
	t.Helper()
	w, err := NewWallet(WalletConfig{
		PrivateKeyHex: "0x1111111111111111111111111111111111111111111111111111111111111111",
		ChainID:       137,
	})
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	return w
}

func TestSignOrderProducesValidSignature(t *testing.T) {
	t.Parallel()
	w := testWallet(t)

	order, err := w.SignOrder(types.OrderRequest{
		Symbol: "ETH-PERP", Side: types.BUY, Quantity: 1.5, Price: 2500,
	}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}

	if order.Signature == "" || !strings.HasPrefix(order.Signature, "0x") {
		t.Errorf("signature = %q, want non-empty 0x-prefixed signature", order.Signature)
	}
	if order.Salt == "" {
		t.Error("expected non-empty salt")
	}
	if order.Nonce != "0" {
		t.Errorf("nonce = %q, want 0", order.Nonce)
	}
	if order.Maker != w.funderAddress.Hex() {
		t.Errorf("maker = %q, want funder address", order.Maker)
	}
	if order.Signer != w.address.Hex() {
		t.Errorf("signer = %q, want signer address", order.Signer)
	}
}

func TestSignOrderSaltsAreUnique(t *testing.T) {
	t.Parallel()
	w := testWallet(t)
	req := types.OrderRequest{Symbol: "ETH-PERP", Side: types.SELL, Quantity: 1, Price: 100}

	a, err := w.SignOrder(req, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	time.Sleep(time.Microsecond)
	b, err := w.SignOrder(req, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if a.Salt == b.Salt {
		t.Error("expected distinct salts across signings")
	}
}

func TestPriceToAmountsBuy(t *testing.T) {
	t.Parallel()
	maker, taker := PriceToAmounts(2000, 1.5, types.BUY)

	wantMaker := int64(3000_000000) // cost = 1.5 * 2000 = 3000 USDC, scaled 1e6
	wantTaker := int64(1_500000)    // qty = 1.5, scaled 1e6

	if maker.Int64() != wantMaker {
		t.Errorf("makerAmt = %d, want %d", maker.Int64(), wantMaker)
	}
	if taker.Int64() != wantTaker {
		t.Errorf("takerAmt = %d, want %d", taker.Int64(), wantTaker)
	}
}

func TestPriceToAmountsSellIsMirrored(t *testing.T) {
	t.Parallel()
	buyMaker, buyTaker := PriceToAmounts(2000, 1.5, types.BUY)
	sellMaker, sellTaker := PriceToAmounts(2000, 1.5, types.SELL)

	// BUY gives (cost, qty); SELL gives (qty, revenue) — same two amounts,
	// swapped.
	if sellMaker.Cmp(buyTaker) != 0 {
		t.Errorf("SELL makerAmt = %d, want BUY takerAmt = %d", sellMaker, buyTaker)
	}
	if sellTaker.Cmp(buyMaker) != 0 {
		t.Errorf("SELL takerAmt = %d, want BUY makerAmt = %d", sellTaker, buyMaker)
	}
}

func TestNewWalletRejectsInvalidKey(t *testing.T) {
	t.Parallel()
	_, err := NewWallet(WalletConfig{PrivateKeyHex: "not-hex"})
	if err == nil {
		t.Fatal("expected error for invalid private key")
	}
}

func TestNewWalletUsesSignerAsFunderByDefault(t *testing.T) {
	t.Parallel()
	w := testWallet(t)
	if w.funderAddress != w.address {
		t.Error("expected funder address to default to signer address")
	}
}
