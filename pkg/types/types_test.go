package types

import "testing"

func TestOrderStatusIsLive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusNew, true},
		{OrderStatusPartiallyFilled, true},
		{OrderStatusFilled, false},
		{OrderStatusCanceled, false},
		{OrderStatusRejected, false},
		{OrderStatusExpired, false},
	}

	for _, tt := range tests {
		if got := tt.status.IsLive(); got != tt.want {
			t.Errorf("OrderStatus(%q).IsLive() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusNew, false},
		{OrderStatusPartiallyFilled, false},
		{OrderStatusFilled, true},
		{OrderStatusCanceled, true},
		{OrderStatusRejected, true},
		{OrderStatusExpired, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("OrderStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestPositionSnapshotFlat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amt  float64
		want bool
	}{
		{0, true},
		{1e-6, true},
		{-1e-6, true},
		{1e-4, false},
		{-0.5, false},
		{2.0, false},
	}

	for _, tt := range tests {
		p := PositionSnapshot{PositionAmt: tt.amt}
		if got := p.Flat(); got != tt.want {
			t.Errorf("PositionSnapshot{PositionAmt: %v}.Flat() = %v, want %v", tt.amt, got, tt.want)
		}
	}
}
