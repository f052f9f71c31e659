package store

import (
	"testing"

	"swing-core/internal/swing"
)

func TestSaveAndLoadState(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	state := swing.State{
		PrevRSI:         42.5,
		HasPrevRSI:      true,
		ArmedShortEntry: true,
		ArmedLongExit:   true,
	}

	if err := s.SaveState("ETHUSDT", state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	loaded, ok, err := s.LoadState("ETHUSDT")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if !ok {
		t.Fatal("LoadState reported no saved state")
	}
	if loaded != state {
		t.Errorf("LoadState = %+v, want %+v", loaded, state)
	}
}

func TestLoadStateMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_, ok, err := s.LoadState("nonexistent")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a symbol with no saved state")
	}
}

func TestSaveStateOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SaveState("ETHUSDT", swing.State{PrevRSI: 10})
	_ = s.SaveState("ETHUSDT", swing.State{PrevRSI: 20})

	loaded, ok, err := s.LoadState("ETHUSDT")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if !ok || loaded.PrevRSI != 20 {
		t.Errorf("LoadState = %+v, ok=%v, want PrevRSI=20", loaded, ok)
	}
}
