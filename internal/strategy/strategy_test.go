package strategy

import (
	"context"
	"errors"
	"testing"

	"stratlab/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) GenerateSignals(_ context.Context, bars []domain.Bar) ([]domain.Signal, error) {
	return make([]domain.Signal, len(bars)), nil
}

func stubFactory(name string) Factory {
	return func(map[string]float64) (Strategy, error) { return &stubStrategy{name: name}, nil }
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("test-strategy", stubFactory("test-strategy"))

	got, ok, err := r.Get("test-strategy", nil)
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Name() != "test-strategy" {
		t.Errorf("Get returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok, _ := r.Get("nonexistent", nil)
	if ok {
		t.Error("Get returned true for unregistered strategy")
	}
}

func TestRegistryGet_FactoryError(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", func(map[string]float64) (Strategy, error) {
		return nil, errors.New("bad params")
	})
	_, ok, err := r.Get("broken", map[string]float64{"short": -1})
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	if err == nil {
		t.Error("Get should surface the factory error")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", stubFactory("beta"))
	r.Register("alpha", stubFactory("alpha"))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}
