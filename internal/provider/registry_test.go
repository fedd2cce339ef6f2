package provider

import (
	"errors"
	"sync"
	"testing"
)

func TestSelectForExplicitName(t *testing.T) {
	t.Parallel()

	r := NewRegistry("offline")
	r.Register(&Mock{NameValue: "alpha"})
	r.Register(&Mock{NameValue: "beta"})

	a, err := r.SelectFor(ModalityText, "beta")
	if err != nil {
		t.Fatalf("SelectFor failed: %v", err)
	}
	if a.Name() != "beta" {
		t.Errorf("expected beta, got %s", a.Name())
	}
}

func TestSelectForUnknownName(t *testing.T) {
	t.Parallel()

	r := NewRegistry("alpha")
	r.Register(&Mock{NameValue: "alpha"})

	_, err := r.SelectFor(ModalityText, "missing")
	if !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestSelectForExplicitNameUnsupportedModality(t *testing.T) {
	t.Parallel()

	r := NewRegistry("alpha")
	r.Register(&Mock{NameValue: "alpha", Modalities: []Modality{"audio"}})

	_, err := r.SelectFor(ModalityText, "alpha")
	if !errors.Is(err, ErrUnsupportedModality) {
		t.Errorf("expected ErrUnsupportedModality, got %v", err)
	}
}

func TestSelectForPrefersConfiguredDefault(t *testing.T) {
	t.Parallel()

	r := NewRegistry("beta")
	r.Register(&Mock{NameValue: "alpha"})
	r.Register(&Mock{NameValue: "beta"})

	a, err := r.SelectFor(ModalityText, "")
	if err != nil {
		t.Fatalf("SelectFor failed: %v", err)
	}
	if a.Name() != "beta" {
		t.Errorf("expected configured default beta, got %s", a.Name())
	}
}

func TestSelectForFallsBackToFirstSupporting(t *testing.T) {
	t.Parallel()

	r := NewRegistry("beta")
	r.Register(&Mock{NameValue: "alpha", Modalities: []Modality{"audio"}})
	r.Register(&Mock{NameValue: "gamma"})
	// Default "beta" is not registered at all.

	a, err := r.SelectFor(ModalityText, "")
	if err != nil {
		t.Fatalf("SelectFor failed: %v", err)
	}
	if a.Name() != "gamma" {
		t.Errorf("expected first text-capable adapter gamma, got %s", a.Name())
	}
}

func TestSelectForNoProviderForModality(t *testing.T) {
	t.Parallel()

	r := NewRegistry("alpha")
	r.Register(&Mock{NameValue: "alpha", Modalities: []Modality{"audio"}})

	_, err := r.SelectFor(ModalityText, "")
	if !errors.Is(err, ErrNoProviderForModality) {
		t.Errorf("expected ErrNoProviderForModality, got %v", err)
	}
}

func TestRegistryConcurrentReads(t *testing.T) {
	t.Parallel()

	r := NewRegistry("alpha")
	r.Register(&Mock{NameValue: "alpha"})
	r.Register(&Mock{NameValue: "beta"})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := r.SelectFor(ModalityText, ""); err != nil {
					t.Errorf("SelectFor failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
