package common

import (
	"errors"
	"testing"

	"nhbcdp/crypto"
)

type memWards map[string]bool

func (m memWards) IsWard(module string, addr crypto.Address) (bool, error) {
	return m[module+"/"+addr.Key()], nil
}

func (m memWards) SetWard(module string, addr crypto.Address, ward bool) error {
	m[module+"/"+addr.Key()] = ward
	return nil
}

func TestAuthRelyDeny(t *testing.T) {
	store := memWards{}
	auth := NewAuth("vat", store)
	admin := crypto.ModuleAddress("admin")
	user := crypto.ModuleAddress("user")

	if err := auth.Rely(admin, user); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized before bootstrap, got %v", err)
	}
	if err := auth.Bootstrap(admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := auth.Rely(admin, user); err != nil {
		t.Fatalf("rely: %v", err)
	}
	if err := auth.Require(user); err != nil {
		t.Fatalf("expected user to be ward: %v", err)
	}
	if err := auth.Deny(user, admin); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if err := auth.Require(admin); !errors.Is(err, ErrNotWard) {
		t.Fatalf("expected ErrNotWard, got %v", err)
	}

	// Ward sets are scoped per module.
	other := NewAuth("jug", store)
	if err := other.Require(user); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected wards to be module scoped, got %v", err)
	}
}

func TestAuthRejectsZeroAddress(t *testing.T) {
	auth := NewAuth("vat", memWards{})
	if err := auth.Bootstrap(crypto.Address{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if ok, _ := auth.IsWard(crypto.Address{}); ok {
		t.Fatalf("zero address is never a ward")
	}
}

type stubPauseView map[string]bool

func (s stubPauseView) IsPaused(module string) bool { return s[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, "cdp"); err != nil {
		t.Fatalf("nil pause view must allow: %v", err)
	}
	if err := Guard(stubPauseView{"cdp": true}, "cdp"); !errors.Is(err, ErrModulePaused) || !errors.Is(err, ErrState) {
		t.Fatalf("expected paused state error, got %v", err)
	}
	if err := Guard(stubPauseView{"vat": true}, "cdp"); err != nil {
		t.Fatalf("other module pause must not block: %v", err)
	}
}
