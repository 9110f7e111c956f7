package common

import (
	"fmt"

	"nhbcdp/crypto"
)

// ErrNotWard is returned when a configuration entry point is invoked by an
// address outside the module's ward set.
var ErrNotWard = fmt.Errorf("not authorized: %w", ErrUnauthorized)

// WardStore persists the ward relation for every module. Each module owns an
// independent set keyed by its name.
type WardStore interface {
	IsWard(module string, addr crypto.Address) (bool, error)
	SetWard(module string, addr crypto.Address, ward bool) error
}

// Auth is the ward capability composed by the ledger modules. The zero value
// rejects every caller.
type Auth struct {
	Module string
	Store  WardStore
}

// NewAuth binds the ward set of module to store.
func NewAuth(module string, store WardStore) Auth {
	return Auth{Module: module, Store: store}
}

// Require fails unless caller is a ward of the module.
func (a Auth) Require(caller crypto.Address) error {
	ok, err := a.IsWard(caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", a.Module, ErrNotWard)
	}
	return nil
}

// IsWard reports membership without failing.
func (a Auth) IsWard(addr crypto.Address) (bool, error) {
	if a.Store == nil || a.Module == "" {
		return false, nil
	}
	if addr.IsZero() {
		return false, nil
	}
	return a.Store.IsWard(a.Module, addr)
}

// Rely grants ward status to usr. Only existing wards may extend the set.
func (a Auth) Rely(caller, usr crypto.Address) error {
	if err := a.Require(caller); err != nil {
		return err
	}
	return a.set(usr, true)
}

// Deny revokes ward status from usr.
func (a Auth) Deny(caller, usr crypto.Address) error {
	if err := a.Require(caller); err != nil {
		return err
	}
	return a.set(usr, false)
}

// Bootstrap installs a ward without an authorising caller. It exists for
// deployment wiring only and is never reachable from an external entry point.
func (a Auth) Bootstrap(usr crypto.Address) error {
	return a.set(usr, true)
}

func (a Auth) set(usr crypto.Address, ward bool) error {
	if a.Store == nil {
		return fmt.Errorf("%s: ward store not configured: %w", a.Module, ErrState)
	}
	if usr.IsZero() {
		return fmt.Errorf("%s: zero address: %w", a.Module, ErrInvalidInput)
	}
	return a.Store.SetWard(a.Module, usr, ward)
}
