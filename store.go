package graphauth

import (
	"encoding/json"
	"fmt"
)

// Store is the key/value backend holding the persisted session facts. The
// persistence scope (session-only vs. durable) is a property of the backend
// chosen at construction, not of this interface. Implementations need not be
// safe for concurrent use beyond what their backing medium provides; the
// package performs no cross-call locking (see Session).
type Store interface {
	// Get returns the value for key. ok is false when key is absent.
	Get(key string) (value string, ok bool, err error)

	// Set stores value under key, overwriting any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// Keys returns all present keys.
	Keys() ([]string, error)

	// Has reports whether key is present.
	Has(key string) (bool, error)
}

// Storage keys for the session record. Three independent keys on the wire,
// but callers only ever see them through sessionState as one record.
const (
	keyActiveAccount = "graphauth.activeAccount"
	keyRoles         = "graphauth.roles"
	keyLoginRequired = "graphauth.loginRequired"
)

// loginRequired flag values. Absent is read as "yes": an interrupted login
// must never leave the system believing it is safely logged in.
const (
	flagYes = "yes"
	flagNo  = "no"
)

// sessionRecord is the typed view of the persisted session facts.
type sessionRecord struct {
	// AccountID is the active account's home account id, empty when no
	// account is logged in.
	AccountID string

	// Roles are the authorization roles extracted from the identity token
	// at last login. Stale until the next login.
	Roles []string

	// LoginRequired is true when the next token request must attempt
	// interactive login rather than trusting silent refresh.
	LoginRequired bool
}

// sessionState hides the raw keys behind record-level reads, an atomic
// replace and an atomic clear, so no caller can observe a partially-updated
// record.
type sessionState struct {
	store Store
}

// load reads the current record. An absent login-required flag reads as
// required.
func (s *sessionState) load() (sessionRecord, error) {
	rec := sessionRecord{LoginRequired: true}

	if v, ok, err := s.store.Get(keyActiveAccount); err != nil {
		return rec, fmt.Errorf("reading active account: %w", err)
	} else if ok {
		rec.AccountID = v
	}

	if v, ok, err := s.store.Get(keyRoles); err != nil {
		return rec, fmt.Errorf("reading roles: %w", err)
	} else if ok && v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Roles); err != nil {
			return rec, fmt.Errorf("decoding roles: %w", err)
		}
	}

	if v, ok, err := s.store.Get(keyLoginRequired); err != nil {
		return rec, fmt.Errorf("reading login-required flag: %w", err)
	} else if ok {
		rec.LoginRequired = v != flagNo
	}

	return rec, nil
}

// replace writes the whole record as a unit.
func (s *sessionState) replace(rec sessionRecord) error {
	if err := s.store.Set(keyActiveAccount, rec.AccountID); err != nil {
		return fmt.Errorf("storing active account: %w", err)
	}

	roles, err := json.Marshal(rec.Roles)
	if err != nil {
		return fmt.Errorf("encoding roles: %w", err)
	}
	if err := s.store.Set(keyRoles, string(roles)); err != nil {
		return fmt.Errorf("storing roles: %w", err)
	}

	return s.setLoginRequired(rec.LoginRequired)
}

// setLoginRequired flips only the flag, leaving account and roles alone.
func (s *sessionState) setLoginRequired(required bool) error {
	v := flagNo
	if required {
		v = flagYes
	}
	if err := s.store.Set(keyLoginRequired, v); err != nil {
		return fmt.Errorf("storing login-required flag: %w", err)
	}
	return nil
}

// clear removes all three facts as a unit.
func (s *sessionState) clear() error {
	for _, key := range []string{keyActiveAccount, keyRoles, keyLoginRequired} {
		if err := s.store.Remove(key); err != nil {
			return fmt.Errorf("clearing session: %w", err)
		}
	}
	return nil
}
