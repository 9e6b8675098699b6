package vault

import (
	"time"

	"github.com/j3fcruz/TokenX/envelope"
)

// The unlocked session keys every envelope operation with the master
// password, matching the stored format. The decrypted master secret is not
// that key: it is carried alongside so a format keyed by the secret
// (envelope.DeriveKeySHA512) can be served through the same session
// without another prompt. MasterKey exposes it; nothing else consumes it
// in the password-keyed format.

func (v *Vault) startSession(password string, secret []byte) {
	v.password = password
	v.secret = secret
	v.unlocked = true
	v.lastSeen.Store(time.Now().Unix())
}

func (v *Vault) lockSession() {
	v.password = ""
	envelope.Zero(v.secret)
	v.secret = nil
	v.unlocked = false
}

// Unlocked reports whether key material is resident.
func (v *Vault) Unlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unlocked
}

// Lock drops the master password and secret from memory. Subsequent
// operations fail with ErrLocked until Unlock succeeds again.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unlocked {
		v.lockSession()
		v.log.Info("vault locked")
	}
}

// Touch records user activity for the idle clock. Safe to call from any
// goroutine without taking the vault lock.
func (v *Vault) Touch() {
	v.lastSeen.Store(time.Now().Unix())
}

// IdleFor reports how long ago Touch was last called.
func (v *Vault) IdleFor(now time.Time) time.Duration {
	return time.Duration(now.Unix()-v.lastSeen.Load()) * time.Second
}

// MasterKey returns a copy of the decrypted 256-bit master secret, or nil
// when locked.
func (v *Vault) MasterKey() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.unlocked {
		return nil
	}
	return append([]byte(nil), v.secret...)
}
