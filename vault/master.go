package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/j3fcruz/TokenX/envelope"
	"github.com/j3fcruz/TokenX/strength"
)

// masterSecretLen is the size of the random secret wrapped by the
// master-key envelope.
const masterSecretLen = 32

func (v *Vault) masterPath() string {
	return filepath.Join(v.dir, MasterFile)
}

// HasMaster reports whether the master-key file exists, which decides
// between first-run setup and unlock.
func (v *Vault) HasMaster() bool {
	_, err := os.Stat(v.masterPath())
	return err == nil
}

// Init performs first-run setup: the password must match its confirmation
// and pass the strength gate, then a fresh 256-bit master secret is sealed
// under it and persisted. The vault is unlocked afterwards.
func (v *Vault) Init(password, confirm string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.HasMaster() {
		return ErrMasterExists
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	if !strength.Acceptable(password) {
		return ErrWeakPassword
	}

	secret, err := envelope.RandBytes(masterSecretLen)
	if err != nil {
		return fmt.Errorf("vault: generate master secret: %w", err)
	}
	if err := v.writeMasterLocked(secret, password); err != nil {
		return err
	}
	v.startSession(password, secret)
	v.log.Info("master key initialized")
	return nil
}

// Unlock opens the master-key envelope with the given password. A
// decryption failure here is terminal for the caller's session: report it
// and exit, never retry silently.
func (v *Vault) Unlock(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	secret, err := v.openMasterLocked(password)
	if err != nil {
		return err
	}
	v.startSession(password, secret)
	v.log.Info("vault unlocked")
	return nil
}

// ChangeMaster rotates the vault to a new master password: the current
// password is verified against the master envelope, the new one is gated,
// every credential file is re-encrypted in a staged sweep, and only then
// is the master envelope resealed. When any credential fails to decrypt
// the failing names are returned and nothing on disk changes.
func (v *Vault) ChangeMaster(current, newPassword, confirm string) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	secret, err := v.openMasterLocked(current)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(secret)
	if newPassword != confirm {
		return nil, ErrPasswordMismatch
	}
	if !strength.Acceptable(newPassword) {
		return nil, ErrWeakPassword
	}

	succeeded, failed, err := v.reencryptAllLocked(current, newPassword)
	if err != nil {
		return failed, err
	}
	// Same secret, new password. The master file changes only after every
	// credential file has been rewritten.
	if err := v.writeMasterLocked(secret, newPassword); err != nil {
		return nil, err
	}
	v.startSession(newPassword, append([]byte(nil), secret...))
	v.log.Info("master password changed", slog.Int("reencrypted", len(succeeded)))
	return nil, nil
}

// ResetVault deletes every credential file and the master-key file, then
// locks. The next start is a first run.
func (v *Vault) ResetVault() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.resetAllLocked(); err != nil {
		return err
	}
	if err := os.Remove(v.masterPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("vault: delete master: %w", err)
	}
	v.lockSession()
	v.log.Info("vault destroyed")
	return nil
}

func (v *Vault) writeMasterLocked(secret []byte, password string) error {
	encoded := base64.URLEncoding.EncodeToString(secret)
	text, err := envelope.SealText([]byte(encoded), password)
	if err != nil {
		return fmt.Errorf("vault: seal master: %w", err)
	}
	if err := atomicWriteFile(v.masterPath(), []byte(text), 0o600); err != nil {
		return fmt.Errorf("vault: write master: %w", err)
	}
	return nil
}

func (v *Vault) openMasterLocked(password string) ([]byte, error) {
	data, err := os.ReadFile(v.masterPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoMaster
	}
	if err != nil {
		return nil, fmt.Errorf("vault: read master: %w", err)
	}
	encoded, err := envelope.OpenText(string(data), password)
	if err != nil {
		return nil, err
	}
	secret, err := base64.URLEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("vault: master secret malformed: %w", err)
	}
	return secret, nil
}
