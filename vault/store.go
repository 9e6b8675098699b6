// Package vault persists OTP credentials as individually encrypted files
// under one master password, and manages the master-key envelope that
// guards them.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/j3fcruz/TokenX/envelope"
	"github.com/j3fcruz/TokenX/otpauth"
)

const (
	// CredentialExt is the extension of per-credential envelope files.
	CredentialExt = ".enc"
	// MasterFile is the master-key envelope, stored beside the
	// credential files and distinguished by name only.
	MasterFile = ".master"

	maxNameLen = 255
)

var (
	ErrLocked           = errors.New("vault: locked")
	ErrNoMaster         = errors.New("vault: no master key file")
	ErrMasterExists     = errors.New("vault: master key already initialized")
	ErrWeakPassword     = errors.New("vault: master password too weak")
	ErrPasswordMismatch = errors.New("vault: passwords do not match")
	ErrPartialReencrypt = errors.New("vault: reencryption incomplete")
)

// nameSanitizer matches every byte that may not appear in an on-disk
// credential name.
var nameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._@-]`)

// Vault is one credential directory plus the unlocked session state.
// All operations that need key material fail with ErrLocked until Unlock
// or Init has succeeded. Methods serialize on an internal mutex, so a
// re-encryption sweep and a code-refresh read never interleave.
type Vault struct {
	mu  sync.Mutex
	dir string
	log *slog.Logger

	password string
	secret   []byte
	unlocked bool
	lastSeen atomic.Int64
}

// Record pairs a credential with the on-disk name it loaded from.
type Record struct {
	Name       string
	Credential otpauth.Credential
}

// LoadSummary reports the outcome of a best-effort vault load.
type LoadSummary struct {
	Loaded  int
	Skipped []string
}

// Open ensures dir exists with owner-only permissions and returns a locked
// vault rooted there. Directory creation happens here and nowhere else.
func Open(dir string, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: open %s: %w", dir, err)
	}
	return &Vault{dir: dir, log: logger}, nil
}

// Dir returns the directory this vault lives in.
func (v *Vault) Dir() string { return v.dir }

// SanitizeName maps a label to the base name of its credential file.
// Anything outside [A-Za-z0-9._@-] becomes an underscore and the result is
// capped at 255 bytes.
func SanitizeName(label string) string {
	name := nameSanitizer.ReplaceAllString(label, "_")
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

func (v *Vault) credentialPath(name string) string {
	return filepath.Join(v.dir, SanitizeName(name)+CredentialExt)
}

// Save serializes the credential to JSON, seals it under the master
// password and writes it atomically to the file addressed by name.
func (v *Vault) Save(name string, c otpauth.Credential) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.unlocked {
		return ErrLocked
	}
	if err := c.Validate(); err != nil {
		return err
	}

	plaintext, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("vault: encode %s: %w", name, err)
	}
	text, err := envelope.SealText(plaintext, v.password)
	envelope.Zero(plaintext)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(v.credentialPath(name), []byte(text), 0o600); err != nil {
		return fmt.Errorf("vault: write %s: %w", name, err)
	}
	v.log.Info("credential saved", slog.String("name", SanitizeName(name)))
	return nil
}

// Load reads and decrypts one credential. Missing file, decryption
// failure and malformed JSON are all reported to the caller; LoadAll is
// the place where they are downgraded to a skip.
func (v *Vault) Load(name string) (otpauth.Credential, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadLocked(name)
}

func (v *Vault) loadLocked(name string) (otpauth.Credential, error) {
	var c otpauth.Credential
	if !v.unlocked {
		return c, ErrLocked
	}
	data, err := os.ReadFile(v.credentialPath(name))
	if err != nil {
		return c, fmt.Errorf("vault: read %s: %w", name, err)
	}
	plaintext, err := envelope.OpenText(string(data), v.password)
	if err != nil {
		return c, err
	}
	defer envelope.Zero(plaintext)
	if err := json.Unmarshal(plaintext, &c); err != nil {
		return c, fmt.Errorf("vault: decode %s: %w", name, err)
	}
	return c, nil
}

// LoadAll decrypts every credential file it can and skips the ones it
// cannot. One corrupt or foreign-password file never aborts the rest; the
// summary carries what was skipped so the caller can surface a count.
func (v *Vault) LoadAll() ([]Record, LoadSummary, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var summary LoadSummary
	if !v.unlocked {
		return nil, summary, ErrLocked
	}
	names, err := v.namesLocked()
	if err != nil {
		return nil, summary, err
	}

	var records []Record
	for _, name := range names {
		c, err := v.loadLocked(name)
		if err != nil {
			summary.Skipped = append(summary.Skipped, name)
			v.log.Warn("credential skipped", slog.String("name", name), slog.Any("error", err))
			continue
		}
		records = append(records, Record{Name: name, Credential: c})
	}
	summary.Loaded = len(records)
	v.log.Info("vault loaded",
		slog.Int("loaded", summary.Loaded),
		slog.Int("skipped", len(summary.Skipped)))
	return records, summary, nil
}

// Names lists the credential files currently on disk, sorted.
func (v *Vault) Names() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.namesLocked()
}

func (v *Vault) namesLocked() ([]string, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, fmt.Errorf("vault: list %s: %w", v.dir, err)
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		base, ok := strings.CutSuffix(e.Name(), CredentialExt)
		return base, ok && !e.IsDir() && base != ""
	})
	sort.Strings(names)
	return names, nil
}

// Exists reports whether a credential file for this name is on disk.
func (v *Vault) Exists(name string) bool {
	_, err := os.Stat(v.credentialPath(name))
	return err == nil
}

// Delete removes one credential file.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := os.Remove(v.credentialPath(name)); err != nil {
		return fmt.Errorf("vault: delete %s: %w", name, err)
	}
	v.log.Info("credential deleted", slog.String("name", SanitizeName(name)))
	return nil
}

// ResetAll deletes every credential file, leaving the master-key file in
// place.
func (v *Vault) ResetAll() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.resetAllLocked()
}

func (v *Vault) resetAllLocked() error {
	names, err := v.namesLocked()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(v.credentialPath(name)); err != nil {
			return fmt.Errorf("vault: delete %s: %w", name, err)
		}
	}
	v.log.Info("vault reset", slog.Int("deleted", len(names)))
	return nil
}

// SealBinary wraps arbitrary bytes in a raw envelope under the session
// password. Image exports use this; credential files go through Save.
func (v *Vault) SealBinary(data []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.unlocked {
		return nil, ErrLocked
	}
	return envelope.Seal(data, v.password)
}

// OpenBinary opens a raw envelope sealed under the session password.
func (v *Vault) OpenBinary(data []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.unlocked {
		return nil, ErrLocked
	}
	return envelope.Open(data, v.password)
}

// ReencryptAll rewrites every credential file under newPassword, but only
// after every file has decrypted under oldPassword. If any file fails to
// decrypt, nothing is written and the partition of names is returned with
// ErrPartialReencrypt; the caller must then leave the master-key file
// alone. succeeded always lists the names that decrypted.
func (v *Vault) ReencryptAll(oldPassword, newPassword string) (succeeded, failed []string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reencryptAllLocked(oldPassword, newPassword)
}

func (v *Vault) reencryptAllLocked(oldPassword, newPassword string) (succeeded, failed []string, err error) {
	names, err := v.namesLocked()
	if err != nil {
		return nil, nil, err
	}

	// Stage every plaintext in memory before touching a single file.
	plaintexts := make(map[string][]byte, len(names))
	defer func() {
		for _, p := range plaintexts {
			envelope.Zero(p)
		}
	}()
	for _, name := range names {
		data, readErr := os.ReadFile(v.credentialPath(name))
		if readErr != nil {
			failed = append(failed, name)
			continue
		}
		plaintext, openErr := envelope.OpenText(string(data), oldPassword)
		if openErr != nil {
			failed = append(failed, name)
			continue
		}
		plaintexts[name] = plaintext
		succeeded = append(succeeded, name)
	}
	if len(failed) > 0 {
		v.log.Warn("reencryption aborted",
			slog.Int("decryptable", len(succeeded)),
			slog.Int("failed", len(failed)))
		return succeeded, failed, fmt.Errorf("%w: %d of %d files did not decrypt",
			ErrPartialReencrypt, len(failed), len(names))
	}

	for _, name := range succeeded {
		text, sealErr := envelope.SealText(plaintexts[name], newPassword)
		if sealErr != nil {
			return succeeded, nil, sealErr
		}
		if writeErr := atomicWriteFile(v.credentialPath(name), []byte(text), 0o600); writeErr != nil {
			return succeeded, nil, fmt.Errorf("vault: rewrite %s: %w", name, writeErr)
		}
	}
	v.log.Info("vault reencrypted", slog.Int("files", len(succeeded)))
	return succeeded, nil, nil
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "tokenx-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	_ = syncDir(dir)
	_ = os.Chmod(path, perm)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
