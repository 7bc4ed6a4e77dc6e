package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/scrypt"

	"github.com/tradewerk/broker-router/internal/audit"
	routererrors "github.com/tradewerk/broker-router/internal/errors"
)

var (
	ErrVaultLocked    = routererrors.New(routererrors.CategoryVault, "vault", "get_secret", "vault is locked")
	ErrSecretNotFound = routererrors.New(routererrors.CategoryVault, "vault", "get_secret", "secret not found")
	ErrDecryption     = routererrors.New(routererrors.CategoryVault, "vault", "unlock", "decryption failed")
)

// Secret holds per-broker credentials. Values are never written to logs
// or audit records.
type Secret struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// envelope is the on-disk form of the vault: scrypt parameters, salt,
// nonce and the AES-256-GCM ciphertext of the secrets document.
type envelope struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	ScryptN    int    `json:"scrypt_n"`
	ScryptR    int    `json:"scrypt_r"`
	ScryptP    int    `json:"scrypt_p"`
}

const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
	keyLen  = 32
)

// Vault provides controlled retrieval of per-broker secrets. Unlock happens
// once per process; after that GetSecret is read-only and safe for
// concurrent callers.
type Vault struct {
	mu       sync.RWMutex
	secrets  map[string]Secret
	unlocked bool
	auditLog audit.Logger
}

// New creates a locked vault that emits one audit record per secret access.
func New(auditLog audit.Logger) *Vault {
	return &Vault{auditLog: auditLog}
}

// Unlock decrypts the vault file with the supplied master key. The derived
// key material is zeroed before Unlock returns, regardless of outcome. A
// second Unlock on an already-open vault is rejected.
func (v *Vault) Unlock(path string, masterKey []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unlocked {
		return routererrors.New(routererrors.CategoryVault, "vault", "unlock", "vault already unlocked")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return routererrors.NewVaultError("vault", "unlock", fmt.Errorf("failed to read vault file: %w", err))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return routererrors.NewVaultError("vault", "unlock", fmt.Errorf("malformed vault file: %w", err))
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return ErrDecryption
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return ErrDecryption
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return ErrDecryption
	}

	key, err := scrypt.Key(masterKey, salt, env.ScryptN, env.ScryptR, env.ScryptP, keyLen)
	if err != nil {
		return routererrors.NewVaultError("vault", "unlock", err)
	}
	defer zero(key)

	plaintext, err := open(key, nonce, ciphertext)
	if err != nil {
		return ErrDecryption
	}
	defer zero(plaintext)

	secrets := make(map[string]Secret)
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return ErrDecryption
	}

	v.secrets = secrets
	v.unlocked = true
	return nil
}

// GetSecret returns the credentials for a broker. Every call emits an audit
// record with the broker id and caller, never the secret value.
func (v *Vault) GetSecret(brokerID, caller string) (Secret, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	detail := "caller=" + caller

	if !v.unlocked {
		v.auditLog.Append("vault", audit.ActionSecretAccess, brokerID, "vault_locked", detail)
		return Secret{}, ErrVaultLocked
	}

	secret, ok := v.secrets[brokerID]
	if !ok {
		v.auditLog.Append("vault", audit.ActionSecretAccess, brokerID, "not_found", detail)
		return Secret{}, ErrSecretNotFound
	}

	v.auditLog.Append("vault", audit.ActionSecretAccess, brokerID, "ok", detail)
	return secret, nil
}

// Seal writes an encrypted vault file for the given secrets. Used by
// operator tooling to provision credentials; the router itself only reads.
func Seal(path string, masterKey []byte, secrets map[string]Secret) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to encode secrets: %w", err)
	}
	defer zero(plaintext)

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key(masterKey, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return fmt.Errorf("key derivation failed: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	env := envelope{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
		ScryptN:    scryptN,
		ScryptR:    scryptR,
		ScryptP:    scryptP,
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func open(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size %d", len(nonce))
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
