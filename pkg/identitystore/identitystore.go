package identitystore

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	// FormatVersion is the current on-disk format version.
	FormatVersion = "1.0"
	// KDF is the key derivation function name recorded in the file.
	KDF = "pbkdf2-hmac-sha256"
	// Cipher is the symmetric cipher name recorded in the file.
	Cipher = "aes-256-gcm"
)

var (
	ErrInvalidFormatVersion = errors.New("identitystore: invalid or unsupported format version")
	ErrInvalidKDF           = errors.New("identitystore: invalid or unsupported KDF")
	ErrInvalidCipher        = errors.New("identitystore: invalid or unsupported cipher")
	ErrInvalidFile          = errors.New("identitystore: invalid file format")
)

// Identity is a node's static cryptographic identity: the long-lived
// static-KEM keypair peers encapsulate against in CreateInitiation, and
// a signature keypair of SignatureScheme. The handshake does not sign or
// verify with the signature keypair.
type Identity struct {
	SignatureScheme   string
	StaticPublicKey   []byte
	StaticPrivateKey  []byte
	SigningPublicKey  []byte
	SigningPrivateKey []byte
	CreatedAt         time.Time
}

// fileFormat is the JSON structure persisted to disk.
type fileFormat struct {
	Version    string    `json:"version"`
	KDF        string    `json:"kdf"`
	Iterations int       `json:"iterations"`
	Salt       string    `json:"salt"`
	Cipher     string    `json:"cipher"`
	IV         string    `json:"iv"`
	Ciphertext string    `json:"ciphertext"`
}

// payload is the plaintext JSON structure, encrypted inside fileFormat.
type payload struct {
	SignatureScheme   string `json:"signature_scheme"`
	StaticPublicKey   string `json:"static_public_key"`
	StaticPrivateKey  string `json:"static_private_key"`
	SigningPublicKey  string `json:"signing_public_key"`
	SigningPrivateKey string `json:"signing_private_key"`
	CreatedAt         string `json:"created_at"`
}

// Save encrypts id under passphrase and writes it to path with 0600
// permissions.
func Save(id *Identity, passphrase string, path string) error {
	if id == nil {
		return fmt.Errorf("identity cannot be nil")
	}
	if err := ValidatePassphrase(passphrase); err != nil {
		return fmt.Errorf("invalid passphrase: %w", err)
	}

	p := payload{
		SignatureScheme:   id.SignatureScheme,
		StaticPublicKey:   base64.StdEncoding.EncodeToString(id.StaticPublicKey),
		StaticPrivateKey:  base64.StdEncoding.EncodeToString(id.StaticPrivateKey),
		SigningPublicKey:  base64.StdEncoding.EncodeToString(id.SigningPublicKey),
		SigningPrivateKey: base64.StdEncoding.EncodeToString(id.SigningPrivateKey),
		CreatedAt:         id.CreatedAt.Format(time.RFC3339),
	}

	plaintext, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	var salt [SaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := DeriveKey(passphrase, salt[:], DefaultIterations)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	encrypted, err := Encrypt(plaintext, key)
	for i := range key {
		key[i] = 0
	}
	if err != nil {
		return fmt.Errorf("failed to encrypt identity: %w", err)
	}

	file := fileFormat{
		Version:    FormatVersion,
		KDF:        KDF,
		Iterations: DefaultIterations,
		Salt:       base64.StdEncoding.EncodeToString(salt[:]),
		Cipher:     Cipher,
		IV:         base64.StdEncoding.EncodeToString(encrypted.IV[:]),
		Ciphertext: base64.StdEncoding.EncodeToString(encrypted.Ciphertext),
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity file: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Load decrypts and loads an Identity from path.
func Load(passphrase string, path string) (*Identity, error) {
	if err := ValidatePassphrase(passphrase); err != nil {
		return nil, fmt.Errorf("invalid passphrase: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	var file fileFormat
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if file.Version != FormatVersion {
		return nil, fmt.Errorf("%w: got %s, expected %s", ErrInvalidFormatVersion, file.Version, FormatVersion)
	}
	if file.KDF != KDF {
		return nil, fmt.Errorf("%w: got %s, expected %s", ErrInvalidKDF, file.KDF, KDF)
	}
	if file.Cipher != Cipher {
		return nil, fmt.Errorf("%w: got %s, expected %s", ErrInvalidCipher, file.Cipher, Cipher)
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding salt: %v", ErrInvalidFile, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(file.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding ciphertext: %v", ErrInvalidFile, err)
	}
	ivBytes, err := base64.StdEncoding.DecodeString(file.IV)
	if err != nil || len(ivBytes) != IVSize {
		return nil, fmt.Errorf("%w: decoding IV", ErrInvalidFile)
	}
	var iv [IVSize]byte
	copy(iv[:], ivBytes)

	key, err := DeriveKey(passphrase, salt, file.Iterations)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	plaintext, err := Decrypt(&EncryptedData{Ciphertext: ciphertext, IV: iv}, key)
	for i := range key {
		key[i] = 0
	}
	if err != nil {
		return nil, fmt.Errorf("wrong passphrase or corrupted identity file: %w", err)
	}

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	id := &Identity{SignatureScheme: p.SignatureScheme}
	for _, f := range []struct {
		dst *[]byte
		src string
	}{
		{&id.StaticPublicKey, p.StaticPublicKey},
		{&id.StaticPrivateKey, p.StaticPrivateKey},
		{&id.SigningPublicKey, p.SigningPublicKey},
		{&id.SigningPrivateKey, p.SigningPrivateKey},
	} {
		b, err := base64.StdEncoding.DecodeString(f.src)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding key material: %v", ErrInvalidFile, err)
		}
		*f.dst = b
	}

	createdAt, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing created_at: %v", ErrInvalidFile, err)
	}
	id.CreatedAt = createdAt

	return id, nil
}

// Exists reports whether a keystore file exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes the keystore file at path.
func Remove(path string) error {
	return os.Remove(path)
}
