package identitystore

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testIdentity(t *testing.T) *Identity {
	t.Helper()
	mk := func(n int) []byte {
		b := make([]byte, n)
		if _, err := rand.Read(b); err != nil {
			t.Fatalf("rand.Read: %v", err)
		}
		return b
	}
	return &Identity{
		SignatureScheme:   "Dilithium2",
		StaticPublicKey:   mk(524160),
		StaticPrivateKey:  mk(13892),
		SigningPublicKey:  mk(1312),
		SigningPrivateKey: mk(2528),
		CreatedAt:         time.Now().UTC().Truncate(time.Second),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	id := testIdentity(t)
	path := filepath.Join(t.TempDir(), "identity.json")
	passphrase := "correct horse battery staple"

	if err := Save(id, passphrase, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists(path) {
		t.Fatal("identity file was not created")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := Load(passphrase, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.SignatureScheme != id.SignatureScheme {
		t.Errorf("SignatureScheme = %q, want %q", got.SignatureScheme, id.SignatureScheme)
	}
	if !bytes.Equal(got.StaticPublicKey, id.StaticPublicKey) {
		t.Error("StaticPublicKey mismatch")
	}
	if !bytes.Equal(got.StaticPrivateKey, id.StaticPrivateKey) {
		t.Error("StaticPrivateKey mismatch")
	}
	if !bytes.Equal(got.SigningPublicKey, id.SigningPublicKey) {
		t.Error("SigningPublicKey mismatch")
	}
	if !bytes.Equal(got.SigningPrivateKey, id.SigningPrivateKey) {
		t.Error("SigningPrivateKey mismatch")
	}
	if !got.CreatedAt.Equal(id.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, id.CreatedAt)
	}
}

func TestLoadWrongPassphrase(t *testing.T) {
	id := testIdentity(t)
	path := filepath.Join(t.TempDir(), "identity.json")

	if err := Save(id, "correct horse battery staple", path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := Load("wrong passphrase entirely", path); err == nil {
		t.Fatal("Load() error = nil, want error for wrong passphrase")
	}
}

func TestSaveRejectsShortPassphrase(t *testing.T) {
	id := testIdentity(t)
	path := filepath.Join(t.TempDir(), "identity.json")

	if err := Save(id, "short", path); err == nil {
		t.Fatal("Save() error = nil, want ErrPassphraseTooShort")
	}
}

func TestRemove(t *testing.T) {
	id := testIdentity(t)
	path := filepath.Join(t.TempDir(), "identity.json")

	if err := Save(id, "correct horse battery staple", path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if Exists(path) {
		t.Error("Exists() = true after Remove")
	}
}
