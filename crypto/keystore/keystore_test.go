package keystore

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"reflect"
	"testing"
)

func TestRegisteredBackends(t *testing.T) {
	want := []string{BackendFile, BackendKeyring, BackendMemory}
	if got := ListRegisteredBackends(); !reflect.DeepEqual(got, want) {
		t.Errorf("ListRegisteredBackends() = %v, want %v", got, want)
	}
	if _, err := NewKeystore(Config{Backend: "hsm"}); err == nil {
		t.Error("NewKeystore(hsm) error = nil")
	}
	ks, err := NewKeystore(Config{Backend: BackendMemory})
	if err != nil || ks == nil {
		t.Fatalf("NewKeystore(memory) = %v, %v", ks, err)
	}
}

func TestMemoryKeystore(t *testing.T) {
	ks := NewMemoryKeystore()

	if _, err := ks.Get("missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrSecretNotFound", err)
	}
	if err := ks.Set("", []byte("x")); err == nil {
		t.Error("Set(\"\") error = nil")
	}

	for _, id := range []string{"b", "a"} {
		if err := ks.Set(id, []byte("value-"+id)); err != nil {
			t.Fatalf("Set(%s) error = %v", id, err)
		}
	}
	got, err := ks.Get("a")
	if err != nil || string(got) != "value-a" {
		t.Errorf("Get(a) = %q, %v", got, err)
	}
	// Callers may wipe what they read.
	got[0] = 0
	if again, _ := ks.Get("a"); string(again) != "value-a" {
		t.Errorf("stored value changed to %q", again)
	}

	ids, err := ks.List()
	if err != nil || !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("List() = %v, %v", ids, err)
	}
	if err := ks.Delete("a"); err != nil {
		t.Fatalf("Delete(a) error = %v", err)
	}
	if _, err := ks.Get("a"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get after Delete error = %v", err)
	}
}

func TestFileKeystore(t *testing.T) {
	if _, err := NewKeystore(Config{Backend: BackendFile, Password: "pw"}); err == nil {
		t.Error("file keystore without dir error = nil")
	}
	if _, err := NewKeystore(Config{Backend: BackendFile, FileDir: t.TempDir()}); err == nil {
		t.Error("file keystore without password error = nil")
	}

	cfg := Config{Backend: BackendFile, FileDir: t.TempDir(), Password: "correct horse"}
	ks, err := NewKeystore(cfg)
	if err != nil {
		t.Fatalf("NewKeystore(file) error = %v", err)
	}
	if err := ks.Set("secret/NIKTO_KEY", []byte("abc123")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	reopened, err := NewKeystore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get("secret/NIKTO_KEY")
	if err != nil || string(got) != "abc123" {
		t.Errorf("Get() after reopen = %q, %v", got, err)
	}
}

func TestSigningKeyRoundTrip(t *testing.T) {
	ks := NewMemoryKeystore()
	pub, err := GenerateSigningKey(ks, "signing")
	if err != nil {
		t.Fatalf("GenerateSigningKey() error = %v", err)
	}
	priv, err := SigningKey(ks, "signing")
	if err != nil {
		t.Fatalf("SigningKey() error = %v", err)
	}
	if !bytes.Equal(priv.Public().(ed25519.PublicKey), pub) {
		t.Error("stored private key does not match the returned public key")
	}

	msg := []byte("unit digest")
	if !ed25519.Verify(pub, msg, ed25519.Sign(priv, msg)) {
		t.Error("signature from stored key does not verify")
	}

	if _, err := SigningKey(ks, "absent"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("SigningKey(absent) error = %v", err)
	}
	ks.Set("garbage", []byte("not a key"))
	if _, err := SigningKey(ks, "garbage"); err == nil {
		t.Error("SigningKey(garbage) error = nil")
	}
}

func TestPublicKeyPEM(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	data, err := MarshalPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPublicKey() error = %v", err)
	}
	if !bytes.HasPrefix(data, []byte("-----BEGIN PUBLIC KEY-----")) {
		t.Errorf("PEM = %s", data)
	}
	parsed, err := ParsePublicKey(data)
	if err != nil || !bytes.Equal(parsed, pub) {
		t.Errorf("ParsePublicKey() = %x, %v", parsed, err)
	}
	if _, err := ParsePublicKey([]byte("nope")); err == nil {
		t.Error("ParsePublicKey(nope) error = nil")
	}
}

type staticSecrets map[string]string

func (s staticSecrets) Secret(name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", errors.New("not set")
}

func TestSecrets(t *testing.T) {
	ks := NewMemoryKeystore()
	ks.Set("signing", []byte("key material"))
	secrets := NewSecrets(ks)

	if err := secrets.Store("bad name", "x"); err == nil {
		t.Error("Store(bad name) error = nil")
	}
	if err := secrets.Store("SEMGREP_APP_TOKEN", "tok"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	got, err := secrets.Secret("SEMGREP_APP_TOKEN")
	if err != nil || got != "tok" {
		t.Errorf("Secret() = %q, %v", got, err)
	}
	if _, err := secrets.Secret("MISSING"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Secret(MISSING) error = %v", err)
	}

	names, err := secrets.Names()
	if err != nil || !reflect.DeepEqual(names, []string{"SEMGREP_APP_TOKEN"}) {
		t.Errorf("Names() = %v, %v", names, err)
	}

	secrets.Fallback = staticSecrets{"MISSING": "from-env"}
	if got, err := secrets.Secret("MISSING"); err != nil || got != "from-env" {
		t.Errorf("Secret(MISSING) with fallback = %q, %v", got, err)
	}

	if err := secrets.Remove("SEMGREP_APP_TOKEN"); err != nil {
		t.Fatal(err)
	}
	if names, _ := secrets.Names(); len(names) != 0 {
		t.Errorf("Names() after Remove = %v", names)
	}
}
