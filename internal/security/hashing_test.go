package security

import (
	"testing"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(4)
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	password := []byte("secret123")
	hash, err := h.Hash(password, salt)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" {
		t.Fatal("Hash returned empty")
	}
	if hash == string(password) {
		t.Fatal("Hash returned the plaintext password")
	}
	if err := h.Compare(hash, salt, password); err != nil {
		t.Fatalf("Compare: %v", err)
	}
}

func TestHasher_CompareWrongPassword(t *testing.T) {
	h := NewHasher(4)
	hash, _ := h.Hash([]byte("secret123"), "salt")
	if err := h.Compare(hash, "salt", []byte("wrong")); err == nil {
		t.Fatal("Compare with wrong password should fail")
	}
}

func TestHasher_CompareWrongSalt(t *testing.T) {
	h := NewHasher(4)
	hash, _ := h.Hash([]byte("secret123"), "salt-a")
	if err := h.Compare(hash, "salt-b", []byte("secret123")); err == nil {
		t.Fatal("Compare with wrong salt should fail")
	}
}

func TestHasher_LongPassword(t *testing.T) {
	h := NewHasher(4)
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	hash, err := h.Hash(long, "salt")
	if err != nil {
		t.Fatalf("Hash long password: %v", err)
	}
	other := append([]byte{}, long...)
	other[150] = 'b'
	if err := h.Compare(hash, "salt", other); err == nil {
		t.Fatal("passwords differing after 72 bytes must not match")
	}
}

func TestHasher_Cost(t *testing.T) {
	h := NewHasher(12)
	if h.Cost != 12 {
		t.Errorf("Cost want 12, got %d", h.Cost)
	}
	h0 := NewHasher(0)
	if h0.Cost < 4 {
		t.Errorf("zero cost should be clamped to at least MinCost, got %d", h0.Cost)
	}
	if hi := NewHasher(99); hi.Cost != 31 {
		t.Errorf("cost above max should clamp to 31, got %d", hi.Cost)
	}
}

func TestNewSalt_Unique(t *testing.T) {
	a, _ := NewSalt()
	b, _ := NewSalt()
	if a == b {
		t.Error("NewSalt returned the same salt twice")
	}
	if len(a) != 2*saltBytes {
		t.Errorf("salt length = %d, want %d", len(a), 2*saltBytes)
	}
}
