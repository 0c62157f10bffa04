package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_HashAndCompare(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if hash == "correct horse" || !strings.HasPrefix(hash, "$2") {
		t.Errorf("Hash() = %q, want a bcrypt hash", hash)
	}

	ok, err := h.Compare(hash, "correct horse")
	if err != nil || !ok {
		t.Errorf("Compare(match) = %v, %v; want true, nil", ok, err)
	}

	ok, err = h.Compare(hash, "wrong horse")
	if err != nil || ok {
		t.Errorf("Compare(mismatch) = %v, %v; want false, nil", ok, err)
	}
}

func TestPasswordHasher_CompareMalformedHash(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	ok, err := h.Compare("not-a-hash", "whatever")
	if ok || err == nil {
		t.Errorf("Compare(malformed) = %v, %v; want false, error", ok, err)
	}
}

func TestNewPasswordHasher_CostFallback(t *testing.T) {
	tests := []struct {
		cost int
		want int
	}{
		{0, bcrypt.DefaultCost},
		{bcrypt.MaxCost + 1, bcrypt.DefaultCost},
		{bcrypt.MinCost, bcrypt.MinCost},
		{12, 12},
	}

	for _, tt := range tests {
		if got := NewPasswordHasher(tt.cost).Cost(); got != tt.want {
			t.Errorf("NewPasswordHasher(%d).Cost() = %d, want %d", tt.cost, got, tt.want)
		}
	}
}

func TestPasswordHasher_CompareDummy(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)
	// Must not panic and must be callable repeatedly.
	h.CompareDummy("anything")
	h.CompareDummy("anything else")
	if h.dummy == nil {
		t.Error("dummy hash should be initialized after first use")
	}
}
