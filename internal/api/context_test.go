package api

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperengineering/bridge/internal/types"
)

func TestWithUser_UserFromContext_RoundTrip(t *testing.T) {
	u := &types.User{ID: "01USER", Email: "a@example.com"}
	ctx := WithUser(context.Background(), u)

	got, err := UserFromContext(ctx)
	if err != nil {
		t.Fatalf("UserFromContext() error = %v", err)
	}
	if got != u {
		t.Errorf("UserFromContext() = %p, want %p", got, u)
	}
}

func TestUserFromContext_NoUser(t *testing.T) {
	_, err := UserFromContext(context.Background())
	if !errors.Is(err, ErrNoUserInContext) {
		t.Errorf("error = %v, want ErrNoUserInContext", err)
	}
}

func TestUserFromContext_NilUser(t *testing.T) {
	ctx := WithUser(context.Background(), nil)
	_, err := UserFromContext(ctx)
	if !errors.Is(err, ErrNoUserInContext) {
		t.Errorf("error = %v, want ErrNoUserInContext", err)
	}
}

func TestMustUserFromContext_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustUserFromContext should panic without a user")
		}
	}()
	MustUserFromContext(context.Background())
}

func TestMustUserFromContext_Success(t *testing.T) {
	u := &types.User{ID: "01USER"}
	if got := MustUserFromContext(WithUser(context.Background(), u)); got.ID != "01USER" {
		t.Errorf("ID = %q, want 01USER", got.ID)
	}
}
