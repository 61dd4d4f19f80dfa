package authpw

import (
	"context"
	"errors"
	"testing"

	"leaddesk/api/internal/store"
)

type mockUserStore struct {
	users map[string]store.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if user, ok := m.users[email]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.Email] = user
	return nil
}

func TestCreateAgentAndSignIn(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	created, err := svc.CreateAgent(ctx, CreateAgentRequest{
		Email:       " Ana@Example.com ",
		Password:    "correct-horse",
		DisplayName: "Ana Souza",
		Role:        "agent",
	})
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if created.Email != "ana@example.com" || created.PasswordHash == "correct-horse" || created.Role != "agent" {
		t.Fatalf("unexpected user: %+v", created)
	}

	user, err := svc.SignIn(ctx, SignInRequest{Email: "ANA@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if user.ID != created.ID {
		t.Errorf("expected user %s, got %s", created.ID, user.ID)
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()
	if _, err := svc.CreateAgent(ctx, CreateAgentRequest{Email: "ana@example.com", Password: "correct-horse", DisplayName: "Ana"}); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "ana@example.com", Password: "wrong-pass"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "whatever1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{}); err == nil {
		t.Error("expected error for empty request")
	}
}

func TestCreateAgentValidation(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	if _, err := svc.CreateAgent(ctx, CreateAgentRequest{Email: "a@b.c", Password: "short", DisplayName: "A"}); err == nil {
		t.Error("expected error for short password")
	}
	if _, err := svc.CreateAgent(ctx, CreateAgentRequest{Email: "a@b.c", Password: "long-enough", DisplayName: "A"}); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if _, err := svc.CreateAgent(ctx, CreateAgentRequest{Email: "A@B.C", Password: "long-enough", DisplayName: "A"}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}
