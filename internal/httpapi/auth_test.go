package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"bizzflow/backend/internal/domain"
	"bizzflow/backend/internal/store"
)

type userStoreStub struct {
	mu    sync.Mutex
	users map[string]domain.UserAccount
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	if _, exists := s.users[user.Username]; exists {
		return store.ErrConstraintViolation
	}
	if user.ID == "" {
		user.ID = "user-" + user.Username
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	return nil
}

func seededUserStore(t *testing.T) *userStoreStub {
	t.Helper()
	hash, err := hashPassword("admin123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				ID:        "user-admin",
				Username:  "admin",
				Password:  hash,
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestLoginIssuesParsableToken(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, seededUserStore(t))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if actor.UserID != "user-admin" {
		t.Fatalf("expected user id in token claims, got %q", actor.UserID)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, seededUserStore(t))

	if _, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "wrong",
	}); err == nil {
		t.Fatalf("expected login to fail with bad password")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	userStore := seededUserStore(t)
	user := userStore.users["admin"]
	user.Active = false
	userStore.users["admin"] = user

	manager := NewAuthManager("test-secret", time.Hour, userStore)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err == nil {
		t.Fatalf("expected login to fail for inactive account")
	}
	if err.Error() != "account is inactive" {
		t.Fatalf("expected the inactive account message, got %q", err.Error())
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	userStore := seededUserStore(t)
	issuer := NewAuthManager("secret-one", time.Hour, userStore)
	verifier := NewAuthManager("secret-two", time.Hour, userStore)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	userStore := seededUserStore(t)
	manager := NewAuthManager("test-secret", time.Hour, userStore)

	view, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: "newseller",
		Password: "pass1234",
		FullName: "New Seller",
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if view.Role != domain.RoleSeller {
		t.Fatalf("expected default seller role, got %s", view.Role)
	}

	saved, err := userStore.GetUserByUsername(context.Background(), "newseller")
	if err != nil {
		t.Fatalf("expected user to be saved: %v", err)
	}
	if saved.Password == "pass1234" {
		t.Fatalf("expected password to be hashed")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "newseller",
		Password: "pass1234",
	}); err != nil {
		t.Fatalf("login with new user failed: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, seededUserStore(t))

	cases := []domain.UserCreateRequest{
		{Username: "ab", Password: "pass1234"},
		{Username: "valid-user", Password: "123"},
		{Username: "valid-user", Password: "pass1234", Role: "manager"},
		{Username: "admin", Password: "pass1234"},
	}
	for i, req := range cases {
		if _, err := manager.CreateUser(context.Background(), req); err == nil {
			t.Fatalf("case %d: expected create user to fail", i)
		}
	}
}
