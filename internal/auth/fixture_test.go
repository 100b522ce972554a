package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-auth/internal/auth"
	"github.com/odyssey-erp/odyssey-auth/internal/authgate"
	"github.com/odyssey-erp/odyssey-auth/internal/password"
	"github.com/odyssey-erp/odyssey-auth/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-auth/internal/ratelimit"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/session"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
	"github.com/odyssey-erp/odyssey-auth/internal/token"
	"github.com/odyssey-erp/odyssey-auth/internal/users"
	_ "github.com/odyssey-erp/odyssey-auth/testing"
)

type memoryUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*users.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: make(map[int64]*users.User)}
}

func (m *memoryUsers) Create(_ context.Context, email, hash string, role rbac.Role) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return nil, shared.ErrConflict
		}
	}
	m.nextID++
	u := &users.User{ID: m.nextID, Email: email, PasswordHash: hash, Role: role, IsActive: true}
	m.byID[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memoryUsers) FindByID(_ context.Context, id int64) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) UpdatePassword(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *memoryUsers) setActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].IsActive = active
}

type sentMail struct {
	email string
	token string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (r *recordingMailer) EnqueuePasswordReset(_ context.Context, email, resetToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMail{email: email, token: resetToken})
	return nil
}

func (r *recordingMailer) last() (sentMail, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return sentMail{}, false
	}
	return r.sent[len(r.sent)-1], true
}

type fixture struct {
	service  *auth.Service
	handler  *auth.Handler
	users    *memoryUsers
	sessions *session.Store
	tokens   *token.Service
	mailer   *recordingMailer
	clock    *clock.Fake
	redis    *miniredis.Miniredis
}

var testRules = auth.Rules{
	Login:  ratelimit.Rule{Name: "login", MaxAttempts: 5, Window: 15 * time.Minute},
	Signup: ratelimit.Rule{Name: "signup", MaxAttempts: 3, Window: time.Hour},
	Forgot: ratelimit.Rule{Name: "forgot", MaxAttempts: 3, Window: time.Hour},
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tokens, err := token.NewService(token.Config{
		Secret:     "auth-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Clock:      clk,
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := session.NewStore(session.NewMemoryRepository(), tokens, clk, nil)
	f := &fixture{
		users:    newMemoryUsers(),
		sessions: store,
		tokens:   tokens,
		mailer:   &recordingMailer{},
		clock:    clk,
		redis:    mr,
	}
	f.service = auth.NewService(auth.Deps{
		Users:    f.users,
		Hasher:   password.NewHasher(1 << 10),
		Tokens:   tokens,
		Sessions: store,
		Resets:   auth.NewRedisResetTokens(rdb, "test:reset", time.Hour),
		Mailer:   f.mailer,
	})
	gate := authgate.New(tokens, ratelimit.NewMemoryLimiter(clk), nil, nil)
	f.handler = auth.NewHandler(nil, f.service, store, gate, testRules, nil)
	return f
}
