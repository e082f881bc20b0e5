package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/broadcast-server-go/internal/gateway"
	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/util"
)

type mockAccountRepo struct {
	mock.Mock
}

func (m *mockAccountRepo) Get(ctx context.Context, identifier string) (*model.Account, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) Upsert(ctx context.Context, identifier, credential string, defaultRole model.Role) (*model.Account, error) {
	args := m.Called(ctx, identifier, credential, defaultRole)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) SetActive(ctx context.Context, identifier string, active bool) (bool, error) {
	args := m.Called(ctx, identifier, active)
	return args.Bool(0), args.Error(1)
}

func (m *mockAccountRepo) SetRole(ctx context.Context, identifier string, role model.Role) (bool, error) {
	args := m.Called(ctx, identifier, role)
	return args.Bool(0), args.Error(1)
}

func (m *mockAccountRepo) ListAll(ctx context.Context) ([]model.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Account), args.Error(1)
}

type mockScheduleRepo struct {
	mock.Mock
}

func (m *mockScheduleRepo) Create(ctx context.Context, params model.CreateScheduleParams) (*model.Schedule, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Schedule), args.Error(1)
}

func (m *mockScheduleRepo) ListByOwner(ctx context.Context, owner string) ([]model.Schedule, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Schedule), args.Error(1)
}

func (m *mockScheduleRepo) ListDue(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Schedule), args.Error(1)
}

func (m *mockScheduleRepo) MarkRun(ctx context.Context, id string, ts time.Time) error {
	args := m.Called(ctx, id, ts)
	return args.Error(0)
}

// fakeGateway records sessions it opens and closes. Behaviour is set per test
// through the func fields.
type fakeGateway struct {
	mu     sync.Mutex
	opened []gateway.Source
	closed []string

	requestChallenge func(ctx context.Context, identifier string) (gateway.Challenge, error)
	openSession      func(ctx context.Context, src gateway.Source) (gateway.Session, error)
}

func (g *fakeGateway) RequestChallenge(ctx context.Context, identifier string) (gateway.Challenge, error) {
	return g.requestChallenge(ctx, identifier)
}

func (g *fakeGateway) OpenSession(ctx context.Context, src gateway.Source) (gateway.Session, error) {
	g.mu.Lock()
	g.opened = append(g.opened, src)
	g.mu.Unlock()
	return g.openSession(ctx, src)
}

func (g *fakeGateway) CloseSession(_ context.Context, s gateway.Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = append(g.closed, s.ID())
	return nil
}

func (g *fakeGateway) openedSources() []gateway.Source {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Source(nil), g.opened...)
}

func (g *fakeGateway) closedSessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.closed...)
}

type fakeSession struct {
	id string

	mu   sync.Mutex
	sent []string

	completeChallenge func(ctx context.Context, identifier, token, code string) (string, error)
	sendText          func(ctx context.Context, conversationID, text string) error
	listGroups        func(ctx context.Context) ([]model.Conversation, error)
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) CompleteChallenge(ctx context.Context, identifier, token, code string) (string, error) {
	return s.completeChallenge(ctx, identifier, token, code)
}

func (s *fakeSession) ListGroupConversations(ctx context.Context) ([]model.Conversation, error) {
	return s.listGroups(ctx)
}

func (s *fakeSession) SendText(ctx context.Context, conversationID, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, conversationID)
	s.mu.Unlock()
	if s.sendText == nil {
		return nil
	}
	return s.sendText(ctx, conversationID, text)
}

func (s *fakeSession) sentTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type fakeSecondFactorSession struct {
	*fakeSession
	checkPassword func(ctx context.Context, password string) (string, error)
}

func (s *fakeSecondFactorSession) CheckPassword(ctx context.Context, password string) (string, error) {
	return s.checkPassword(ctx, password)
}

type fakeLimiter struct {
	allow bool
	keys  []string
}

func (l *fakeLimiter) CheckLimit(_ context.Context, key string, _ int, window time.Duration) RateDecision {
	l.keys = append(l.keys, key)
	return RateDecision{Allowed: l.allow, ResetAt: time.Now().Add(window)}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) LoginAttempt(step, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, step+":"+result)
}

func newTestCipher(t *testing.T) *util.Cipher {
	t.Helper()
	key, err := util.RandomKey()
	require.NoError(t, err)
	c, err := util.NewCipher(key)
	require.NoError(t, err)
	return c
}

func strPtr(s string) *string { return &s }
