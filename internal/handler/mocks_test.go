package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/broadcast-server-go/internal/middleware"
	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/service"
)

type mockLoginFlow struct{ mock.Mock }

func (m *mockLoginFlow) RequestCode(ctx context.Context, identifier string) (*model.AuthSession, error) {
	args := m.Called(ctx, identifier)
	session, _ := args.Get(0).(*model.AuthSession)
	return session, args.Error(1)
}

func (m *mockLoginFlow) SubmitCode(ctx context.Context, identifier, challengeToken, handshakeContext, code string) (*model.LoginResult, error) {
	args := m.Called(ctx, identifier, challengeToken, handshakeContext, code)
	result, _ := args.Get(0).(*model.LoginResult)
	return result, args.Error(1)
}

func (m *mockLoginFlow) SubmitSecondFactor(ctx context.Context, identifier, handshakeContext, password string) (*model.LoginResult, error) {
	args := m.Called(ctx, identifier, handshakeContext, password)
	result, _ := args.Get(0).(*model.LoginResult)
	return result, args.Error(1)
}

type stubIssuer struct{}

func (stubIssuer) Issue(account *model.Account) (string, time.Time, error) {
	return "session-token", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

type mockScheduleManager struct{ mock.Mock }

func (m *mockScheduleManager) Create(ctx context.Context, owner string, input service.CreateScheduleInput) (*model.Schedule, error) {
	args := m.Called(ctx, owner, input)
	schedule, _ := args.Get(0).(*model.Schedule)
	return schedule, args.Error(1)
}

func (m *mockScheduleManager) ListByOwner(ctx context.Context, owner string) ([]model.Schedule, error) {
	args := m.Called(ctx, owner)
	schedules, _ := args.Get(0).([]model.Schedule)
	return schedules, args.Error(1)
}

func (m *mockScheduleManager) ListGroups(ctx context.Context, owner string) ([]model.Conversation, error) {
	args := m.Called(ctx, owner)
	groups, _ := args.Get(0).([]model.Conversation)
	return groups, args.Error(1)
}

type mockAccountAdmin struct{ mock.Mock }

func (m *mockAccountAdmin) ListAccounts(ctx context.Context, actor *model.Account) ([]model.Account, error) {
	args := m.Called(ctx, actor)
	accounts, _ := args.Get(0).([]model.Account)
	return accounts, args.Error(1)
}

func (m *mockAccountAdmin) SetActive(ctx context.Context, actor *model.Account, identifier string, active bool) (*model.Account, error) {
	args := m.Called(ctx, actor, identifier, active)
	account, _ := args.Get(0).(*model.Account)
	return account, args.Error(1)
}

func (m *mockAccountAdmin) SetRole(ctx context.Context, actor *model.Account, identifier string, role model.Role) (*model.Account, error) {
	args := m.Called(ctx, actor, identifier, role)
	account, _ := args.Get(0).(*model.Account)
	return account, args.Error(1)
}

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) RunOnce(ctx context.Context) (*model.DispatchReport, error) {
	args := m.Called(ctx)
	report, _ := args.Get(0).(*model.DispatchReport)
	return report, args.Error(1)
}

func newJSONRequest(method, target, body string, account *model.Account) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if account != nil {
		req = req.WithContext(middleware.WithAccount(req.Context(), account))
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
