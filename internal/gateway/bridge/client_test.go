package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/broadcast-server-go/internal/gateway"
	"github.com/openclaw/broadcast-server-go/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "bridge-token", Timeout: time.Second})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRequestChallenge(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/challenges", r.URL.Path)
		assert.Equal(t, "Bearer bridge-token", r.Header.Get("Authorization"))

		var req challengeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "+15550001234", req.Phone)

		writeJSON(w, http.StatusOK, challengeResponse{SessionID: "sess-1", PhoneCodeHash: "hash-a"})
	})

	ch, err := client.RequestChallenge(context.Background(), "+15550001234")
	require.NoError(t, err)
	assert.Equal(t, gateway.Challenge{Token: "hash-a", Context: "sess-1"}, ch)
}

func TestOpenSession(t *testing.T) {
	t.Run("resumes handshake session", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var req openSessionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "sess-1", req.Resume)
			assert.Empty(t, req.Credential)
			writeJSON(w, http.StatusOK, openSessionResponse{SessionID: "sess-1"})
		})

		s, err := client.OpenSession(context.Background(), gateway.FromHandshake("sess-1"))
		require.NoError(t, err)
		assert.Equal(t, "sess-1", s.ID())
	})

	t.Run("rejects a fresh session in place of a resumed one", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, openSessionResponse{SessionID: "sess-other"})
		})

		_, err := client.OpenSession(context.Background(), gateway.FromHandshake("sess-1"))
		assert.ErrorIs(t, err, gateway.ErrSessionUnknown)
	})

	t.Run("opens with credential", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var req openSessionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "cred", req.Credential)
			writeJSON(w, http.StatusOK, openSessionResponse{SessionID: "sess-9"})
		})

		s, err := client.OpenSession(context.Background(), gateway.FromCredential("cred"))
		require.NoError(t, err)
		assert.Equal(t, "sess-9", s.ID())
	})
}

func TestCompleteChallengeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   errorResponse
		want   error
	}{
		{"invalid code", http.StatusBadRequest, errorResponse{Code: "PHONE_CODE_INVALID"}, gateway.ErrCodeInvalid},
		{"expired code", http.StatusBadRequest, errorResponse{Code: "PHONE_CODE_EXPIRED"}, gateway.ErrCodeExpired},
		{"second factor", http.StatusUnauthorized, errorResponse{Code: "SESSION_PASSWORD_NEEDED", SessionID: "sess-1"}, gateway.ErrSecondFactorRequired},
		{"flood wait", http.StatusTooManyRequests, errorResponse{Code: "FLOOD_WAIT"}, gateway.ErrFloodWait},
		{"bridge down", http.StatusBadGateway, errorResponse{}, gateway.ErrUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/sessions/sess-1/sign-in", r.URL.Path)
				writeJSON(w, tc.status, tc.body)
			})
			s := &session{id: "sess-1", client: client}

			_, err := s.CompleteChallenge(context.Background(), "+15550001234", "hash-a", "12345")
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("second factor carries continuation", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: "SESSION_PASSWORD_NEEDED", SessionID: "sess-1"})
		})
		s := &session{id: "sess-1", client: client}

		_, err := s.CompleteChallenge(context.Background(), "+15550001234", "hash-a", "12345")
		var sfe *gateway.SecondFactorError
		require.True(t, errors.As(err, &sfe))
		assert.Equal(t, "sess-1", sfe.Continuation)
	})
}

func TestCompleteChallengeSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req signInRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, signInRequest{Phone: "+15550001234", PhoneCodeHash: "hash-a", Code: "12345"}, req)
		writeJSON(w, http.StatusOK, credentialResponse{Credential: "durable"})
	})
	s := &session{id: "sess-1", client: client}

	cred, err := s.CompleteChallenge(context.Background(), "+15550001234", "hash-a", "12345")
	require.NoError(t, err)
	assert.Equal(t, "durable", cred)
}

func TestListGroupConversations(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "group", r.URL.Query().Get("type"))
		writeJSON(w, http.StatusOK, dialogsResponse{Dialogs: []dialog{
			{ID: "-1001", Title: "Team", Type: "supergroup"},
			{ID: "42", Title: "Alice", Type: "private"},
			{ID: "-1002", Title: "Family", Type: "group"},
		}})
	})
	s := &session{id: "sess-1", client: client}

	got, err := s.ListGroupConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Conversation{{ID: "-1001", Title: "Team"}, {ID: "-1002", Title: "Family"}}, got)
}

func TestSendText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/sess-1/messages", r.URL.Path)
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, sendRequest{ChatID: "-1001", Text: "hello"}, req)
		w.WriteHeader(http.StatusNoContent)
	})
	s := &session{id: "sess-1", client: client}

	require.NoError(t, s.SendText(context.Background(), "-1001", "hello"))
}

func TestCloseSessionIgnoresUnknown(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "SESSION_NOT_FOUND"})
	})

	assert.NoError(t, client.CloseSession(context.Background(), &session{id: "sess-1", client: client}))
}

func TestCircuitOpensAfterServerErrors(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < defaultFailThreshold; i++ {
		_, err := client.RequestChallenge(context.Background(), "+15550001234")
		assert.ErrorIs(t, err, gateway.ErrUnavailable)
	}

	_, err := client.RequestChallenge(context.Background(), "+15550001234")
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Equal(t, defaultFailThreshold, calls, "open circuit must not reach the bridge")
}

func TestCallerCancellationDoesNotTripCircuit(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusOK, challengeResponse{SessionID: "sess-1", PhoneCodeHash: "hash"})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < defaultFailThreshold+1; i++ {
		_, err := client.RequestChallenge(ctx, "+15550001234")
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, gateway.ErrUnavailable)
	}

	_, err := client.RequestChallenge(context.Background(), "+15550001234")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRequestBuildFailureKeepsProbeSlot(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, challengeResponse{SessionID: "sess-1", PhoneCodeHash: "hash"})
	})
	client.br.st = stateOpen
	client.br.nextTryAt = time.Now().Add(-time.Second)

	err := client.do(context.Background(), http.MethodPost, "/v1/challenges", map[string]any{"bad": make(chan int)}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, gateway.ErrUnavailable)

	_, err = client.RequestChallenge(context.Background(), "+15550001234")
	require.NoError(t, err, "the half-open probe is still available")
	assert.Equal(t, stateClosed, client.br.st)
}
