package bridge

import (
	"context"
	"net/http"

	"github.com/openclaw/broadcast-server-go/internal/gateway"
	"github.com/openclaw/broadcast-server-go/internal/model"
)

type session struct {
	id     string
	client *Client
}

var _ gateway.SecondFactorSession = (*session)(nil)

func (s *session) ID() string { return s.id }

type signInRequest struct {
	Phone         string `json:"phone"`
	PhoneCodeHash string `json:"phoneCodeHash"`
	Code          string `json:"code"`
}

type credentialResponse struct {
	Credential string `json:"credential"`
}

func (s *session) CompleteChallenge(ctx context.Context, identifier, token, code string) (string, error) {
	var resp credentialResponse
	err := s.client.do(ctx, http.MethodPost, sessionPath(s.id, "/sign-in"), signInRequest{
		Phone:         identifier,
		PhoneCodeHash: token,
		Code:          code,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Credential, nil
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *session) CheckPassword(ctx context.Context, password string) (string, error) {
	var resp credentialResponse
	err := s.client.do(ctx, http.MethodPost, sessionPath(s.id, "/password"), passwordRequest{Password: password}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Credential, nil
}

type dialog struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type dialogsResponse struct {
	Dialogs []dialog `json:"dialogs"`
}

func (s *session) ListGroupConversations(ctx context.Context) ([]model.Conversation, error) {
	var resp dialogsResponse
	if err := s.client.do(ctx, http.MethodGet, sessionPath(s.id, "/dialogs?type=group"), nil, &resp); err != nil {
		return nil, err
	}

	conversations := make([]model.Conversation, 0, len(resp.Dialogs))
	for _, d := range resp.Dialogs {
		if d.Type != "group" && d.Type != "supergroup" {
			continue
		}
		conversations = append(conversations, model.Conversation{ID: d.ID, Title: d.Title})
	}
	return conversations, nil
}

type sendRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

func (s *session) SendText(ctx context.Context, conversationID, text string) error {
	return s.client.do(ctx, http.MethodPost, sessionPath(s.id, "/messages"), sendRequest{ChatID: conversationID, Text: text}, nil)
}
