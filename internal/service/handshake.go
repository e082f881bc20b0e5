package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/util"
)

var (
	errHandshakeMalformed = errors.New("handshake context malformed")
	errHandshakeExpired   = errors.New("handshake context expired")
)

// handshakeEnvelope is the sealed content of AuthSession.HandshakeContext.
type handshakeEnvelope struct {
	Identifier     string          `json:"i"`
	ChallengeToken string          `json:"t"`
	State          model.AuthState `json:"s"`
	GatewayContext string          `json:"g"`
	Nonce          string          `json:"n"`
	IssuedAt       int64           `json:"at"`
}

// handshakeSealer turns envelopes into opaque tokens. Any instance holding the
// same key can open a token, so handshakes survive restarts.
type handshakeSealer struct {
	cipher *util.Cipher
	ttl    time.Duration
}

func (h *handshakeSealer) seal(env handshakeEnvelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return h.cipher.Encrypt(raw)
}

func (h *handshakeSealer) open(sealed string, now time.Time) (*handshakeEnvelope, error) {
	raw, err := h.cipher.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errHandshakeMalformed, err)
	}

	var env handshakeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errHandshakeMalformed, err)
	}
	if env.Nonce == "" || env.Identifier == "" {
		return nil, errHandshakeMalformed
	}

	if now.Sub(time.Unix(env.IssuedAt, 0)) > h.ttl {
		return nil, errHandshakeExpired
	}
	return &env, nil
}
