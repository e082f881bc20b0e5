package model

// AuthSession is the caller-held continuation of a login handshake.
// HandshakeContext is opaque and must be sent back unchanged with the
// verification code.
type AuthSession struct {
	Identifier       string    `json:"identifier"`
	ChallengeToken   string    `json:"challengeToken"`
	HandshakeContext string    `json:"handshakeContext"`
	State            AuthState `json:"state"`
}

// LoginResult is what a handshake step produced. When State is
// AuthStateSecondFactorPending, Session carries the continuation for the
// password step (nil if the gateway cannot complete a second factor).
type LoginResult struct {
	State                 AuthState    `json:"state"`
	Account               *Account     `json:"account,omitempty"`
	Credential            string       `json:"-"`
	Session               *AuthSession `json:"session,omitempty"`
	SecondFactorSupported bool         `json:"secondFactorSupported"`
}
