package inbox

import (
	"context"
	"fmt"
	"net/http"
)

// LoginResponse carries the challenge to complete with the emailed code
type LoginResponse struct {
	ChallengeID string `json:"challengeID"`
}

// CompleteLoginResponse carries the issued bearer token
type CompleteLoginResponse struct {
	Token string `json:"token"`
}

// Login starts a passwordless login for email
func (c *Client) Login(ctx context.Context, email string) (*LoginResponse, error) {
	in := map[string]string{"email": email}

	var out LoginResponse
	if err := c.call(ctx, http.MethodPost, "/auth/login", in, &out); err != nil {
		return nil, fmt.Errorf("starting login: %w", err)
	}
	return &out, nil
}

// CompleteLogin exchanges the challenge and code for a token
func (c *Client) CompleteLogin(ctx context.Context, challengeID, code string) (*CompleteLoginResponse, error) {
	in := map[string]string{"code": code, "challengeId": challengeID}

	var out CompleteLoginResponse
	if err := c.call(ctx, http.MethodPost, "/auth/complete", in, &out); err != nil {
		return nil, fmt.Errorf("completing login: %w", err)
	}
	return &out, nil
}
