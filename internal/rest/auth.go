package rest

import "context"

// Login authenticates a user and returns a token.
// The token is automatically stored in the client for subsequent requests.
func (c *Client) Login(ctx context.Context, userId, password string) (*LoginResponse, error) {
	req := &LoginRequest{UserId: userId, Password: password}
	var result LoginResponse
	if err := c.post(ctx, "/auth/login", req, &result); err != nil {
		return nil, err
	}
	c.SetToken(result.Token)
	return &result, nil
}
