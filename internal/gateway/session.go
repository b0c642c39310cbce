package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// TokenExpiry returns the token's exp claim. The signature is not checked;
// the backend stays authoritative.
func TokenExpiry(token string) (time.Time, bool) {
	claims := gojwt.MapClaims{}
	if _, _, err := gojwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenExpired reports whether the token's exp claim has passed. Tokens
// that cannot be parsed or carry no exp are treated as live.
func TokenExpired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	return ok && !now.Before(exp)
}

// CurrentSession returns the signed-in account. It returns (nil, nil) when
// there is no session: no token, an expired token, or a 401 from the
// backend.
func (c *Client) CurrentSession(ctx context.Context) (*types.Account, error) {
	token := c.Token()
	if token == "" {
		return nil, nil
	}
	if TokenExpired(token, time.Now()) {
		glog.V(1).Infof("gateway: session token expired")
		return nil, nil
	}

	var acct types.Account
	err := c.do(ctx, call{
		kind:   "session",
		op:     OpSession,
		method: http.MethodGet,
		url:    c.endpoint(nil, "session", "me"),
		out:    &acct,
	})
	if errors.Is(err, types.ErrUnauthorized) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Login exchanges an email for a session token and installs it on the
// client.
func (c *Client) Login(ctx context.Context, email string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, call{
		kind:   "session",
		op:     OpLogin,
		method: http.MethodPost,
		url:    c.endpoint(nil, "session", "login"),
		body:   map[string]string{"email": email},
		out:    &out,
	})
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &types.APIError{Status: http.StatusOK, Err: fmt.Errorf("%w: login returned no token", types.ErrDecode)}
	}
	c.SetToken(out.Token)
	return out.Token, nil
}
