package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"

	"github.com/mesh-intelligence/assetdesk/internal/sqlite"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

var errInvalidToken = errors.New("invalid session token")

// principal is the signed-in user with the role that governs it.
type principal struct {
	user sqlite.Body
	role sqlite.Body
}

func (p *principal) allows(subject, action string) bool {
	if subject == "" {
		return true
	}
	allowed, _ := p.role[types.PermissionKey(subject, action)].(bool)
	return allowed
}

type principalKey struct{}

func principalFrom(ctx context.Context) *principal {
	p, _ := ctx.Value(principalKey{}).(*principal)
	return p
}

// issueToken signs an HS256 session token for userID.
func (s *Server) issueToken(userID string) (string, error) {
	now := s.now()
	claims := gojwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
}

// verifyToken checks the signature and expiry and returns the subject.
func (s *Server) verifyToken(token string) (string, error) {
	claims := &gojwt.RegisteredClaims{}
	parser := gojwt.NewParser(
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(s.now),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", errInvalidToken)
	}
	return claims.Subject, nil
}

// authenticate resolves the bearer token of r to an active user.
func (s *Server) authenticate(r *http.Request) (*principal, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", errInvalidToken)
	}
	userID, err := s.verifyToken(token)
	if err != nil {
		return nil, err
	}
	users, err := s.backend.Table(types.KindUsers)
	if err != nil {
		return nil, err
	}
	user, err := users.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if active, _ := user["active"].(bool); !active {
		return nil, fmt.Errorf("%w: user %s is inactive", errInvalidToken, userID)
	}

	p := &principal{user: user, role: sqlite.Body{}}
	if roleID, _ := user["role"].(string); roleID != "" {
		if roles, err := s.backend.Table(types.KindRoles); err == nil {
			if role, err := roles.Get(roleID); err == nil {
				p.role = role
			}
		}
	}
	return p, nil
}

// authed rejects requests without a valid session with 401.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authenticate(r)
		if err != nil {
			glog.V(1).Infof("devserver: %s %s: %v", r.Method, r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, "login required", nil)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required", map[string]string{"email": "Email is required"})
		return
	}

	users, err := s.backend.Table(types.KindUsers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	found, err := users.FindBy("email", strings.TrimSpace(in.Email))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if len(found) == 0 {
		writeError(w, http.StatusUnauthorized, "unknown email", nil)
		return
	}
	user := found[0]
	if active, _ := user["active"].(bool); !active {
		writeError(w, http.StatusUnauthorized, "account is inactive", nil)
		return
	}

	token, err := s.issueToken(user.ID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if _, err := users.Update(user.ID(), sqlite.Body{"last_login": s.now().UTC().Format(time.RFC3339)}); err != nil {
		glog.Warningf("devserver: recording login of %s: %v", user.ID(), err)
	}
	glog.Infof("devserver: %s signed in", in.Email)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	acct := p.user.Clone()
	acct["role"] = p.role
	writeJSON(w, http.StatusOK, acct)
}
