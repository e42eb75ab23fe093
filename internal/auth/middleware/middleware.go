package auth

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/beelearnt/beelearnt-assessments/internal/rbac"
)

type AuthService struct {
	hmac   []byte
	issuer string
	ttl    time.Duration
}

func NewAuthService(secret, issuer string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &AuthService{hmac: []byte(secret), issuer: issuer, ttl: ttl}
}

type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"` // STUDENT|PARENT|TUTOR|ADMIN
	jwt.RegisteredClaims
}

func (a *AuthService) IssueJWT(sub, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Sub:  sub,
		Role: rbac.NormalizeRole(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(a.issuer))
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Sub == "" {
		return nil, errors.New("invalid token")
	}
	return c, nil
}

// AdminAccount is the built-in offline admin from config. An empty hash disables it.
type AdminAccount struct {
	Username string
	PassHash string
}

// POST /auth/login  { "username": "...", "password": "..." }
// Checks the built-in admin first, then the users table (bcrypt).
func LoginHandler(a *AuthService, db *sql.DB, admin AdminAccount) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			http.Error(w, "username and password required", http.StatusBadRequest)
			return
		}

		sub, role, err := lookupCredentials(r, db, admin, req.Username, req.Password)
		if err != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		tok, err := a.IssueJWT(sub, role)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok, "role": rbac.NormalizeRole(role)})
	}
}

func lookupCredentials(r *http.Request, db *sql.DB, admin AdminAccount, username, password string) (sub, role string, err error) {
	if admin.PassHash != "" && username == admin.Username {
		if bcrypt.CompareHashAndPassword([]byte(admin.PassHash), []byte(password)) != nil {
			return "", "", errors.New("bad password")
		}
		return admin.Username, rbac.RoleAdmin, nil
	}
	if db == nil {
		return "", "", errors.New("no user store")
	}
	var hash string
	err = db.QueryRowContext(r.Context(),
		`SELECT id, role, password_hash FROM users WHERE username=$1`, username).Scan(&sub, &role, &hash)
	if err != nil {
		return "", "", fmt.Errorf("lookup %q: %w", username, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", "", errors.New("bad password")
	}
	return sub, role, nil
}

// JWTMiddleware verifies the bearer token and puts subject and role into the
// request context. Everything downstream reads identity from there.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			c, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			ctx := WithSubject(r.Context(), c.Sub)
			ctx = rbac.WithRole(ctx, rbac.NormalizeRole(c.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
