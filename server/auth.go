package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer      = "traffic-sim"
	tokenTTL         = 7 * 24 * time.Hour
	minPasswordLen   = 4
	minUsernameLen   = 2
	maxUsernameLen   = 16
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
	limiterSweepAt   = 1024
	jwtSecretSetting = "jwt_secret"
)

// bcryptCost is a var so tests can lower it
var bcryptCost = 12

// Messages here go straight to the client.
var (
	errUsernameLength  = fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	errUsernameChars   = errors.New("username may only use letters, digits, '-', '_' and '.'")
	errPasswordLength  = fmt.Errorf("password must be at least %d characters", minPasswordLen)
	errUsernameTaken   = errors.New("username already taken")
	errBadCredentials  = errors.New("invalid username or password")
	errTooManyAttempts = errors.New("too many login attempts, try again later")
	errAccountStore    = errors.New("account store unavailable")
)

// OperatorClaims is the JWT payload handed to a logged-in operator
type OperatorClaims struct {
	OperatorID int64 `json:"oid"`
	jwt.RegisteredClaims
}

// Username is carried in the subject claim
func (c *OperatorClaims) Username() string { return c.Subject }

// Credentials is what a successful register or login returns
type Credentials struct {
	OperatorID int64
	Username   string
	Token      string
}

// Auth gates run control behind operator accounts
type Auth struct {
	db      *DB
	secret  []byte
	limiter *loginLimiter
}

// NewAuth creates an Auth backed by db. The signing secret is kept in the
// settings table so tokens survive a restart.
func NewAuth(db *DB) *Auth {
	return &Auth{
		db:      db,
		secret:  operatorSecret(db),
		limiter: newLoginLimiter(loginRateWindow, maxLoginAttempts),
	}
}

func operatorSecret(db *DB) []byte {
	if h := db.GetSetting(jwtSecretSetting); h != "" {
		if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
			return b
		}
		log.Printf("auth: stored signing secret unreadable, replacing it")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("auth: no entropy for signing secret: " + err.Error())
	}
	if err := db.SetSetting(jwtSecretSetting, hex.EncodeToString(secret)); err != nil {
		log.Printf("auth: signing secret not persisted, tokens end with this process: %v", err)
	}
	return secret
}

// checkUsername trims name and enforces length and charset
func checkUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < minUsernameLen || n > maxUsernameLen {
		return "", errUsernameLength
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("-_.", r) {
			return "", errUsernameChars
		}
	}
	return name, nil
}

// Register creates an operator account and logs it in
func (a *Auth) Register(username, password string) (Credentials, error) {
	name, err := checkUsername(username)
	if err != nil {
		return Credentials{}, err
	}
	if len(password) < minPasswordLen {
		return Credentials{}, errPasswordLength
	}

	taken, err := a.db.UsernameExists(name)
	if err != nil {
		log.Printf("auth: lookup %q: %v", name, err)
		return Credentials{}, errAccountStore
	}
	if taken {
		return Credentials{}, errUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return Credentials{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := a.db.CreateOperator(name, string(hash))
	if err != nil {
		// lost a race with a concurrent register of the same name
		log.Printf("auth: create %q: %v", name, err)
		return Credentials{}, errUsernameTaken
	}
	log.Printf("operator %q registered (id %d)", name, id)
	return a.issue(id, name)
}

// Login checks a password and returns a fresh token. Attempts are limited
// per remote address; a success clears the address's count.
func (a *Auth) Login(username, password, remote string) (Credentials, error) {
	if !a.limiter.allow(remote, time.Now()) {
		return Credentials{}, errTooManyAttempts
	}

	op, err := a.db.GetOperatorByUsername(strings.TrimSpace(username))
	if err != nil {
		log.Printf("auth: lookup %q: %v", username, err)
		return Credentials{}, errAccountStore
	}
	if op == nil || op.PassHash == "" {
		return Credentials{}, errBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(op.PassHash), []byte(password)) != nil {
		return Credentials{}, errBadCredentials
	}

	a.limiter.forget(remote)
	return a.issue(op.ID, op.Username)
}

// ValidateToken verifies signature, issuer and expiry
func (a *Auth) ValidateToken(token string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.OperatorID <= 0 || claims.Subject == "" {
		return nil, fmt.Errorf("token names no operator")
	}
	return claims, nil
}

func (a *Auth) issue(id int64, username string) (Credentials, error) {
	now := time.Now()
	claims := OperatorClaims{
		OperatorID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return Credentials{}, fmt.Errorf("sign token: %w", err)
	}
	return Credentials{OperatorID: id, Username: username, Token: signed}, nil
}

// loginLimiter counts login attempts per remote address in fixed windows
type loginLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	attempts map[string]*loginWindow
}

type loginWindow struct {
	count   int
	resetAt time.Time
}

func newLoginLimiter(window time.Duration, limit int) *loginLimiter {
	return &loginLimiter{
		window:   window,
		limit:    limit,
		attempts: make(map[string]*loginWindow),
	}
}

// allow records an attempt and reports whether it is within the limit
func (l *loginLimiter) allow(remote string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.attempts[remote]
	if !ok || now.After(w.resetAt) {
		if len(l.attempts) >= limiterSweepAt {
			l.sweep(now)
		}
		l.attempts[remote] = &loginWindow{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	w.count++
	return w.count <= l.limit
}

func (l *loginLimiter) forget(remote string) {
	l.mu.Lock()
	delete(l.attempts, remote)
	l.mu.Unlock()
}

// sweep drops expired windows; caller holds mu
func (l *loginLimiter) sweep(now time.Time) {
	for remote, w := range l.attempts {
		if now.After(w.resetAt) {
			delete(l.attempts, remote)
		}
	}
}
