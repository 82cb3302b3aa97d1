package entree

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionClaims is the payload of the authority session cookie. Token is
// the value of the AUTH LoginToken backing the session.
type SessionClaims struct {
	jwt.RegisteredClaims
	Token string `json:"tkn"`
}

// Session is the decoded authority session
type Session struct {
	ID         string
	IdentityID uuid.UUID
	Token      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

func (s Session) String() string {
	return fmt.Sprintf("identity=%s iat=%s exp=%s", s.IdentityID, s.IssuedAt.Format(time.RFC1123), s.ExpiresAt.Format(time.RFC1123))
}

// SessionService signs and validates session cookies
type SessionService struct {
	signingKey []byte
	issuer     string
	expiration time.Duration
	now        Clock
	logger     Logger
}

// NewSessionService creates a SessionService from cfg
func NewSessionService(cfg Config) *SessionService {
	expiration := cfg.GetSessionExpiration()
	if expiration <= 0 {
		expiration = 30 * 24 * time.Hour
	}

	return &SessionService{
		signingKey: []byte(cfg.GetSigningKey()),
		issuer:     cfg.GetIssuer(),
		expiration: expiration,
		now:        time.Now,
		logger:     defLogger{},
	}
}

func (s *SessionService) WithLogger(l Logger) *SessionService {
	if l != nil {
		s.logger = l
	}
	return s
}

func (s *SessionService) WithClock(c Clock) *SessionService {
	if c != nil {
		s.now = c
	}
	return s
}

// Expiration is the lifetime of newly signed sessions
func (s *SessionService) Expiration() time.Duration {
	return s.expiration
}

// Sign creates a session for identity bound to the AUTH token
func (s *SessionService) Sign(identity *Identity, token *LoginToken) (string, error) {
	if identity == nil || token == nil {
		return "", errors.New("identity and token are required", errors.CategoryInternal)
	}

	sid := token.Data.Session
	if sid == "" {
		sid = uuid.NewString()
	}

	now := s.now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sid,
			Issuer:    s.issuer,
			Subject:   identity.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
		},
		Token: token.Value,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign session")
	}
	return signed, nil
}

// Parse validates signature, expiry and issuer of raw
func (s *SessionService) Parse(raw string) (*Session, error) {
	if raw == "" {
		return nil, ErrUnableToFindSession
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		s.logger.Debug("session parse failed: %v", err)
		return nil, ErrSessionMalformed
	}

	if !token.Valid || claims.Token == "" {
		return nil, ErrSessionMalformed
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrSessionMalformed
	}

	out := &Session{
		ID:         claims.ID,
		IdentityID: id,
		Token:      claims.Token,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
