package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"garage.app/internal/ids"
	"garage.app/internal/obs"
	"garage.app/internal/session"
)

const (
	defaultAccessTTL     = time.Hour
	defaultSessionTTL    = 7 * 24 * time.Hour
	defaultMaxSessions   = 5
	defaultSweepInterval = 10 * time.Minute

	refreshTokenBytes = 40
	sessionIDBytes    = 32
)

// Authority issues, validates and revokes credentials and bounds the number
// of live sessions per user.
type Authority struct {
	users    Directory
	sessions session.Store
	tokens   *TokenIssuer
	log      zerolog.Logger
	now      func() time.Time

	secret        string
	issuer        string
	audience      string
	accessTTL     time.Duration
	sessionTTL    time.Duration
	maxSessions   int
	sweepInterval time.Duration

	// admitMu serialises the cap check, eviction and insert of a login.
	admitMu sync.Mutex
}

// Option configures an Authority.
type Option func(*Authority)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(a *Authority) {
		if s := strings.TrimSpace(issuer); s != "" {
			a.issuer = s
		}
	}
}

// WithAudience overrides the token audience claim.
func WithAudience(audience string) Option {
	return func(a *Authority) {
		if s := strings.TrimSpace(audience); s != "" {
			a.audience = s
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(a *Authority) {
		if ttl > 0 {
			a.accessTTL = ttl
		}
	}
}

// WithSessionTTL configures how long a session lives past login or its last refresh.
func WithSessionTTL(ttl time.Duration) Option {
	return func(a *Authority) {
		if ttl > 0 {
			a.sessionTTL = ttl
		}
	}
}

// WithMaxSessions caps concurrent sessions per user.
func WithMaxSessions(n int) Option {
	return func(a *Authority) {
		if n > 0 {
			a.maxSessions = n
		}
	}
}

// WithSweepInterval sets how often Run removes expired sessions.
func WithSweepInterval(d time.Duration) Option {
	return func(a *Authority) {
		if d > 0 {
			a.sweepInterval = d
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(a *Authority) {
		if fn != nil {
			a.now = fn
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Authority) { a.log = l }
}

// NewAuthority constructs an Authority signing tokens with secret.
func NewAuthority(users Directory, sessions session.Store, secret string, opts ...Option) (*Authority, error) {
	if users == nil || sessions == nil {
		return nil, errors.New("auth: directory and session store are required")
	}
	a := &Authority{
		users:         users,
		sessions:      sessions,
		log:           obs.Logger(),
		now:           time.Now,
		secret:        secret,
		issuer:        defaultIssuer,
		audience:      defaultAudience,
		accessTTL:     defaultAccessTTL,
		sessionTTL:    defaultSessionTTL,
		maxSessions:   defaultMaxSessions,
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	tokens, err := NewTokenIssuer(a.secret, a.issuer, a.audience, a.accessTTL, a.now)
	if err != nil {
		return nil, err
	}
	a.tokens = tokens
	a.log = a.log.With().Str("component", "auth").Logger()
	return a, nil
}

// Login authenticates email and password and opens a new session. Unknown
// users, wrong passwords and inactive accounts fail identically.
func (a *Authority) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		obs.CountLogin("failure")
		return LoginResult{}, ErrInvalidCredentials
	}

	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		obs.CountLogin("error")
		return LoginResult{}, err
	}
	if user == nil {
		_ = VerifyPassword(dummyHash(), password)
		obs.CountLogin("failure")
		a.log.Info().Str("email", email).Msg("login rejected")
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil || !user.Active {
		obs.CountLogin("failure")
		a.log.Info().Str("email", email).Str("user_id", user.ID).Msg("login rejected")
		return LoginResult{}, ErrInvalidCredentials
	}

	access, err := a.tokens.Issue(user)
	if err != nil {
		obs.CountLogin("error")
		return LoginResult{}, err
	}
	refresh, err := ids.Opaque(refreshTokenBytes)
	if err != nil {
		obs.CountLogin("error")
		return LoginResult{}, fmt.Errorf("generate refresh token: %w", err)
	}
	sessionID, err := ids.Opaque(sessionIDBytes)
	if err != nil {
		obs.CountLogin("error")
		return LoginResult{}, fmt.Errorf("generate session id: %w", err)
	}

	now := a.now().UTC()
	sess := &session.Session{
		ID:               sessionID,
		UserID:           user.ID,
		Email:            user.Email,
		RoleID:           user.RoleID,
		RefreshTokenHash: hashToken(refresh),
		CreatedAt:        now,
		ExpiresAt:        now.Add(a.sessionTTL),
		LastActivity:     now,
	}
	if err := a.admit(ctx, sess); err != nil {
		obs.CountLogin("error")
		return LoginResult{}, err
	}

	obs.CountLogin("success")
	a.log.Info().Str("user_id", user.ID).Int("role_id", user.RoleID).Msg("login succeeded")
	return LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sessionID,
		ExpiresIn:    a.accessTTL,
	}, nil
}

// admit stores sess after evicting the user's oldest sessions so that at
// most maxSessions remain live. Expired sessions found on the way are removed
// and do not count toward the cap.
func (a *Authority) admit(ctx context.Context, sess *session.Session) error {
	a.admitMu.Lock()
	defer a.admitMu.Unlock()

	existing, err := a.sessions.ListByUser(ctx, sess.UserID)
	if err != nil {
		return err
	}
	now := a.now()
	live := existing[:0]
	expired := 0
	for _, s := range existing {
		if s.Expired(now) {
			if err := a.sessions.Delete(ctx, s.ID); err != nil {
				return err
			}
			expired++
			continue
		}
		live = append(live, s)
	}
	obs.CountSessionsTerminated("expired", expired)

	evicted := 0
	for len(live) >= a.maxSessions {
		oldest := live[0]
		if err := a.sessions.Delete(ctx, oldest.ID); err != nil {
			return err
		}
		a.log.Info().Str("user_id", sess.UserID).Str("session_id", oldest.ID).Msg("session evicted by cap")
		live = live[1:]
		evicted++
	}
	obs.CountSessionsTerminated("evicted", evicted)

	return a.sessions.Create(ctx, sess)
}

// Verify validates accessToken. When sessionID names an existing session,
// the session must belong to the token's subject and must not be expired;
// an expired session is removed and fails even if the token is still valid.
func (a *Authority) Verify(ctx context.Context, accessToken, sessionID string) (Principal, error) {
	claims, err := a.tokens.Parse(accessToken)
	if err != nil {
		return Principal{}, err
	}
	p := Principal{UserID: claims.Subject, Email: claims.Email, RoleID: claims.Role}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return p, nil
	}
	sess, err := a.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return p, nil
	}
	if err != nil {
		return Principal{}, err
	}
	if sess.UserID != claims.Subject {
		return Principal{}, ErrSessionMismatch
	}
	now := a.now().UTC()
	if sess.Expired(now) {
		a.terminate(ctx, sess.ID, "expired")
		return Principal{}, ErrSessionExpired
	}

	if err := a.sessions.Touch(ctx, sess.ID, now); err != nil && !errors.Is(err, session.ErrNotFound) {
		a.log.Warn().Err(err).Str("session_id", sess.ID).Msg("record session activity")
	}
	p.SessionID = sess.ID
	return p, nil
}

// Refresh mints a new access token for the session bound to refreshToken
// and extends the session's expiry from now.
func (a *Authority) Refresh(ctx context.Context, refreshToken, sessionID string) (RefreshResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	refreshToken = strings.TrimSpace(refreshToken)
	if sessionID == "" {
		return RefreshResult{}, ErrSessionNotFound
	}
	sess, err := a.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return RefreshResult{}, ErrSessionNotFound
	}
	if err != nil {
		return RefreshResult{}, err
	}
	if refreshToken == "" || !equalHash(sess.RefreshTokenHash, hashToken(refreshToken)) {
		return RefreshResult{}, ErrInvalidRefreshToken
	}
	now := a.now().UTC()
	if sess.Expired(now) {
		a.terminate(ctx, sess.ID, "expired")
		return RefreshResult{}, ErrSessionExpired
	}

	user, err := a.users.FindByID(ctx, sess.UserID)
	if err != nil {
		return RefreshResult{}, err
	}
	if user == nil || !user.Active {
		a.terminate(ctx, sess.ID, "revoked")
		return RefreshResult{}, ErrInvalidCredentials
	}

	access, err := a.tokens.Issue(user)
	if err != nil {
		return RefreshResult{}, err
	}
	sess.Email = user.Email
	sess.RoleID = user.RoleID
	sess.ExpiresAt = now.Add(a.sessionTTL)
	sess.LastActivity = now
	if err := a.sessions.Update(ctx, sess); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// Logged out while we were minting.
			return RefreshResult{}, ErrSessionNotFound
		}
		return RefreshResult{}, err
	}

	a.log.Debug().Str("user_id", user.ID).Str("session_id", sess.ID).Msg("session refreshed")
	return RefreshResult{AccessToken: access, ExpiresIn: a.accessTTL}, nil
}

// Logout removes the session. Unknown ids are not an error.
func (a *Authority) Logout(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	if err := a.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	obs.CountSessionsTerminated("logout", 1)
	return nil
}

// SweepExpired removes every expired session and returns how many.
func (a *Authority) SweepExpired(ctx context.Context) (int, error) {
	n, err := a.sessions.Sweep(ctx, a.now().UTC())
	if err != nil {
		return n, err
	}
	obs.CountSessionsTerminated("swept", n)
	if n > 0 {
		a.log.Info().Int("removed", n).Msg("expired sessions swept")
	}
	return n, nil
}

// Run sweeps expired sessions every sweep interval until ctx is done.
func (a *Authority) Run(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				a.log.Error().Err(err).Msg("session sweep failed")
			}
		}
	}
}

// AccessTTL returns the lifetime of minted access tokens.
func (a *Authority) AccessTTL() time.Duration { return a.accessTTL }

func (a *Authority) terminate(ctx context.Context, id, reason string) {
	if err := a.sessions.Delete(ctx, id); err != nil {
		a.log.Error().Err(err).Str("session_id", id).Str("reason", reason).Msg("delete session")
		return
	}
	obs.CountSessionsTerminated(reason, 1)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func equalHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
