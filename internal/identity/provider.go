// Package identity registers users, issues session tokens and resolves the
// identity behind a request. Callers pass the resolved uid to the record
// stores as the acting user.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/celerix-dev/agricare/internal/activity"
	"github.com/celerix-dev/agricare/internal/metrics"
	"github.com/celerix-dev/agricare/internal/records"
	"github.com/celerix-dev/agricare/internal/vault"
	"github.com/celerix-dev/agricare/pkg/schema"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

// Session is the result of a successful register or login.
type Session struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expiresAt"`
	User      schema.UserProfile `json:"user"`
}

// ProfilePatch holds the profile fields a user may change. Nil fields are left alone.
type ProfilePatch struct {
	DisplayName *string `json:"displayName" validate:"omitempty,max=100"`
	PhoneNumber *string `json:"phoneNumber" validate:"omitempty,max=32"`
	Address     *string `json:"address" validate:"omitempty,max=300"`
}

// Provider is the session and identity service.
type Provider struct {
	users    *records.Store[schema.UserProfile]
	tokens   *TokenIssuer
	revoked  RevocationList
	limiter  *loginLimiter
	audit    *activity.Log
	validate *records.Validator
	vaultKey []byte
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	now      func() time.Time

	registrationClosed bool
	admins             map[string]struct{}
	registerMu         sync.Mutex // serialises the email uniqueness check
}

type settings struct {
	revoked     RevocationList
	audit       *activity.Log
	vaultKey    []byte
	logger      *zap.SugaredLogger
	metrics     *metrics.Metrics
	now         func() time.Time
	loginEvery  rate.Limit
	loginBurst  int
	closeSignup bool
	admins      []string
}

// Option configures a Provider.
type Option func(*settings)

// WithRevocationList replaces the in-memory revocation list.
func WithRevocationList(r RevocationList) Option {
	return func(s *settings) { s.revoked = r }
}

// WithActivityLog records identity events in the audit log.
func WithActivityLog(l *activity.Log) Option {
	return func(s *settings) { s.audit = l }
}

// WithVaultKey encrypts phone numbers and addresses at rest.
func WithVaultKey(key []byte) Option {
	return func(s *settings) { s.vaultKey = key }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock sets the time source for tokens and rate limiting.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLoginRate sets how many login attempts per email are allowed.
func WithLoginRate(every rate.Limit, burst int) Option {
	return func(s *settings) {
		s.loginEvery = every
		s.loginBurst = burst
	}
}

// WithAdminEmails names the accounts allowed to list every user.
func WithAdminEmails(emails ...string) Option {
	return func(s *settings) { s.admins = append(s.admins, emails...) }
}

// WithRegistrationClosed rejects new accounts.
func WithRegistrationClosed() Option {
	return func(s *settings) { s.closeSignup = true }
}

// NewProvider builds a Provider storing users in db.
func NewProvider(db sdk.DocumentStore, secret []byte, ttl time.Duration, opts ...Option) (*Provider, error) {
	st := settings{
		logger:     zap.NewNop().Sugar(),
		now:        time.Now,
		loginEvery: rate.Every(12 * time.Second),
		loginBurst: 5,
	}
	for _, opt := range opts {
		opt(&st)
	}
	if st.metrics == nil {
		st.metrics = metrics.Nop()
	}
	if st.revoked == nil {
		st.revoked = NewMemoryRevocations(st.now)
	}
	if len(st.vaultKey) != 0 && len(st.vaultKey) != vault.KeySize {
		return nil, fmt.Errorf("%w: vault key must be %d bytes", ErrMisconfigured, vault.KeySize)
	}

	admins := make(map[string]struct{}, len(st.admins))
	for _, email := range st.admins {
		if email = normalizeEmail(email); email != "" {
			admins[email] = struct{}{}
		}
	}

	tokens, err := NewTokenIssuer(secret, ttl, st.now)
	if err != nil {
		return nil, err
	}

	return &Provider{
		users:              records.Users(db, records.WithLogger(st.logger), records.WithMetrics(st.metrics)),
		tokens:             tokens,
		revoked:            st.revoked,
		limiter:            newLoginLimiter(st.loginEvery, st.loginBurst, st.now),
		audit:              st.audit,
		validate:           records.NewValidator(),
		vaultKey:           st.vaultKey,
		logger:             st.logger,
		metrics:            st.metrics,
		now:                st.now,
		registrationClosed: st.closeSignup,
		admins:             admins,
	}, nil
}

// Register creates an account and returns its first session.
func (p *Provider) Register(ctx context.Context, email, password string) (Session, error) {
	if p.registrationClosed {
		return Session{}, ErrOperationNotAllowed
	}
	email = normalizeEmail(email)
	if err := p.validate.Var("email", email, "required,email"); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	if len(password) < MinPasswordLength {
		return Session{}, fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	p.registerMu.Lock()
	defer p.registerMu.Unlock()

	existing, err := p.findByEmail(ctx, email)
	if err != nil {
		return Session{}, err
	}
	if existing != nil {
		return Session{}, ErrEmailInUse
	}

	uid := uuid.NewString()
	user, err := p.users.CreateWithID(ctx, uid, schema.UserProfile{
		UID:          uid,
		Email:        email,
		PasswordHash: string(hash),
	}, "")
	if err != nil {
		return Session{}, err
	}

	p.logger.Infow("user registered", "uid", uid)
	p.record(ctx, uid, "Registered account", "Created account for "+email)
	return p.issue(user)
}

// Login checks credentials and returns a new session.
func (p *Provider) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if !p.limiter.allow(email) {
		p.metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
		return Session{}, ErrTooManyRequests
	}

	user, err := p.findByEmail(ctx, email)
	if err != nil {
		return Session{}, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		p.metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		return Session{}, ErrInvalidCredentials
	}
	if user.Disabled {
		p.metrics.LoginAttempts.WithLabelValues("disabled").Inc()
		return Session{}, ErrUserDisabled
	}

	p.metrics.LoginAttempts.WithLabelValues("ok").Inc()
	p.record(ctx, user.UID, "Logged in", "Signed in as "+user.Email)
	return p.issue(*user)
}

// Logout revokes token until it would have expired.
func (p *Provider) Logout(ctx context.Context, token string) error {
	claims, err := p.tokens.Parse(token)
	if err != nil {
		return ErrNoSession
	}
	ttl := claims.ExpiresAt.Sub(p.now())
	if err := p.revoked.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("%w: revoke token: %w", sdk.ErrUnavailable, err)
	}
	p.record(ctx, claims.Subject, "Logged out", "Signed out")
	return nil
}

// Current resolves the identity behind token. It returns a nil profile and
// ErrNoSession when the token is missing, invalid, expired or revoked.
func (p *Provider) Current(ctx context.Context, token string) (*schema.UserProfile, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoSession
	}
	claims, err := p.tokens.Parse(token)
	if err != nil {
		return nil, ErrNoSession
	}
	revoked, err := p.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: check revocation: %w", sdk.ErrUnavailable, err)
	}
	if revoked {
		return nil, ErrNoSession
	}

	user, found, err := p.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoSession
	}
	if user.Disabled {
		return nil, ErrUserDisabled
	}

	out, err := p.reveal(user)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile returns the stored profile of uid.
func (p *Provider) Profile(ctx context.Context, uid string) (schema.UserProfile, error) {
	user, found, err := p.users.GetByID(ctx, uid)
	if err != nil {
		return schema.UserProfile{}, err
	}
	if !found {
		return schema.UserProfile{}, sdk.ErrNotFound
	}
	return p.reveal(user)
}

// UpdateProfile applies patch to the profile of uid and stamps lastUpdated.
func (p *Provider) UpdateProfile(ctx context.Context, uid string, patch ProfilePatch) (schema.UserProfile, error) {
	if uid == "" {
		return schema.UserProfile{}, ErrNoSession
	}
	if err := p.validate.Struct(patch); err != nil {
		return schema.UserProfile{}, err
	}

	changes := records.Patch{}
	if patch.DisplayName != nil {
		changes["displayName"] = strings.TrimSpace(*patch.DisplayName)
	}
	if patch.PhoneNumber != nil {
		sealed, err := p.seal(strings.TrimSpace(*patch.PhoneNumber))
		if err != nil {
			return schema.UserProfile{}, err
		}
		changes["phoneNumber"] = sealed
	}
	if patch.Address != nil {
		sealed, err := p.seal(strings.TrimSpace(*patch.Address))
		if err != nil {
			return schema.UserProfile{}, err
		}
		changes["address"] = sealed
	}

	updated, err := p.users.Update(ctx, uid, changes, "")
	if err != nil {
		return schema.UserProfile{}, err
	}

	p.record(ctx, uid, "Updated profile", "Updated profile details")
	return p.reveal(updated)
}

// IsAdmin reports whether user may see every account.
func (p *Provider) IsAdmin(user *schema.UserProfile) bool {
	if user == nil {
		return false
	}
	_, ok := p.admins[normalizeEmail(user.Email)]
	return ok
}

// ListUsers returns every account ordered by email, with sealed fields opened
// and password hashes removed. Only admins may call it.
func (p *Provider) ListUsers(ctx context.Context, caller *schema.UserProfile) ([]schema.UserProfile, error) {
	if caller == nil {
		return nil, ErrNoSession
	}
	if !p.IsAdmin(caller) {
		return nil, ErrNotAdmin
	}

	stored, err := p.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]schema.UserProfile, 0, len(stored))
	for _, user := range stored {
		public, err := p.reveal(user)
		if err != nil {
			return nil, err
		}
		out = append(out, public)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (p *Provider) issue(user schema.UserProfile) (Session, error) {
	token, claims, err := p.tokens.Issue(user.UID, user.Email)
	if err != nil {
		return Session{}, err
	}
	public, err := p.reveal(user)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: public}, nil
}

func (p *Provider) findByEmail(ctx context.Context, email string) (*schema.UserProfile, error) {
	matches, err := p.users.List(ctx, sdk.Where("email", sdk.OpEq, email))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// reveal decrypts sealed fields and drops server-only ones.
func (p *Provider) reveal(user schema.UserProfile) (schema.UserProfile, error) {
	user = user.Public()
	if len(p.vaultKey) == 0 {
		return user, nil
	}
	var err error
	if user.PhoneNumber, err = vault.Open(user.PhoneNumber, p.vaultKey); err != nil {
		return schema.UserProfile{}, fmt.Errorf("open phone number: %w", err)
	}
	if user.Address, err = vault.Open(user.Address, p.vaultKey); err != nil {
		return schema.UserProfile{}, fmt.Errorf("open address: %w", err)
	}
	return user, nil
}

func (p *Provider) seal(value string) (string, error) {
	if len(p.vaultKey) == 0 {
		return value, nil
	}
	return vault.Seal(value, p.vaultKey)
}

// record appends an identity event to the audit log, if one is configured.
func (p *Provider) record(ctx context.Context, uid, action, details string) {
	if p.audit == nil {
		return
	}
	p.audit.Record(ctx, activity.Entry{
		UserID:     uid,
		Action:     action,
		Details:    details,
		EntityID:   uid,
		EntityType: schema.Users,
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsAuthError reports whether err is one of the identity errors a client
// should see as a failed authentication.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNoSession) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrUserDisabled)
}
