package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"fleetsync/internal/automation"
	"fleetsync/internal/client/heetch"
	"fleetsync/internal/models"
	"fleetsync/internal/repository"
)

// PortalAutomator is the browser login driver. Satisfied by
// automation.Portal; faked in tests.
type PortalAutomator interface {
	StartLogin(ctx context.Context, phone string, cookies []heetch.Cookie) (*automation.StartResult, error)
	CompleteLogin(ctx context.Context, handle, smsCode, password string) ([]heetch.Cookie, error)
}

// Session states reported to operators.
const (
	SessionNone            = "none"
	SessionAuthenticated   = "authenticated"
	SessionPendingSMS      = "pending_sms"
	SessionPendingPassword = "pending_password"
)

// SessionState is the operator-facing view of one org's portal
// session.
type SessionState struct {
	State     string     `json:"state"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Handle    string     `json:"handle,omitempty"`
}

// StartLoginResult reports where a login attempt landed. Handle is
// empty when the attempt completed without a second factor.
type StartLoginResult struct {
	State  string `json:"state"`
	Handle string `json:"handle,omitempty"`
}

type pendingLogin struct {
	handle    string
	outcome   automation.Outcome
	phone     string
	startedAt time.Time
}

// SessionAuthManager owns the portal credential lifecycle: restoring
// stored cookies, detecting expiry, and walking the interactive login
// flow when a fresh session is needed. Login attempts for the same
// (org, phone) are serialized so two operators cannot race a browser.
type SessionAuthManager struct {
	repo      repository.Repository
	portal    PortalAutomator
	logger    *zap.Logger
	cookieTTL time.Duration
	phone     string
	password  string

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	pending map[string]pendingLogin
}

func NewSessionAuthManager(repo repository.Repository, portal PortalAutomator, logger *zap.Logger, phone, password string, cookieTTL time.Duration) *SessionAuthManager {
	if cookieTTL <= 0 {
		cookieTTL = 24 * time.Hour
	}
	return &SessionAuthManager{
		repo:      repo,
		portal:    portal,
		logger:    logger,
		cookieTTL: cookieTTL,
		phone:     phone,
		password:  password,
		locks:     make(map[string]*sync.Mutex),
		pending:   make(map[string]pendingLogin),
	}
}

func (m *SessionAuthManager) lockFor(orgID, phone string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := orgID + "|" + phone
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

func (m *SessionAuthManager) phoneFor(phone string) string {
	if phone != "" {
		return phone
	}
	return m.phone
}

// Cookies restores the stored credential for org. It returns
// ErrSessionExpired when there is nothing usable; the credential id is
// returned so a failed data call can invalidate exactly the credential
// it used.
func (m *SessionAuthManager) Cookies(ctx context.Context, orgID string) ([]heetch.Cookie, uint64, error) {
	cred, err := m.repo.GetSessionCredential(ctx, orgID, m.phone)
	if err != nil {
		return nil, 0, fmt.Errorf("load session credential: %w", err)
	}
	if cred == nil {
		return nil, 0, fmt.Errorf("%w: no stored credential", ErrSessionExpired)
	}
	var cookies []heetch.Cookie
	if err := json.Unmarshal(cred.Cookies, &cookies); err != nil {
		return nil, 0, fmt.Errorf("decode stored cookies: %w", err)
	}
	now := time.Now().UTC()
	if now.After(cred.ExpiresAt) || heetch.Expired(cookies, now) {
		m.Invalidate(ctx, orgID, cred.ID)
		return nil, 0, fmt.Errorf("%w: stored credential past ttl", ErrSessionExpired)
	}
	return cookies, cred.ID, nil
}

// Invalidate marks a credential unusable after the portal rejected it.
func (m *SessionAuthManager) Invalidate(ctx context.Context, orgID string, credID uint64) {
	if credID == 0 {
		return
	}
	if err := m.repo.InvalidateSessionCredential(ctx, credID, time.Now().UTC()); err != nil {
		m.logger.Warn("invalidate session credential",
			zap.String("org_id", orgID), zap.Uint64("credential_id", credID), zap.Error(err))
		return
	}
	m.logger.Info("session credential invalidated",
		zap.String("org_id", orgID), zap.Uint64("credential_id", credID))
}

// State reports the current session state for org.
func (m *SessionAuthManager) State(ctx context.Context, orgID string) SessionState {
	m.mu.Lock()
	p, hasPending := m.pending[orgID]
	m.mu.Unlock()
	if hasPending {
		state := SessionPendingSMS
		if p.outcome == automation.OutcomePasswordRequired {
			state = SessionPendingPassword
		}
		return SessionState{State: state, Handle: p.handle}
	}

	cred, err := m.repo.GetSessionCredential(ctx, orgID, m.phone)
	if err != nil || cred == nil {
		return SessionState{State: SessionNone}
	}
	if time.Now().UTC().After(cred.ExpiresAt) {
		return SessionState{State: SessionNone}
	}
	expires := cred.ExpiresAt
	return SessionState{State: SessionAuthenticated, ExpiresAt: &expires}
}

// StartLogin runs the first phase of a portal login. When the stored
// cookies still work the session is refreshed without any challenge;
// otherwise the returned handle must be fed to CompleteLogin together
// with the second factor.
func (m *SessionAuthManager) StartLogin(ctx context.Context, orgID, phone string) (*StartLoginResult, error) {
	phone = m.phoneFor(phone)
	lock := m.lockFor(orgID, phone)
	lock.Lock()
	defer lock.Unlock()

	var stored []heetch.Cookie
	if cred, err := m.repo.GetSessionCredential(ctx, orgID, phone); err == nil && cred != nil {
		_ = json.Unmarshal(cred.Cookies, &stored)
	}

	res, err := m.portal.StartLogin(ctx, phone, stored)
	if err != nil {
		return nil, fmt.Errorf("portal login: %w", err)
	}

	if res.Outcome == automation.OutcomeLoggedIn {
		if err := m.persist(ctx, orgID, phone, res.Cookies); err != nil {
			return nil, err
		}
		return &StartLoginResult{State: SessionAuthenticated}, nil
	}

	m.mu.Lock()
	m.pending[orgID] = pendingLogin{
		handle:    res.Handle,
		outcome:   res.Outcome,
		phone:     phone,
		startedAt: time.Now().UTC(),
	}
	m.mu.Unlock()

	state := SessionPendingSMS
	if res.Outcome == automation.OutcomePasswordRequired {
		state = SessionPendingPassword
	}
	m.logger.Info("portal login awaiting second factor",
		zap.String("org_id", orgID), zap.String("state", state))
	return &StartLoginResult{State: state, Handle: res.Handle}, nil
}

// CompleteLogin finishes a pending login with the SMS code and/or
// password and persists the captured cookies. An empty handle resolves
// the org's pending attempt.
func (m *SessionAuthManager) CompleteLogin(ctx context.Context, orgID, handle, smsCode, password string) error {
	m.mu.Lock()
	p, ok := m.pending[orgID]
	m.mu.Unlock()
	if handle == "" {
		if !ok {
			return fmt.Errorf("%w: no pending login for org", ErrLoginPending)
		}
		handle = p.handle
	}
	phone := m.phoneFor(p.phone)
	if password == "" {
		password = m.password
	}

	lock := m.lockFor(orgID, phone)
	lock.Lock()
	defer lock.Unlock()

	cookies, err := m.portal.CompleteLogin(ctx, handle, smsCode, password)

	m.mu.Lock()
	if cur, exists := m.pending[orgID]; exists && cur.handle == handle {
		delete(m.pending, orgID)
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("complete portal login: %w", err)
	}
	return m.persist(ctx, orgID, phone, cookies)
}

// persist stores a fresh cookie set and retires the previous one.
func (m *SessionAuthManager) persist(ctx context.Context, orgID, phone string, cookies []heetch.Cookie) error {
	raw, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	now := time.Now().UTC()

	prev, _ := m.repo.GetSessionCredential(ctx, orgID, phone)

	cred := &models.SessionCredential{
		OrgID:       orgID,
		PhoneNumber: phone,
		Cookies:     datatypes.JSON(raw),
		ExpiresAt:   now.Add(m.cookieTTL),
		CreatedAt:   now,
	}
	if err := m.repo.CreateSessionCredential(ctx, cred); err != nil {
		return fmt.Errorf("store session credential: %w", err)
	}
	if prev != nil {
		m.Invalidate(ctx, orgID, prev.ID)
	}
	m.logger.Info("portal session stored",
		zap.String("org_id", orgID), zap.Time("expires_at", cred.ExpiresAt))
	return nil
}
