package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/automation"
	"fleetsync/internal/client/heetch"
)

type fakePortal struct {
	startCalls    int
	completeCalls int
	startResult   *automation.StartResult
	startErr      error
	completeOut   []heetch.Cookie
	completeErr   error
	lastHandle    string
	lastSMS       string
	lastPassword  string
}

func (f *fakePortal) StartLogin(ctx context.Context, phone string, cookies []heetch.Cookie) (*automation.StartResult, error) {
	f.startCalls++
	return f.startResult, f.startErr
}

func (f *fakePortal) CompleteLogin(ctx context.Context, handle, smsCode, password string) ([]heetch.Cookie, error) {
	f.completeCalls++
	f.lastHandle = handle
	f.lastSMS = smsCode
	f.lastPassword = password
	return f.completeOut, f.completeErr
}

func TestCookiesServedFromStoreWithoutPortal(t *testing.T) {
	repo := newStubRepo()
	portal := &fakePortal{}
	m := NewSessionAuthManager(repo, portal, zap.NewNop(), "+33600000000", "pw", 24*time.Hour)
	storeTestCredential(t, repo, "org-1", "+33600000000")

	cookies, credID, err := m.Cookies(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Cookies: %v", err)
	}
	if len(cookies) != 1 || cookies[0].Name != "_heetch_session" {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}
	if credID == 0 {
		t.Error("credential id missing")
	}
	if portal.startCalls != 0 {
		t.Errorf("portal driven %d times for a valid stored session", portal.startCalls)
	}
}

func TestCookiesMissingCredential(t *testing.T) {
	m := NewSessionAuthManager(newStubRepo(), &fakePortal{}, zap.NewNop(), "+33600000000", "pw", 24*time.Hour)
	if _, _, err := m.Cookies(context.Background(), "org-1"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
}

func TestStartLoginImmediateSuccessPersists(t *testing.T) {
	repo := newStubRepo()
	portal := &fakePortal{startResult: &automation.StartResult{
		Outcome: automation.OutcomeLoggedIn,
		Cookies: []heetch.Cookie{{Name: "_heetch_session", Value: "fresh"}},
	}}
	m := NewSessionAuthManager(repo, portal, zap.NewNop(), "+33600000000", "pw", 24*time.Hour)

	res, err := m.StartLogin(context.Background(), "org-1", "")
	if err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	if res.State != SessionAuthenticated || res.Handle != "" {
		t.Fatalf("result = %+v, want authenticated with no handle", res)
	}
	state := m.State(context.Background(), "org-1")
	if state.State != SessionAuthenticated {
		t.Fatalf("state = %s", state.State)
	}
	if state.ExpiresAt == nil || time.Until(*state.ExpiresAt) < 23*time.Hour {
		t.Errorf("credential ttl not ~24h: %v", state.ExpiresAt)
	}
}

func TestSMSLoginFlow(t *testing.T) {
	repo := newStubRepo()
	portal := &fakePortal{
		startResult: &automation.StartResult{Handle: "h-1", Outcome: automation.OutcomeSMSRequired},
		completeOut: []heetch.Cookie{{Name: "_heetch_session", Value: "post-sms"}},
	}
	m := NewSessionAuthManager(repo, portal, zap.NewNop(), "+33600000000", "secret-pw", 24*time.Hour)

	res, err := m.StartLogin(context.Background(), "org-1", "")
	if err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	if res.State != SessionPendingSMS || res.Handle != "h-1" {
		t.Fatalf("result = %+v, want pending_sms with handle", res)
	}
	if got := m.State(context.Background(), "org-1"); got.State != SessionPendingSMS {
		t.Fatalf("state = %s", got.State)
	}

	if err := m.CompleteLogin(context.Background(), "org-1", "", "123456", ""); err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}
	if portal.lastHandle != "h-1" || portal.lastSMS != "123456" {
		t.Errorf("portal got handle %q sms %q", portal.lastHandle, portal.lastSMS)
	}
	if portal.lastPassword != "secret-pw" {
		t.Errorf("configured password not supplied, got %q", portal.lastPassword)
	}

	state := m.State(context.Background(), "org-1")
	if state.State != SessionAuthenticated {
		t.Fatalf("state after completion = %s", state.State)
	}
	cookies, _, err := m.Cookies(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Cookies after login: %v", err)
	}
	if cookies[0].Value != "post-sms" {
		t.Errorf("stored cookie value = %q", cookies[0].Value)
	}
}

func TestCompleteLoginConsumesPendingOnFailure(t *testing.T) {
	repo := newStubRepo()
	portal := &fakePortal{
		startResult: &automation.StartResult{Handle: "h-1", Outcome: automation.OutcomeSMSRequired},
		completeErr: automation.ErrLoginFailed,
	}
	m := NewSessionAuthManager(repo, portal, zap.NewNop(), "+33600000000", "pw", 24*time.Hour)

	if _, err := m.StartLogin(context.Background(), "org-1", ""); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	if err := m.CompleteLogin(context.Background(), "org-1", "", "000000", ""); err == nil {
		t.Fatal("want completion failure to surface")
	}
	// A fresh attempt is required; the dead handle must not linger.
	if state := m.State(context.Background(), "org-1"); state.State != SessionNone {
		t.Errorf("state = %s, want none after failed completion", state.State)
	}
}

func TestCompleteLoginWithoutPending(t *testing.T) {
	m := NewSessionAuthManager(newStubRepo(), &fakePortal{}, zap.NewNop(), "+33600000000", "pw", 24*time.Hour)
	err := m.CompleteLogin(context.Background(), "org-1", "", "123456", "")
	if !errors.Is(err, ErrLoginPending) {
		t.Fatalf("want ErrLoginPending, got %v", err)
	}
}

func TestLoginReplacesPreviousCredential(t *testing.T) {
	repo := newStubRepo()
	oldID := storeTestCredential(t, repo, "org-1", "+33600000000")
	portal := &fakePortal{startResult: &automation.StartResult{
		Outcome: automation.OutcomeLoggedIn,
		Cookies: []heetch.Cookie{{Name: "_heetch_session", Value: "renewed"}},
	}}
	m := NewSessionAuthManager(repo, portal, zap.NewNop(), "+33600000000", "pw", 24*time.Hour)

	if _, err := m.StartLogin(context.Background(), "org-1", ""); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	for _, c := range repo.creds {
		if c.ID == oldID && c.InvalidatedAt == nil {
			t.Error("previous credential still active after re-login")
		}
	}
	cookies, _, err := m.Cookies(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Cookies: %v", err)
	}
	if cookies[0].Value != "renewed" {
		t.Errorf("active cookie value = %q, want the renewed session", cookies[0].Value)
	}
}
