package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gpu-mode/kernelboard/internal/auth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubAdminPolicy struct {
	allowed string
}

func (s stubAdminPolicy) Allows(claims auth.SessionClaims) bool {
	return claims.UserID == s.allowed
}

func TestIsAdminLogsExpiredSessionAtInfoLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrExpiredSessionToken},
		admins:   stubAdminPolicy{allowed: "discord:1"},
		logger:   zap.New(core),
	}

	if handler.isAdmin(httptest.NewRequest(http.MethodGet, "/api/leaderboard-summaries", http.NoBody)) {
		t.Fatalf("expired session must not be admin")
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].Message != "session validation failed" {
		t.Fatalf("unexpected log entry %+v", entries[0])
	}
}

func TestIsAdminLogsUnexpectedSessionErrorAtWarnLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: errors.New("signature mismatch")},
		admins:   stubAdminPolicy{allowed: "discord:1"},
		logger:   zap.New(core),
	}

	if handler.isAdmin(httptest.NewRequest(http.MethodGet, "/", http.NoBody)) {
		t.Fatalf("invalid session must not be admin")
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected a single warn entry, got %+v", entries)
	}
}

func TestIsAdminIgnoresAnonymousRequests(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrMissingSessionToken},
		admins:   stubAdminPolicy{allowed: "discord:1"},
		logger:   zap.New(core),
	}

	if handler.isAdmin(httptest.NewRequest(http.MethodGet, "/", http.NoBody)) {
		t.Fatalf("anonymous request must not be admin")
	}
	if logs.Len() != 0 {
		t.Fatalf("anonymous requests must not log, got %d entries", logs.Len())
	}
}

func TestIsAdminRequiresBothDependencies(t *testing.T) {
	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "discord:1"}},
		logger:   zap.NewNop(),
	}
	if handler.isAdmin(httptest.NewRequest(http.MethodGet, "/", http.NoBody)) {
		t.Fatalf("expected no admin without a policy")
	}
	handler.admins = stubAdminPolicy{allowed: "discord:1"}
	if !handler.isAdmin(httptest.NewRequest(http.MethodGet, "/", http.NoBody)) {
		t.Fatalf("expected whitelisted session to be admin")
	}
}
