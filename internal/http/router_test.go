package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"securechat/internal/clock"
	"securechat/internal/crypto"
	"securechat/internal/domain"
	"securechat/internal/llm"
	"securechat/internal/presence"
	"securechat/internal/repository"
	"securechat/internal/scheduler"
	"securechat/internal/service"
)

type testEnv struct {
	router    *gin.Engine
	clock     *clock.Fake
	store     *repository.MemoryStore
	registry  *presence.Registry
	scheduler *scheduler.Scheduler
	jwt       *service.JWTService
	gateway   *Gateway
	llm       *llm.MockClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore(clk)
	codec, err := crypto.New(crypto.CipherAESGCM, []byte(strings.Repeat("s", crypto.KeySize)))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	registry := presence.NewRegistry(nil)
	sched := scheduler.New(nil, clk, store.Messages(), registry, nil)
	delivery := service.NewDeliveryService(nil, store.Conversations(), store.Messages(), store.Users(), codec, registry, sched, nil, nil, clk)

	assistantUser, err := store.Users().EnsureAssistant(context.Background(), "ai@test", "AI Assistant")
	if err != nil {
		t.Fatalf("assistant: %v", err)
	}
	mock := &llm.MockClient{Response: "beep"}
	assistant := service.NewAssistantService(nil, mock, store.Conversations(), store.Messages(), codec, assistantUser, clk)

	jwtSvc := service.NewJWTService("test-secret", time.Hour)
	gateway := NewGateway(nil, jwtSvc, registry, delivery, 30*time.Second, 64*1024)
	logger := zap.NewNop()
	router := NewRouter(logger, jwtSvc, gateway, NewChatHandler(logger, delivery), NewAssistantHandler(logger, assistant))

	t.Cleanup(func() { sched.Stop() })

	return &testEnv{
		router:    router,
		clock:     clk,
		store:     store,
		registry:  registry,
		scheduler: sched,
		jwt:       jwtSvc,
		gateway:   gateway,
		llm:       mock,
	}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.jwt.GenerateAccessToken(domain.User{ID: userID})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouter_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/conversations", "/messages/u2", "/ai/conversation"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}
