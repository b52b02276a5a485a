package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"coinflip-backend/internal/handlers"
	"coinflip-backend/internal/models"
	"coinflip-backend/internal/services"
	"coinflip-backend/internal/store"
	"coinflip-backend/internal/tax"
)

type testServer struct {
	router *gin.Engine
	jwt    *services.JWTService
	hub    *handlers.WebSocketHub
}

func setupServer(t *testing.T, devRoutes bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	hub := handlers.NewWebSocketHub()
	t.Cleanup(hub.Close)

	engine := services.NewSettlementEngine(s, services.EngineConfig{
		AcceptTolerance: decimal.RequireFromString("0.05"),
		Tax:             tax.DefaultPolicy(),
		TaxPartyID:      "house",
		TxTimeout:       5 * time.Second,
	}, hub)
	jwtService := services.NewJWTService("test-secret", time.Hour)

	router := gin.New()
	handlers.RegisterRoutes(router, handlers.RouterDeps{
		Engine:     engine,
		JWTService: jwtService,
		Hub:        hub,
		DevRoutes:  devRoutes,
	})
	return &testServer{router: router, jwt: jwtService, hub: hub}
}

func (ts *testServer) token(t *testing.T, party string) string {
	t.Helper()
	token, err := ts.jwt.GenerateToken(party)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", w.Body.String(), err)
	}
}

func itemsBody(items ...models.Item) gin.H {
	return gin.H{"items": items}
}

func TestWagerLifecycle(t *testing.T) {
	ts := setupServer(t, true)
	alice, bob := ts.token(t, "alice"), ts.token(t, "bob")

	if w := ts.do(t, http.MethodPost, "/api/me/deposit", alice, itemsBody(models.Item{ID: "a1", Value: 1000})); w.Code != http.StatusOK {
		t.Fatalf("Deposit failed: %d %s", w.Code, w.Body.String())
	}
	bobItems := []models.Item{{ID: "b1", Value: 1000}, {ID: "b2", Value: 100}}
	if w := ts.do(t, http.MethodPost, "/api/me/deposit", bob, itemsBody(bobItems...)); w.Code != http.StatusOK {
		t.Fatalf("Deposit failed: %d %s", w.Code, w.Body.String())
	}

	w := ts.do(t, http.MethodPost, "/api/wagers", alice, gin.H{"items": []models.Item{{ID: "a1", Value: 1000}}, "side": "heads"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Create failed: %d %s", w.Code, w.Body.String())
	}
	var created struct {
		Wager models.Wager `json:"wager"`
	}
	decode(t, w, &created)
	id := created.Wager.ID
	if created.Wager.ServerSeed != "" || created.Wager.AcceptMax != 1050 {
		t.Errorf("Unexpected wager view %+v", created.Wager)
	}

	var listed struct {
		Count int `json:"count"`
	}
	decode(t, ts.do(t, http.MethodGet, "/api/wagers", bob, nil), &listed)
	if listed.Count != 1 {
		t.Errorf("Expected one open wager, got %d", listed.Count)
	}

	w = ts.do(t, http.MethodPost, "/api/wagers/"+id+"/join", bob, itemsBody(bobItems...))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 for out of range join, got %d %s", w.Code, w.Body.String())
	}
	var failure struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	decode(t, w, &failure)
	if failure.Code != string(models.CodeOutOfRange) || failure.Details["max"] != "1050" {
		t.Errorf("Unexpected error body %s", w.Body.String())
	}

	if w := ts.do(t, http.MethodGet, "/wagers/"+id+"/audit", "", nil); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 auditing an open wager, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/wagers/"+id+"/join", bob, gin.H{"items": bobItems[:1], "client_seed": "xyz"})
	if w.Code != http.StatusOK {
		t.Fatalf("Join failed: %d %s", w.Code, w.Body.String())
	}
	var joined struct {
		Result models.SettlementResult `json:"result"`
	}
	decode(t, w, &joined)
	if joined.Result.PotValue != 2000 || joined.Result.PayoutValue+joined.Result.TotalTaxValue != 2000 {
		t.Errorf("Unexpected settlement %+v", joined.Result)
	}

	if w := ts.do(t, http.MethodPost, "/api/wagers/"+id+"/join", bob, itemsBody(bobItems[1:]...)); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 joining a settled wager, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/wagers/"+id+"/cancel", alice, nil); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 cancelling a settled wager, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/wagers/"+id+"/audit", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Audit failed: %d %s", w.Code, w.Body.String())
	}
	var audited struct {
		Audit models.AuditRecord `json:"audit"`
	}
	decode(t, w, &audited)
	if !audited.Audit.Verified || audited.Audit.ClientSeed != "xyz" || audited.Audit.ServerSeedHash != created.Wager.ServerSeedHash {
		t.Errorf("Unexpected audit %+v", audited.Audit)
	}

	w = ts.do(t, http.MethodPost, "/verify", "", gin.H{
		"server_seed":      audited.Audit.ServerSeed,
		"server_seed_hash": audited.Audit.ServerSeedHash,
		"client_seed":      "xyz",
	})
	var verified struct {
		Verification models.VerifyResponse `json:"verification"`
	}
	decode(t, w, &verified)
	if !verified.Verification.Valid || verified.Verification.Outcome != joined.Result.Outcome {
		t.Errorf("Unexpected verification %+v", verified.Verification)
	}

	var mine struct {
		Wagers []models.Wager `json:"wagers"`
	}
	decode(t, ts.do(t, http.MethodGet, "/api/me/wagers", alice, nil), &mine)
	if len(mine.Wagers) != 1 || mine.Wagers[0].State != models.WagerStateSettled {
		t.Errorf("Expected alice's settled wager, got %+v", mine.Wagers)
	}

	var me struct {
		PartyID  string `json:"party_id"`
		Holdings struct {
			Value int64 `json:"value"`
		} `json:"holdings"`
	}
	decode(t, ts.do(t, http.MethodGet, "/api/me", ts.token(t, joined.Result.WinnerID), nil), &me)
	if me.PartyID != joined.Result.WinnerID || me.Holdings.Value < 2000 {
		t.Errorf("Expected winner to hold the pot, got %+v", me)
	}
}

func TestHoldingsEndpoint(t *testing.T) {
	ts := setupServer(t, true)
	alice := ts.token(t, "alice")

	ts.do(t, http.MethodPost, "/api/me/deposit", alice, itemsBody(models.Item{ID: "a1", Value: 250}, models.Item{ID: "a2", Value: 50}))

	w := ts.do(t, http.MethodGet, "/api/me", alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var me struct {
		PartyID  string `json:"party_id"`
		Holdings struct {
			Count int   `json:"count"`
			Value int64 `json:"value"`
		} `json:"holdings"`
	}
	decode(t, w, &me)
	if me.PartyID != "alice" || me.Holdings.Count != 2 || me.Holdings.Value != 300 {
		t.Errorf("Unexpected holdings %+v", me)
	}
}

func TestErrorStatuses(t *testing.T) {
	ts := setupServer(t, true)
	alice := ts.token(t, "alice")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		status int
	}{
		{"unauthenticated", http.MethodGet, "/api/wagers", "", nil, http.StatusUnauthorized},
		{"missing wager", http.MethodGet, "/api/wagers/nope", alice, nil, http.StatusNotFound},
		{"bad side", http.MethodPost, "/api/wagers", alice, gin.H{"items": []models.Item{{ID: "a1", Value: 1}}, "side": "edge"}, http.StatusBadRequest},
		{"no items", http.MethodPost, "/api/wagers", alice, gin.H{"side": "heads"}, http.StatusBadRequest},
		{"unheld items", http.MethodPost, "/api/wagers", alice, gin.H{"items": []models.Item{{ID: "a1", Value: 1}}, "side": "heads"}, http.StatusUnprocessableEntity},
		{"cancel missing", http.MethodPost, "/api/wagers/nope/cancel", alice, nil, http.StatusNotFound},
		{"verify without seeds", http.MethodPost, "/verify", "", gin.H{}, http.StatusBadRequest},
		{"health", http.MethodGet, "/healthz", "", nil, http.StatusOK},
	}

	for _, tt := range tests {
		if w := ts.do(t, tt.method, tt.path, tt.token, tt.body); w.Code != tt.status {
			t.Errorf("%s: expected %d, got %d %s", tt.name, tt.status, w.Code, w.Body.String())
		}
	}
}

func TestDevRoutes(t *testing.T) {
	dev := setupServer(t, true)
	w := dev.do(t, http.MethodPost, "/auth/dev", "", gin.H{"party_id": "carol"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected token, got %d", w.Code)
	}
	var issued struct {
		Token string `json:"token"`
	}
	decode(t, w, &issued)
	if claims, err := dev.jwt.ValidateToken(issued.Token); err != nil || claims.PartyID != "carol" {
		t.Errorf("Issued token invalid: %v", err)
	}
	if w := dev.do(t, http.MethodPost, "/auth/dev", "", gin.H{"party_id": models.EscrowPartyID("w1")}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a reserved party id, got %d", w.Code)
	}

	prod := setupServer(t, false)
	if w := prod.do(t, http.MethodPost, "/auth/dev", "", gin.H{"party_id": "carol"}); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without dev routes, got %d", w.Code)
	}
	if w := prod.do(t, http.MethodPost, "/api/me/deposit", prod.token(t, "carol"), itemsBody(models.Item{ID: "c1", Value: 1})); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without dev routes, got %d", w.Code)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) handlers.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg handlers.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return msg
}

func TestWebSocketReceivesWagerEvents(t *testing.T) {
	ts := setupServer(t, true)
	server := httptest.NewServer(ts.router)
	defer server.Close()

	alice := ts.token(t, "alice")
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws?token=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	if msg := readMessage(t, conn); msg.Type != "CONNECTED" {
		t.Fatalf("Expected CONNECTED, got %s", msg.Type)
	}

	if err := conn.WriteJSON(handlers.Message{Type: "PING"}); err != nil {
		t.Fatalf("Failed to ping: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != "PONG" {
		t.Fatalf("Expected PONG, got %s", msg.Type)
	}

	ts.do(t, http.MethodPost, "/api/me/deposit", alice, itemsBody(models.Item{ID: "a1", Value: 100}))
	w := ts.do(t, http.MethodPost, "/api/wagers", alice, gin.H{"items": []models.Item{{ID: "a1", Value: 100}}, "side": "tails"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Create failed: %d", w.Code)
	}
	var created struct {
		Wager models.Wager `json:"wager"`
	}
	decode(t, w, &created)

	msg := readMessage(t, conn)
	if msg.Type != "WAGER_CREATED" || msg.WagerID != created.Wager.ID {
		t.Errorf("Expected WAGER_CREATED for %s, got %s %s", created.Wager.ID, msg.Type, msg.WagerID)
	}

	if w := ts.do(t, http.MethodPost, "/api/wagers/"+created.Wager.ID+"/cancel", alice, nil); w.Code != http.StatusOK {
		t.Fatalf("Cancel failed: %d", w.Code)
	}
	if msg := readMessage(t, conn); msg.Type != "WAGER_CANCELLED" {
		t.Errorf("Expected WAGER_CANCELLED, got %s", msg.Type)
	}
}

func TestClosedHubRejectsEvents(t *testing.T) {
	hub := handlers.NewWebSocketHub()
	hub.Close()
	if err := hub.BroadcastWagerCreated(&models.Wager{ID: "w1"}); err == nil {
		t.Error("Expected error publishing to a closed hub")
	}
}
