package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StreamPass/app/controllers"
	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/app/repository"
	"github.com/ManuelReschke/StreamPass/internal/pkg/cache/redistest"
	"github.com/ManuelReschke/StreamPass/internal/pkg/coupon"
	"github.com/ManuelReschke/StreamPass/internal/pkg/gateway"
	"github.com/ManuelReschke/StreamPass/internal/pkg/jobqueue"
	"github.com/ManuelReschke/StreamPass/internal/pkg/middleware"
	"github.com/ManuelReschke/StreamPass/internal/pkg/purchase"
	"github.com/ManuelReschke/StreamPass/internal/pkg/streamtoken"
	"github.com/ManuelReschke/StreamPass/internal/pkg/subscription"
	"github.com/ManuelReschke/StreamPass/internal/pkg/testdb"
	"github.com/ManuelReschke/StreamPass/internal/pkg/usercontext"
	"github.com/ManuelReschke/StreamPass/internal/pkg/wallet"
)

const (
	internalKey   = "internal-key-for-tests"
	adminKey      = "admin-key-for-tests"
	mediaKey      = "media-key-for-tests"
	webhookSecret = "webhook-secret-for-tests"
)

type fakeGateway struct {
	mu     sync.Mutex
	status string
}

func (g *fakeGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status := g.status
	if status == "" {
		status = gateway.StatusSucceeded
	}
	return &gateway.ChargeResult{ExternalTxID: "ext-" + req.IdempotencyKey, Status: status}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, externalTxID string, amount int64) error {
	return nil
}

type testServer struct {
	app      *fiber.App
	db       *gorm.DB
	ledger   *wallet.Service
	subs     *subscription.Manager
	gw       *fakeGateway
	handlers *controllers.Handlers
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	db := testdb.New(t)
	ctx := context.Background()

	ledger := wallet.NewService(db, wallet.Options{})
	catalog := repository.NewCatalogRepository(db)
	coupons := coupon.NewRepository(db)
	gw := &fakeGateway{}
	orch := purchase.NewOrchestrator(db, ledger, coupons, catalog, gw, purchase.Options{
		CommissionPercent: 20,
		PlatformAccountID: "platform",
		GatewayTimeout:    time.Second,
	})
	subs := subscription.NewManager(db, ledger, catalog, subscription.Options{
		CommissionPercent: 20,
		PlatformAccountID: "platform",
	})
	tokens, err := streamtoken.NewIssuer(db, []byte("0123456789abcdef0123456789abcdef"), catalog, subs, orch, nil, streamtoken.Options{})
	require.NoError(t, err)

	require.NoError(t, catalog.SaveContent(ctx, &models.Content{ID: "video-1", Kind: models.ItemTypeVideo, PerformerID: "perf", Price: 500}))
	require.NoError(t, catalog.SaveRoom(ctx, &models.Room{ID: "room-1", PerformerID: "perf"}))
	require.NoError(t, catalog.SavePerformerPlan(ctx, &models.PerformerPlan{PerformerID: "perf", MonthlyPrice: 999}))

	cfg.InternalKey = internalKey
	cfg.AdminKey = adminKey
	cfg.MediaKey = mediaKey

	app := fiber.New()
	handlers := &controllers.Handlers{
		Wallet:        ledger,
		Purchases:     orch,
		Subscriptions: subs,
		Tokens:        tokens,
		Coupons:       coupons,
		WebhookSecret: webhookSecret,
	}
	InstallRouter(app, handlers, cfg)
	return &testServer{app: app, db: db, ledger: ledger, subs: subs, gw: gw, handlers: handlers}
}

func (s *testServer) fund(t *testing.T, account string, amount int64) {
	t.Helper()
	_, _, err := s.ledger.Credit(context.Background(), account, amount, models.LedgerKindTopUp, "seed:"+account, "")
	require.NoError(t, err)
}

type call struct {
	method  string
	path    string
	body    interface{}
	user    string
	headers map[string]string
}

func (s *testServer) do(t *testing.T, c call) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if c.user != "" {
		req.Header.Set(middleware.HeaderInternalKey, internalKey)
		req.Header.Set(usercontext.HeaderUserID, c.user)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func admin(method, path string, body interface{}) call {
	return call{method: method, path: path, body: body, headers: map[string]string{middleware.HeaderAdminKey: adminKey}}
}

func TestPingAndAuth(t *testing.T) {
	s := newTestServer(t, Config{})

	status, body := s.do(t, call{method: http.MethodGet, path: "/api/v1/ping"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = s.do(t, call{method: http.MethodGet, path: "/api/v1/wallet"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/wallet", headers: map[string]string{middleware.HeaderInternalKey: internalKey}})
	assert.Equal(t, http.StatusUnauthorized, status, "caller id required")

	status, _ = s.do(t, call{method: http.MethodPost, path: "/admin/payouts", user: "fan", body: map[string]interface{}{}})
	assert.Equal(t, http.StatusUnauthorized, status, "internal key is not an admin key")
}

func TestCouponPurchaseFlow(t *testing.T) {
	s := newTestServer(t, Config{})
	s.fund(t, "fan", 1000)

	status, body := s.do(t, admin(http.MethodPost, "/admin/coupons", map[string]interface{}{
		"code": "half", "discount_type": "percentage", "discount_value": 50, "scope": "global", "active": true,
	}))
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "HALF", body["code"])

	status, _ = s.do(t, admin(http.MethodPost, "/admin/coupons", map[string]interface{}{
		"code": "HALF", "discount_type": "percentage", "discount_value": 10, "scope": "global", "active": true,
	}))
	assert.Equal(t, http.StatusConflict, status)

	purchaseBody := map[string]interface{}{
		"item":        map[string]interface{}{"type": "video", "id": "video-1"},
		"coupon_code": "half",
	}
	status, receipt := s.do(t, call{method: http.MethodPost, path: "/api/v1/purchases", user: "fan", body: purchaseBody})
	require.Equal(t, http.StatusCreated, status, receipt)
	assert.EqualValues(t, 500, receipt["gross_amount"])
	assert.EqualValues(t, 250, receipt["net_amount"])
	assert.EqualValues(t, 250, receipt["discount"])

	status, wallet := s.do(t, call{method: http.MethodGet, path: "/api/v1/wallet", user: "fan"})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 750, wallet["balance"])

	status, body = s.do(t, call{method: http.MethodPost, path: "/api/v1/purchases", user: "fan", body: purchaseBody})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_purchased", body["error"])
	prior, ok := body["receipt"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, receipt["purchase_id"], prior["purchase_id"])

	status, wallet = s.do(t, call{method: http.MethodGet, path: "/api/v1/wallet", user: "fan"})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 750, wallet["balance"])

	status, body = s.do(t, call{method: http.MethodGet, path: "/api/v1/wallet/entries?limit=10", user: "fan"})
	require.Equal(t, http.StatusOK, status)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 2)
	var amounts []float64
	for _, e := range entries {
		amounts = append(amounts, e.(map[string]interface{})["amount"].(float64))
	}
	assert.ElementsMatch(t, []float64{1000, -250}, amounts)

	status, body = s.do(t, admin(http.MethodGet, "/admin/accounts/perf/reconcile", nil))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 200, body["ledger_balance"])
	assert.EqualValues(t, 0, body["drift"])
}

func TestPurchaseErrors(t *testing.T) {
	s := newTestServer(t, Config{})
	s.fund(t, "poor", 100)

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
		code   string
	}{
		{"insufficient funds", map[string]interface{}{"item": map[string]interface{}{"type": "video", "id": "video-1"}}, http.StatusPaymentRequired, "insufficient_funds"},
		{"unknown coupon", map[string]interface{}{"item": map[string]interface{}{"type": "video", "id": "video-1"}, "coupon_code": "NOPE"}, http.StatusUnprocessableEntity, "coupon_not_found"},
		{"unknown item", map[string]interface{}{"item": map[string]interface{}{"type": "video", "id": "missing"}}, http.StatusNotFound, "not_found"},
		{"tip on purchase route", map[string]interface{}{"item": map[string]interface{}{"type": "tip", "amount": 10}}, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, call{method: http.MethodPost, path: "/api/v1/purchases", user: "poor", body: tt.body})
			assert.Equal(t, tt.status, status, body)
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestTipReplay(t *testing.T) {
	s := newTestServer(t, Config{})
	s.fund(t, "fan", 100)

	tip := map[string]interface{}{"performer_id": "perf", "amount": 40, "request_id": "r-1"}
	status, body := s.do(t, call{method: http.MethodPost, path: "/api/v1/tips", user: "fan", body: tip})
	require.Equal(t, http.StatusCreated, status, body)

	status, body = s.do(t, call{method: http.MethodPost, path: "/api/v1/tips", user: "fan", body: tip})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["replayed"])

	tip["amount"] = 41
	status, body = s.do(t, call{method: http.MethodPost, path: "/api/v1/tips", user: "fan", body: tip})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "idempotency_conflict", body["error"])
}

func TestTopUpWithCallback(t *testing.T) {
	s := newTestServer(t, Config{})
	s.gw.status = gateway.StatusPending

	status, body := s.do(t, call{method: http.MethodPost, path: "/api/v1/topups", user: "fan", body: map[string]interface{}{"amount": 500, "request_id": "t-1"}})
	require.Equal(t, http.StatusAccepted, status, body)
	assert.Equal(t, true, body["pending"])

	cb, err := json.Marshal(gateway.Callback{
		IdempotencyKey: purchase.TopUpKey("fan", "t-1"),
		ExternalTxID:   "ext-late",
		Status:         gateway.StatusSucceeded,
	})
	require.NoError(t, err)

	send := func(signature string) (int, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/gateway/callback", bytes.NewReader(cb))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set(gateway.SignatureHeader, signature)
		resp, err := s.app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		out := map[string]interface{}{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	status, _ = send("sha256=" + gateway.Sign(cb, "wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = send("sha256=" + gateway.Sign(cb, webhookSecret))
	require.Equal(t, http.StatusOK, status, body)

	status, body = send(gateway.Sign(cb, webhookSecret))
	require.Equal(t, http.StatusOK, status, body)
	receipt := body["receipt"].(map[string]interface{})
	assert.Equal(t, true, receipt["replayed"])

	status, wallet := s.do(t, call{method: http.MethodGet, path: "/api/v1/wallet", user: "fan"})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 500, wallet["balance"])

	status, body = s.do(t, admin(http.MethodPost, "/admin/topups/"+receipt["purchase_id"].(string)+"/refund", nil))
	require.Equal(t, http.StatusOK, status, body)
	status, wallet = s.do(t, call{method: http.MethodGet, path: "/api/v1/wallet", user: "fan"})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, wallet["balance"])
}

func TestSubscriptionAndStreamTokens(t *testing.T) {
	s := newTestServer(t, Config{})
	s.fund(t, "fan", 5000)

	status, sub := s.do(t, call{method: http.MethodPost, path: "/api/v1/subscriptions", user: "fan", body: map[string]interface{}{"performer_id": "perf", "plan": "monthly"}})
	require.Equal(t, http.StatusCreated, status, sub)
	assert.Equal(t, models.SubscriptionStatusActive, sub["status"])
	subID := sub["id"].(string)

	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/subscriptions/" + subID, user: "perf"})
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/subscriptions/" + subID, user: "stranger"})
	assert.Equal(t, http.StatusNotFound, status)

	status, body := s.do(t, admin(http.MethodPost, "/admin/subscriptions/"+subID+"/renew", nil))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "renewal_not_due", body["error"])

	// Token for the subscriber, validated by the media server
	status, issued := s.do(t, call{method: http.MethodPost, path: "/api/v1/stream-tokens", user: "fan", body: map[string]interface{}{"room_id": "room-1", "mode": "play"}})
	require.Equal(t, http.StatusCreated, status, issued)
	token := issued["token"].(string)

	validate := func(room string, key string) (int, map[string]interface{}) {
		return s.do(t, call{method: http.MethodPost, path: "/api/v1/media/validate",
			body:    map[string]interface{}{"token": token, "room_id": room, "mode": "play"},
			headers: map[string]string{middleware.HeaderMediaKey: key}})
	}
	status, body = validate("room-1", mediaKey)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["authorized"])
	assert.Equal(t, "fan", body["subject"])

	status, body = validate("room-2", mediaKey)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, false, body["authorized"])

	status, _ = validate("room-1", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/stream-tokens", user: "stranger", body: map[string]interface{}{"room_id": "room-1", "mode": "play"}})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, admin(http.MethodPost, "/admin/stream-tokens/"+issued["id"].(string)+"/revoke", nil))
	require.Equal(t, http.StatusOK, status)
	status, body = validate("room-1", mediaKey)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, false, body["authorized"])

	// Only the subscriber may cancel
	status, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/subscriptions/" + subID + "/cancel", user: "perf"})
	assert.Equal(t, http.StatusNotFound, status)
	status, body = s.do(t, call{method: http.MethodPost, path: "/api/v1/subscriptions/" + subID + "/cancel", user: "fan"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.SubscriptionStatusCancelled, body["status"])

	// Resubscribing the same day does not charge again or pass off the ended subscription as new
	status, body = s.do(t, call{method: http.MethodPost, path: "/api/v1/subscriptions", user: "fan", body: map[string]interface{}{"performer_id": "perf", "plan": "monthly"}})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "period_already_charged", body["error"])
	ended, ok := body["subscription"].(map[string]interface{})
	require.True(t, ok, body)
	assert.Equal(t, subID, ended["id"])
	assert.Equal(t, models.SubscriptionStatusCancelled, ended["status"])
}

func TestAdminLedgerOperations(t *testing.T) {
	s := newTestServer(t, Config{})
	s.fund(t, "perf", 300)

	payout := map[string]interface{}{"account_id": "perf", "amount": 100, "request_id": "p-1"}
	status, body := s.do(t, admin(http.MethodPost, "/admin/payouts", payout))
	require.Equal(t, http.StatusCreated, status, body)
	entryID := body["entry"].(map[string]interface{})["id"].(string)

	status, body = s.do(t, admin(http.MethodPost, "/admin/payouts", payout))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["replayed"])

	status, body = s.do(t, admin(http.MethodPost, "/admin/payouts", map[string]interface{}{"account_id": "perf", "amount": 1000, "request_id": "p-2"}))
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "insufficient_funds", body["error"])

	status, body = s.do(t, admin(http.MethodPost, "/admin/entries/"+entryID+"/reverse", nil))
	require.Equal(t, http.StatusCreated, status, body)
	reversal := body["entry"].(map[string]interface{})
	assert.EqualValues(t, 100, reversal["amount"])

	status, _ = s.do(t, admin(http.MethodPost, "/admin/entries/"+reversal["id"].(string)+"/reverse", nil))
	assert.Equal(t, http.StatusConflict, status)
	status, _ = s.do(t, admin(http.MethodPost, "/admin/entries/missing/reverse", nil))
	assert.Equal(t, http.StatusNotFound, status)

	status, body = s.do(t, admin(http.MethodGet, "/admin/accounts/perf/entries", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["entries"], 3)
}

func TestRateLimiter(t *testing.T) {
	s := newTestServer(t, Config{RateLimitMax: 2, RateLimitWindow: time.Minute})

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, call{method: http.MethodGet, path: "/api/v1/ping", headers: map[string]string{usercontext.HeaderUserID: "fan"}})
		require.Equal(t, http.StatusOK, status)
	}
	status, body := s.do(t, call{method: http.MethodGet, path: "/api/v1/ping", headers: map[string]string{usercontext.HeaderUserID: "fan"}})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", body["error"])

	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/ping", headers: map[string]string{usercontext.HeaderUserID: "other"}})
	assert.Equal(t, http.StatusOK, status)
}

func TestRateLimiterSkipsMachineEndpoints(t *testing.T) {
	s := newTestServer(t, Config{RateLimitMax: 2, RateLimitWindow: time.Minute})

	status, issued := s.do(t, call{method: http.MethodPost, path: "/api/v1/stream-tokens", user: "perf", body: map[string]interface{}{"room_id": "room-1", "mode": "publish"}})
	require.Equal(t, http.StatusCreated, status, issued)
	token := issued["token"].(string)

	for i := 0; i < 10; i++ {
		status, body := s.do(t, call{method: http.MethodPost, path: "/api/v1/media/validate",
			body:    map[string]interface{}{"token": token, "room_id": "room-1", "mode": "publish"},
			headers: map[string]string{middleware.HeaderMediaKey: mediaKey}})
		require.Equal(t, http.StatusOK, status, "validation %d", i+1)
		assert.Equal(t, true, body["authorized"])
	}

	for i := 0; i < 5; i++ {
		status, _ := s.do(t, call{method: http.MethodPost, path: "/api/v1/gateway/callback",
			body:    map[string]interface{}{"idempotency_key": "x"},
			headers: map[string]string{gateway.SignatureHeader: "sha256=bad"}})
		require.Equal(t, http.StatusUnauthorized, status, "callback %d", i+1)
	}

	// user routes from the same address are still limited
	for i := 0; i < 2; i++ {
		status, _ := s.do(t, call{method: http.MethodGet, path: "/api/v1/ping"})
		require.Equal(t, http.StatusOK, status)
	}
	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/ping"})
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestGetPurchaseReceipt(t *testing.T) {
	s := newTestServer(t, Config{})
	s.fund(t, "fan", 1000)

	status, receipt := s.do(t, call{method: http.MethodPost, path: "/api/v1/purchases", user: "fan",
		body: map[string]interface{}{"item": map[string]interface{}{"type": "video", "id": "video-1"}}})
	require.Equal(t, http.StatusCreated, status, receipt)
	id := receipt["purchase_id"].(string)

	status, body := s.do(t, call{method: http.MethodGet, path: "/api/v1/purchases/" + id, user: "fan"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, id, body["purchase_id"])
	assert.EqualValues(t, 500, body["net_amount"])
	assert.Equal(t, false, body["replayed"])

	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/purchases/" + id, user: "stranger"})
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/purchases/missing", user: "fan"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminJobRoutes(t *testing.T) {
	s := newTestServer(t, Config{})
	s.fund(t, "fan", 5000)

	status, body := s.do(t, admin(http.MethodGet, "/admin/jobs/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "scheduler_disabled", body["error"])

	queue := jobqueue.NewQueue(redistest.New(t, 14), 1)
	s.handlers.Jobs = jobqueue.NewManager(queue, &jobqueue.Tasks{Subscriptions: s.subs}, jobqueue.Schedule{})

	status, sub := s.do(t, call{method: http.MethodPost, path: "/api/v1/subscriptions", user: "fan", body: map[string]interface{}{"performer_id": "perf", "plan": "monthly"}})
	require.Equal(t, http.StatusCreated, status, sub)
	subID := sub["id"].(string)

	status, body = s.do(t, admin(http.MethodPost, "/admin/jobs/subscriptions/"+subID+"/renew", nil))
	require.Equal(t, http.StatusAccepted, status, body)
	assert.Equal(t, subID, body["subscription_id"])
	assert.NotEmpty(t, body["job_id"])

	status, _ = s.do(t, admin(http.MethodPost, "/admin/jobs/subscriptions/missing/renew", nil))
	assert.Equal(t, http.StatusNotFound, status)

	status, body = s.do(t, admin(http.MethodGet, "/admin/jobs/stats", nil))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, false, body["running"])
	assert.EqualValues(t, 1, body["pending"])

	status, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/subscriptions/" + subID + "/cancel", user: "fan"})
	require.Equal(t, http.StatusOK, status)
	status, body = s.do(t, admin(http.MethodPost, "/admin/jobs/subscriptions/"+subID+"/renew", nil))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "subscription_terminal", body["error"])
}

func TestOpsRoutes(t *testing.T) {
	s := newTestServer(t, Config{MonitorUsers: map[string]string{"ops": "secret"}})

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/monitor", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/monitor", nil)
	req.SetBasicAuth("ops", "secret")
	resp, err = s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
