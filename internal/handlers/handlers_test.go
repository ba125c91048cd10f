package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/grant-access/internal/access"
	"github.com/imrishuroy/grant-access/internal/apperr"
	"github.com/imrishuroy/grant-access/internal/idempotency"
	"github.com/imrishuroy/grant-access/internal/listingview"
	"github.com/imrishuroy/grant-access/internal/payment"
)

// --- fakes ---

type fakeAccess struct {
	requestErr   error
	decideOpts   access.DecisionOptions
	decideAction string
	decideAdmin  string
	filter       access.Filter
	deleteErr    error
	bulkIDs      []string
	reconciled   []payment.Event
	reconcileErr error
}

func (f *fakeAccess) RequestAccess(ctx context.Context, agentID, listingID string) (*access.AccessRequest, error) {
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return &access.AccessRequest{RequestID: "req-1", ListingID: listingID, AgentID: agentID, Status: access.StatusPending}, nil
}

func (f *fakeAccess) GetAgentRequest(ctx context.Context, agentID, listingID string) (*access.AgentView, error) {
	return &access.AgentView{RequestID: "req-1", ListingID: listingID, Status: access.StatusPending}, nil
}

func (f *fakeAccess) CreatePaymentIntent(ctx context.Context, agentID, requestID string) (*access.PaymentIntent, error) {
	return &access.PaymentIntent{RequestID: requestID, ClientSecret: "secret", AmountCents: 2500, Currency: "usd"}, nil
}

func (f *fakeAccess) AdminDecide(ctx context.Context, requestID, action, adminID string, opts access.DecisionOptions) (*access.AccessRequest, error) {
	f.decideAction, f.decideAdmin, f.decideOpts = action, adminID, opts
	return &access.AccessRequest{RequestID: requestID, Status: access.StatusPending}, nil
}

func (f *fakeAccess) ReconcileWebhookEvent(ctx context.Context, ev payment.Event) error {
	f.reconciled = append(f.reconciled, ev)
	return f.reconcileErr
}

func (f *fakeAccess) ListPayments(ctx context.Context, flt access.Filter) (*access.Page, error) {
	f.filter = flt
	return &access.Page{Items: []access.Row{}, Page: 1, Limit: 20}, nil
}

func (f *fakeAccess) Stats(ctx context.Context) (*access.Stats, error) {
	return &access.Stats{TotalRequests: 3, TotalPaid: 1, TotalRevenueCents: 2500}, nil
}

func (f *fakeAccess) GetRequest(ctx context.Context, requestID string) (*access.Row, error) {
	return nil, apperr.NotFound("access request %s not found", requestID)
}

func (f *fakeAccess) SoftDelete(ctx context.Context, requestID, adminID, reason string) (*access.AccessRequest, error) {
	return &access.AccessRequest{RequestID: requestID, IsDeleted: true, DeletedBy: adminID,
		History: []access.HistoryEntry{{Actor: adminID, Action: access.HistorySoftDelete, Reason: reason}}}, nil
}

func (f *fakeAccess) Restore(ctx context.Context, requestID, adminID, reason string) (*access.AccessRequest, error) {
	return nil, apperr.BadRequest("payment record %s is not deleted", requestID)
}

func (f *fakeAccess) Delete(ctx context.Context, requestID string) error {
	return f.deleteErr
}

func (f *fakeAccess) BulkDelete(ctx context.Context, ids []string) (*access.BulkDeleteResult, error) {
	f.bulkIDs = ids
	return &access.BulkDeleteResult{DeletedCount: len(ids) - 1, FailedCount: 1, FailedIDs: ids[:1]}, nil
}

type fakeDetail struct{ err error }

func (f fakeDetail) Detail(ctx context.Context, agentID, listingID string) (*listingview.Detail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &listingview.Detail{Access: access.ViewerAccess{Allowed: true, AccessKind: access.AccessKindPaid}}, nil
}

type fakeParser struct {
	ev  *payment.Event
	err error
}

func (f fakeParser) ParseWebhook(raw []byte, sig string) (*payment.Event, error) {
	if sig == "" {
		return nil, payment.ErrInvalidSignature
	}
	return f.ev, f.err
}

type fakeEvents struct {
	status map[string]string
	err    error
	// expire drops the record on Reopen, as a TTL sweep between put and update would.
	expire bool
}

func (f *fakeEvents) CreateIfNotExists(ctx context.Context, id, typ, ref string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.status[id]; ok {
		return false, nil
	}
	f.status[id] = "IN_PROGRESS"
	return true, nil
}

func (f *fakeEvents) Reopen(ctx context.Context, id string) (bool, error) {
	if f.expire {
		delete(f.status, id)
		return false, nil
	}
	if f.status[id] == "DONE" {
		return false, nil
	}
	f.status[id] = "IN_PROGRESS"
	return true, nil
}

func (f *fakeEvents) Get(ctx context.Context, id string) (*idempotency.EventRecord, error) {
	st, ok := f.status[id]
	if !ok {
		return nil, nil
	}
	return &idempotency.EventRecord{EventID: id, Status: st, Attempts: 1}, nil
}

func (f *fakeEvents) MarkDone(ctx context.Context, id string) error {
	f.status[id] = "DONE"
	return nil
}

func (f *fakeEvents) MarkFailed(ctx context.Context, id, note string) error {
	f.status[id] = "FAILED"
	return nil
}

type harness struct {
	router *gin.Engine
	access *fakeAccess
	events *fakeEvents
}

func newHarness(t *testing.T, parser fakeParser, detail fakeDetail) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &harness{
		router: gin.New(),
		access: &fakeAccess{},
		events: &fakeEvents{status: map[string]string{}},
	}
	RegisterRoutes(h.router, HandlerConfig{
		Access:   h.access,
		Listings: detail,
		Webhooks: parser,
		Events:   h.events,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func (h *harness) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

var (
	asAgent = map[string]string{HeaderAgentID: "agent-a"}
	asAdmin = map[string]string{HeaderAdminID: "admin-1"}
)

// --- agent routes ---

func TestRequestAccess_Routes(t *testing.T) {
	h := newHarness(t, fakeParser{}, fakeDetail{})

	w := h.do(http.MethodPost, "/agent/listings/l1/access", "", asAgent)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var got access.AccessRequest
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.AgentID != "agent-a" || got.ListingID != "l1" {
		t.Fatalf("unexpected body: %+v", got)
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Fatal("expected request id header")
	}

	w = h.do(http.MethodPost, "/agent/listings/l1/access", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", w.Code)
	}

	h.access.requestErr = apperr.Conflict("access request r1 for listing l1 already exists (status pending)")
	w = h.do(http.MethodPost, "/agent/listings/l1/access", "", asAgent)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "status pending") {
		t.Fatalf("expected 409 with status, got %d: %s", w.Code, w.Body.String())
	}

	h.access.requestErr = errors.New("dynamodb: throttled")
	w = h.do(http.MethodPost, "/agent/listings/l1/access", "", asAgent)
	if w.Code != http.StatusInternalServerError || strings.Contains(w.Body.String(), "throttled") {
		t.Fatalf("internal errors must be hidden, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListingDetail_Forbidden(t *testing.T) {
	h := newHarness(t, fakeParser{}, fakeDetail{err: apperr.Forbidden("complete payment for listing l1 to view renter details")})
	w := h.do(http.MethodGet, "/agent/listings/l1", "", asAgent)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	h = newHarness(t, fakeParser{}, fakeDetail{})
	w = h.do(http.MethodGet, "/agent/listings/l1", "", asAgent)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"access_kind":"paid"`) {
		t.Fatalf("expected detail, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPaymentIntentRoute(t *testing.T) {
	h := newHarness(t, fakeParser{}, fakeDetail{})
	w := h.do(http.MethodPost, "/agent/access/req-1/payment-intent", "", asAgent)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"client_secret":"secret"`) {
		t.Fatalf("unexpected response %d: %s", w.Code, w.Body.String())
	}
}

// --- admin routes ---

func TestDecisionRoute(t *testing.T) {
	h := newHarness(t, fakeParser{}, fakeDetail{})

	w := h.do(http.MethodPost, "/admin/access/req-1/decision", `{"action":"charge","charge_amount":25.5,"notes":"fee"}`, asAdmin)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if h.access.decideAction != "charge" || h.access.decideAdmin != "admin-1" || h.access.decideOpts.ChargeAmountCents != 2550 {
		t.Fatalf("unexpected call: %s %s %+v", h.access.decideAction, h.access.decideAdmin, h.access.decideOpts)
	}

	w = h.do(http.MethodPost, "/admin/access/req-1/decision", `{"action":"charge"}`, asAdmin)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "validation_failed") {
		t.Fatalf("expected 400 for missing amount, got %d: %s", w.Code, w.Body.String())
	}

	w = h.do(http.MethodPost, "/admin/access/req-1/decision", `{"action":"approve"}`, asAgent)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("agents cannot decide, got %d", w.Code)
	}
}

func TestListPaymentsRoute(t *testing.T) {
	h := newHarness(t, fakeParser{}, fakeDetail{})
	w := h.do(http.MethodGet, "/admin/payments?payment_status=failed&access_status=pending&page=3&limit=10&include_deleted=true", "", asAdmin)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want := access.Filter{PaymentStatus: "failed", AccessStatus: "pending", Page: 3, Limit: 10, IncludeDeleted: true}
	if h.access.filter != want {
		t.Fatalf("unexpected filter %+v", h.access.filter)
	}

	w = h.do(http.MethodGet, "/admin/payments?payment_status=refunded", "", asAdmin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}

	w = h.do(http.MethodGet, "/admin/payments/stats", "", asAdmin)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"total_revenue_cents":2500`) {
		t.Fatalf("unexpected stats response %d: %s", w.Code, w.Body.String())
	}

	w = h.do(http.MethodGet, "/admin/payments/nope", "", asAdmin)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRecordManagementRoutes(t *testing.T) {
	h := newHarness(t, fakeParser{}, fakeDetail{})

	w := h.do(http.MethodPost, "/admin/payments/req-1/soft-delete", `{"reason":"test data"}`, asAdmin)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"reason":"test data"`) {
		t.Fatalf("soft delete: %d %s", w.Code, w.Body.String())
	}
	w = h.do(http.MethodPost, "/admin/payments/req-1/soft-delete", "", asAdmin)
	if w.Code != http.StatusOK {
		t.Fatalf("soft delete without body: %d %s", w.Code, w.Body.String())
	}

	w = h.do(http.MethodPost, "/admin/payments/req-1/restore", "", asAdmin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("restore of live record: %d", w.Code)
	}

	w = h.do(http.MethodDelete, "/admin/payments/req-1", "", asAdmin)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	h.access.deleteErr = apperr.NotFound("payment record req-1 not found")
	w = h.do(http.MethodDelete, "/admin/payments/req-1", "", asAdmin)
	if w.Code != http.StatusNotFound {
		t.Fatalf("delete missing: %d", w.Code)
	}

	w = h.do(http.MethodPost, "/admin/payments/bulk-delete", `{"request_ids":["a","b","c"]}`, asAdmin)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"deleted_count":2`) || len(h.access.bulkIDs) != 3 {
		t.Fatalf("bulk delete: %d %s", w.Code, w.Body.String())
	}
	w = h.do(http.MethodPost, "/admin/payments/bulk-delete", `{"request_ids":[]}`, asAdmin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty bulk delete: %d", w.Code)
	}
}

// --- webhook ---

func postWebhook(h *harness, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(`{"id":"evt_1"}`))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestPaymentWebhook(t *testing.T) {
	ev := &payment.Event{ID: "evt_1", Type: "payment_intent.succeeded", Kind: payment.EventSucceeded, ExternalRef: "pi_1"}
	h := newHarness(t, fakeParser{ev: ev}, fakeDetail{})

	w := postWebhook(h, "")
	if w.Code != http.StatusBadRequest || len(h.access.reconciled) != 0 {
		t.Fatalf("bad signature should be rejected, got %d", w.Code)
	}

	w = postWebhook(h, "t=1,v1=sig")
	if w.Code != http.StatusOK || len(h.access.reconciled) != 1 {
		t.Fatalf("first delivery: %d, reconciled %d", w.Code, len(h.access.reconciled))
	}
	if h.events.status["evt_1"] != "DONE" {
		t.Fatalf("expected event marked done, got %s", h.events.status["evt_1"])
	}

	w = postWebhook(h, "t=1,v1=sig")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"duplicate":true`) || len(h.access.reconciled) != 1 {
		t.Fatalf("redelivery should short-circuit: %d %s", w.Code, w.Body.String())
	}
}

func TestPaymentWebhook_ReconcileFailureIsRetryable(t *testing.T) {
	ev := &payment.Event{ID: "evt_2", Type: "payment_intent.payment_failed", Kind: payment.EventFailed, ExternalRef: "pi_2"}
	h := newHarness(t, fakeParser{ev: ev}, fakeDetail{})
	h.access.reconcileErr = errors.New("update item: throttled")

	w := postWebhook(h, "t=1,v1=sig")
	if w.Code != http.StatusInternalServerError || h.events.status["evt_2"] != "FAILED" {
		t.Fatalf("expected 500 and FAILED mark, got %d %s", w.Code, h.events.status["evt_2"])
	}

	h.access.reconcileErr = nil
	w = postWebhook(h, "t=1,v1=sig")
	if w.Code != http.StatusOK || len(h.access.reconciled) != 2 || h.events.status["evt_2"] != "DONE" {
		t.Fatalf("redelivery after failure should reprocess: %d %d", w.Code, len(h.access.reconciled))
	}
}

func TestPaymentWebhook_ExpiredRecordIsReprocessed(t *testing.T) {
	ev := &payment.Event{ID: "evt_3", Type: "payment_intent.succeeded", Kind: payment.EventSucceeded, ExternalRef: "pi_3"}
	h := newHarness(t, fakeParser{ev: ev}, fakeDetail{})
	h.events.status["evt_3"] = "IN_PROGRESS"
	h.events.expire = true

	w := postWebhook(h, "t=1,v1=sig")
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "duplicate") || len(h.access.reconciled) != 1 {
		t.Fatalf("expected reconcile after record expiry: %d %s", w.Code, w.Body.String())
	}
}

func TestBulkDeleteRoute_LimitEnforcedByEngine(t *testing.T) {
	h := newHarness(t, fakeParser{}, fakeDetail{})
	ids := make([]string, 150)
	for i := range ids {
		ids[i] = fmt.Sprintf("r%d", i)
	}
	body, _ := json.Marshal(map[string][]string{"request_ids": ids})

	w := h.do(http.MethodPost, "/admin/payments/bulk-delete", string(body), asAdmin)
	if w.Code != http.StatusOK || len(h.access.bulkIDs) != 150 {
		t.Fatalf("batch above 100 should reach the engine: %d %s", w.Code, w.Body.String())
	}
}
