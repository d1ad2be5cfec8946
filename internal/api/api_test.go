package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-curbside/internal/api"
	"github.com/technosupport/ts-curbside/internal/data"
	"github.com/technosupport/ts-curbside/internal/events"
	"github.com/technosupport/ts-curbside/internal/notify"
	"github.com/technosupport/ts-curbside/internal/pipeline"
	"github.com/technosupport/ts-curbside/internal/tokens"
)

type fakePipeline struct {
	res   pipeline.Result
	err   error
	calls []pipeline.MotionAlert
}

func (f *fakePipeline) HandleAlert(ctx context.Context, alert pipeline.MotionAlert) (pipeline.Result, error) {
	f.calls = append(f.calls, alert)
	return f.res, f.err
}

type fakeOrders struct {
	updates map[int64]bool
	err     error
}

func (f *fakeOrders) SetServiced(ctx context.Context, id int64, serviced bool) error {
	if f.err != nil {
		return f.err
	}
	if f.updates == nil {
		f.updates = map[int64]bool{}
	}
	f.updates[id] = serviced
	return nil
}

type fakeActions struct {
	action *notify.AttachmentAction
	err    error
	asked  string
}

func (f *fakeActions) GetAttachmentAction(ctx context.Context, id string) (*notify.AttachmentAction, error) {
	f.asked = id
	return f.action, f.err
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const validAlert = `{"sharedSecret":"s","alertTypeId":"motion_alert","deviceSerial":"Q2XX","deviceName":"Lane 1","occurredAt":"2024-05-01T12:00:00Z"}`

func TestAlertHandler_ReturnsRunResult(t *testing.T) {
	p := &fakePipeline{res: pipeline.Result{
		RunID: "run-1", Outcome: pipeline.OutcomePlateDetected, Plate: "ABC123", OrderID: 7, Attempts: 2, Notified: true,
	}}
	rec := postJSON(api.NewAlertHandler(p), "/webhook", validAlert)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "PLATE_DETECTED", body["outcome"])
	assert.Equal(t, "ABC123", body["plate"])
	assert.EqualValues(t, 7, body["order_id"])
	assert.EqualValues(t, 2, body["attempts"])
	require.Len(t, p.calls, 1)
	assert.Equal(t, "Q2XX", p.calls[0].DeviceSerial)
	assert.Equal(t, "2024-05-01T12:00:00Z", p.calls[0].OccurredAt)
}

func TestAlertHandler_AbortedRunIs200WithError(t *testing.T) {
	p := &fakePipeline{res: pipeline.Result{RunID: "r", Outcome: pipeline.OutcomeAborted, Attempts: 1, Err: errors.New("snapshot unavailable")}}
	rec := postJSON(api.NewAlertHandler(p), "/webhook", validAlert)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"snapshot unavailable"`)
}

func TestAlertHandler_Rejections(t *testing.T) {
	rejected := &fakePipeline{err: &pipeline.AdmissionError{Reason: pipeline.ReasonSecret, Err: errors.New("bad secret")}}

	rec := postJSON(api.NewAlertHandler(rejected), "/webhook", validAlert)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"secret"`)

	p := &fakePipeline{}
	rec = postJSON(api.NewAlertHandler(p), "/webhook", `{"sharedSecret":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(validAlert))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	api.NewAlertHandler(p).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, p.calls)
}

func TestAlertHandler_UnexpectedErrorIs500(t *testing.T) {
	rec := postJSON(api.NewAlertHandler(&fakePipeline{err: errors.New("boom")}), "/webhook", validAlert)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCardAction_DirectInputs(t *testing.T) {
	orders := &fakeOrders{}
	h := &api.CardActionHandler{Orders: orders}

	rec := postJSON(h, "/card_action", `{"actionId":"a1","inputs":{"orderId":"42","type":"orderProcessed"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, orders.updates[42])

	rec = postJSON(h, "/card_action", `{"inputs":{"orderId":43,"type":"orderDiscarded"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	serviced, ok := orders.updates[43]
	assert.True(t, ok)
	assert.False(t, serviced)
}

func TestCardAction_BadInputs(t *testing.T) {
	h := &api.CardActionHandler{Orders: &fakeOrders{}}
	for _, body := range []string{
		`not json`,
		`{}`,
		`{"inputs":{"orderId":"x","type":"orderProcessed"}}`,
		`{"inputs":{"orderId":"5","type":"launch"}}`,
		`{"inputs":{"orderId":0,"type":"orderProcessed"}}`,
	} {
		rec := postJSON(h, "/card_action", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCardAction_StoreErrors(t *testing.T) {
	rec := postJSON(&api.CardActionHandler{Orders: &fakeOrders{err: data.ErrRecordNotFound}}, "/card_action",
		`{"inputs":{"orderId":"9","type":"orderProcessed"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = postJSON(&api.CardActionHandler{Orders: &fakeOrders{err: errors.New("db down")}}, "/card_action",
		`{"inputs":{"orderId":"9","type":"orderProcessed"}}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCardAction_WebhookEnvelope(t *testing.T) {
	orders := &fakeOrders{}
	actions := &fakeActions{action: &notify.AttachmentAction{
		ID:     "act-1",
		Inputs: map[string]any{"orderId": "11", "type": "orderProcessed"},
	}}
	h := &api.CardActionHandler{Orders: orders, Actions: actions}

	rec := postJSON(h, "/card_action", `{"resource":"attachmentActions","event":"created","data":{"id":"act-1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "act-1", actions.asked)
	assert.True(t, orders.updates[11])

	actions.err = errors.New("webex 500")
	rec = postJSON(h, "/card_action", `{"data":{"id":"act-2"}}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCardAction_Token(t *testing.T) {
	mgr := tokens.NewManager("card-key")
	tok, err := mgr.IssueOrderToken(21)
	require.NoError(t, err)
	other, err := mgr.IssueOrderToken(22)
	require.NoError(t, err)

	orders := &fakeOrders{}
	h := &api.CardActionHandler{Orders: orders, Tokens: mgr}

	rec := postJSON(h, "/card_action", `{"inputs":{"orderId":"21","type":"orderProcessed","token":"`+tok+`"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(h, "/card_action", `{"inputs":{"orderId":"21","type":"orderProcessed","token":"`+other+`"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(h, "/card_action", `{"inputs":{"orderId":"21","type":"orderProcessed"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCardAction_Signature(t *testing.T) {
	orders := &fakeOrders{}
	h := &api.CardActionHandler{Orders: orders, WebhookSecret: "hook-secret"}
	body := `{"inputs":{"orderId":"3","type":"orderProcessed"}}`

	mac := hmac.New(sha1.New, []byte("hook-secret"))
	mac.Write([]byte(body))

	req := httptest.NewRequest(http.MethodPost, "/card_action", bytes.NewBufferString(body))
	req.Header.Set("X-Spark-Signature", hex.EncodeToString(mac.Sum(nil)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/card_action", bytes.NewBufferString(body))
	req.Header.Set("X-Spark-Signature", "deadbeef")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	h := api.NewHealthHandler(map[string]api.CheckFunc{
		"store": func(ctx context.Context) error { return nil },
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"ok"`)

	h.Checks["redis"] = func(ctx context.Context) error { return errors.New("connection refused") }
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestRouter_Routes(t *testing.T) {
	p := &fakePipeline{res: pipeline.Result{RunID: "r", Outcome: pipeline.OutcomeIrrelevant, Attempts: 3}}
	r := api.NewRouter(api.RouterConfig{
		Alerts:         api.NewAlertHandler(p),
		Cards:          &api.CardActionHandler{Orders: &fakeOrders{}},
		Health:         api.NewHealthHandler(nil),
		RequestTimeout: time.Second,
	})

	rec := postJSON(r, "/webhook", validAlert)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type slowPipeline struct {
	wait   time.Duration
	ctxErr error
}

func (s *slowPipeline) HandleAlert(ctx context.Context, alert pipeline.MotionAlert) (pipeline.Result, error) {
	time.Sleep(s.wait)
	s.ctxErr = ctx.Err()
	return pipeline.Result{RunID: "slow", Outcome: pipeline.OutcomePlateDetected, Attempts: 1, Notified: true}, nil
}

func TestRouter_WebhookOutlivesRequestTimeout(t *testing.T) {
	p := &slowPipeline{wait: 100 * time.Millisecond}
	r := api.NewRouter(api.RouterConfig{
		Alerts:         api.NewAlertHandler(p),
		RequestTimeout: 10 * time.Millisecond,
	})

	rec := postJSON(r, "/webhook", validAlert)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, p.ctxErr, "the alert request must not carry the route timeout")
	assert.Contains(t, rec.Body.String(), `"outcome":"PLATE_DETECTED"`)
}

func TestFeed_StreamsRunEvents(t *testing.T) {
	hub := events.NewHub()
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{Feed: api.NewFeedHandler(hub)}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/runs/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), events.RunEvent{RunID: "run-9", Outcome: events.OutcomeNoPlate}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt events.RunEvent
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "run-9", evt.RunID)
	assert.Equal(t, events.OutcomeNoPlate, evt.Outcome)
}
