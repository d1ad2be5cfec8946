package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-curbside/internal/data"
	"github.com/technosupport/ts-curbside/internal/events"
	"github.com/technosupport/ts-curbside/internal/snapshot"
)

var (
	testSnap  = snapshot.Snapshot{ImageRef: "https://snap.example/1.jpg", CapturedAt: "2021-04-23T08:00:10Z"}
	testOrder = &data.Order{
		ID: 12, Customer: "Bob", Menu: "Fries", Qty: 3, CarPlate: "MY70 BMW",
		OrderedAt: time.Date(2021, 4, 23, 8, 9, 46, 0, time.UTC),
	}
)

type staticIssuer string

func (s staticIssuer) IssueOrderToken(orderID int64) (string, error) { return string(s), nil }

// asJSON flattens a card to generic JSON so tests look at what Webex receives.
func asJSON(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func bodyText(card map[string]any, block, column, item int) string {
	body := card["body"].([]any)
	cols := body[block].(map[string]any)["columns"].([]any)
	items := cols[column].(map[string]any)["items"].([]any)
	return items[item].(map[string]any)["text"].(string)
}

func TestBuildMatchCard(t *testing.T) {
	card, err := BuildMatchCard(testSnap, testOrder, "MY70 BMW", staticIssuer("tok"))
	require.NoError(t, err)
	c := asJSON(t, card)

	assert.Equal(t, "1.2", c["version"])
	assert.Equal(t, "CUSTOMER HAS ARRIVED", bodyText(c, 0, 1, 1))
	assert.Equal(t, "[MY70 BMW](https://snap.example/1.jpg)", bodyText(c, 1, 1, 0))
	assert.Equal(t, "Bob", bodyText(c, 1, 1, 1))
	assert.Equal(t, "Fries / 3", bodyText(c, 1, 1, 2))
	assert.Equal(t, "23-Apr-2021 (08:09) / #12", bodyText(c, 1, 1, 3))

	body := c["body"].([]any)
	require.Len(t, body, 4)
	assert.Equal(t, "https://snap.example/1.jpg", body[2].(map[string]any)["url"])

	actions := body[3].(map[string]any)["actions"].([]any)
	require.Len(t, actions, 2)
	process := actions[0].(map[string]any)["data"].(map[string]any)
	discard := actions[1].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, map[string]any{"orderId": "12", "type": "orderProcessed", "token": "tok"}, process)
	assert.Equal(t, "orderDiscarded", discard["type"])
}

func TestBuildMatchCard_MissingFieldsRenderNA(t *testing.T) {
	card, err := BuildMatchCard(testSnap, &data.Order{ID: 3}, "", nil)
	require.NoError(t, err)
	c := asJSON(t, card)

	assert.Equal(t, "N/A", bodyText(c, 1, 1, 1))
	assert.Equal(t, "N/A / N/A", bodyText(c, 1, 1, 2))
	assert.Equal(t, "N/A / #3", bodyText(c, 1, 1, 3))
}

func TestBuildCards_AreIndependent(t *testing.T) {
	_, err := BuildMatchCard(testSnap, testOrder, "MY70 BMW", nil)
	require.NoError(t, err)

	c := asJSON(t, BuildNoMatchCard(testSnap, "ZZZ 999", "http://db.local"))
	body := c["body"].([]any)
	assert.Len(t, body, 3, "no-match card has no action set")
	assert.Equal(t, "CAR PLATE DETECTED BUT NO ORDER MATCH", bodyText(c, 0, 1, 1))
	assert.Equal(t, "[ZZZ 999](https://snap.example/1.jpg)", bodyText(c, 1, 1, 0))
	assert.Equal(t, "[Check DB manually](http://db.local)", bodyText(c, 1, 1, 1))
}

func TestBuildNoPlateCard(t *testing.T) {
	c := asJSON(t, BuildNoPlateCard(testSnap, ""))

	assert.Equal(t, "VEHICLE MOTION DETECTED BUT FAILED TO RECOGNIZE CAR PLATE", bodyText(c, 0, 1, 1))
	assert.Equal(t, "N/A", bodyText(c, 1, 1, 0))
	assert.Equal(t, "N/A", bodyText(c, 1, 1, 3))
	assert.Len(t, c["body"].([]any), 3)
}

func TestMarkdownVariants(t *testing.T) {
	md := MatchMarkdown(testSnap, testOrder, "MY70 BMW")
	assert.Contains(t, md, ">**CUSTOMER HAS ARRIVED**\n")
	assert.Contains(t, md, "Name: Bob\n")
	assert.Contains(t, md, "Qty: 3\n")
	assert.Contains(t, md, "[Image URL](https://snap.example/1.jpg)")

	assert.Equal(t, ">**CAR PLATE DETECTED BUT NO ORDER MATCH**\nCar plate: ZZZ\n[Image URL](https://snap.example/1.jpg)\n",
		NoMatchMarkdown(testSnap, "ZZZ"))
	assert.Equal(t, ">**VEHICLE MOTION DETECTED BUT FAILED TO RECOGNIZE CAR PLATE**\n[Image URL](https://snap.example/1.jpg)\n",
		NoPlateMarkdown(testSnap))
}

type fakeSender struct {
	msgs []Message
	err  error
}

func (f *fakeSender) CreateMessage(ctx context.Context, msg Message) (*MessageResult, error) {
	f.msgs = append(f.msgs, msg)
	if f.err != nil {
		return nil, f.err
	}
	return &MessageResult{ID: "m1"}, nil
}

func TestComposer_PicksVariant(t *testing.T) {
	s := &fakeSender{}
	c := NewComposer(s, ComposerConfig{RoomID: "room"})

	require.NoError(t, c.Notify(context.Background(), events.OutcomePlateDetected, testSnap, testOrder, "MY70 BMW"))
	require.NoError(t, c.Notify(context.Background(), events.OutcomePlateDetected, testSnap, nil, "ZZZ"))
	require.NoError(t, c.Notify(context.Background(), events.OutcomeNoPlate, testSnap, nil, ""))
	require.Len(t, s.msgs, 3)

	for _, m := range s.msgs {
		assert.Equal(t, "room", m.RoomID)
		assert.Equal(t, FallbackText, m.Text)
		require.Len(t, m.Attachments, 1)
		assert.Equal(t, AdaptiveCardType, m.Attachments[0].ContentType)
	}
	assert.Equal(t, "CUSTOMER HAS ARRIVED", bodyText(asJSON(t, s.msgs[0].Attachments[0].Content), 0, 1, 1))
	assert.Equal(t, "CAR PLATE DETECTED BUT NO ORDER MATCH", bodyText(asJSON(t, s.msgs[1].Attachments[0].Content), 0, 1, 1))
	assert.Equal(t, "VEHICLE MOTION DETECTED BUT FAILED TO RECOGNIZE CAR PLATE", bodyText(asJSON(t, s.msgs[2].Attachments[0].Content), 0, 1, 1))
}

func TestComposer_Markdown(t *testing.T) {
	s := &fakeSender{}
	c := NewComposer(s, ComposerConfig{RoomID: "room", Format: FormatMarkdown})

	require.NoError(t, c.Notify(context.Background(), events.OutcomeNoPlate, testSnap, nil, ""))
	require.Len(t, s.msgs, 1)
	assert.Empty(t, s.msgs[0].Attachments)
	assert.Equal(t, NoPlateMarkdown(testSnap), s.msgs[0].Markdown)
}

func TestComposer_MarkdownMatchKeepsActions(t *testing.T) {
	s := &fakeSender{}
	c := NewComposer(s, ComposerConfig{RoomID: "room", Format: FormatMarkdown})

	require.NoError(t, c.Notify(context.Background(), events.OutcomePlateDetected, testSnap, testOrder, "MY70 BMW"))
	require.NoError(t, c.Notify(context.Background(), events.OutcomePlateDetected, testSnap, nil, "ZZZ"))
	require.Len(t, s.msgs, 2)

	match := s.msgs[0]
	assert.Equal(t, MatchMarkdown(testSnap, testOrder, "MY70 BMW"), match.Markdown)
	require.Len(t, match.Attachments, 1)
	assert.Equal(t, AdaptiveCardType, match.Attachments[0].ContentType)
	raw, err := json.Marshal(match.Attachments[0].Content)
	require.NoError(t, err)
	assert.Contains(t, string(raw), ActionOrderProcessed)
	assert.Contains(t, string(raw), ActionOrderDiscarded)

	assert.Empty(t, s.msgs[1].Attachments)
}

func TestComposer_Errors(t *testing.T) {
	s := &fakeSender{err: errors.New("webex down")}
	c := NewComposer(s, ComposerConfig{RoomID: "room"})

	err := c.Notify(context.Background(), events.OutcomeNoPlate, testSnap, nil, "")
	var ne *NotificationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, events.OutcomeNoPlate, ne.Outcome)

	err = c.Notify(context.Background(), events.OutcomeIrrelevant, testSnap, nil, "")
	assert.ErrorIs(t, err, ErrNothingToNotify)
}

func TestWebexClient_CreateMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))

		var msg map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "room", msg["roomId"])
		att := msg["attachments"].([]any)[0].(map[string]any)
		assert.Equal(t, AdaptiveCardType, att["contentType"])

		w.Write([]byte(`{"id": "msg-1", "roomId": "room"}`))
	}))
	defer srv.Close()

	c := NewWebexClient(srv.URL, "tkn")
	res, err := c.CreateMessage(context.Background(), Message{
		RoomID:      "room",
		Text:        FallbackText,
		Attachments: []Attachment{{ContentType: AdaptiveCardType, Content: BuildNoPlateCard(testSnap, "")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.ID)
}

func TestWebexClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "The request requires a valid access token", "trackingId": "T-1"}`))
	}))
	defer srv.Close()

	_, err := NewWebexClient(srv.URL, "bad").CreateMessage(context.Background(), Message{RoomID: "r"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "T-1", apiErr.TrackingID)
}

func TestWebexClient_AttachmentActionsAndWebhooks(t *testing.T) {
	var deleted []string
	mux := http.NewServeMux()
	mux.HandleFunc("/attachment/actions/act-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "act-1", "type": "submit", "inputs": {"orderId": "12", "type": "orderProcessed"}}`))
	})
	mux.HandleFunc("/webhooks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req WebhookRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "attachmentActions", req.Resource)
			assert.Equal(t, "roomId=room", req.Filter)
			w.Write([]byte(`{"id": "wh-new", "resource": "attachmentActions", "event": "created"}`))
		default:
			w.Write([]byte(`{"items": [{"id": "wh-1"}, {"id": "wh-2"}]}`))
		}
	})
	mux.HandleFunc("/webhooks/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deleted = append(deleted, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewWebexClient(srv.URL, "tkn")
	ctx := context.Background()

	act, err := c.GetAttachmentAction(ctx, "act-1")
	require.NoError(t, err)
	assert.Equal(t, "orderProcessed", act.Inputs["type"])

	wh, err := c.CreateWebhook(ctx, WebhookRequest{Name: "n", TargetURL: "https://x/card_action", Resource: "attachmentActions", Event: "created", Filter: "roomId=room"})
	require.NoError(t, err)
	assert.Equal(t, "wh-new", wh.ID)

	list, err := c.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, c.DeleteWebhook(ctx, "wh-1"))
	assert.Equal(t, []string{"/webhooks/wh-1"}, deleted)
}
