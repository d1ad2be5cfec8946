package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-curbside/internal/data"
	"github.com/technosupport/ts-curbside/internal/metrics"
	"github.com/technosupport/ts-curbside/internal/notify"
)

const maxCardActionBody = 64 << 10

type OrderUpdater interface {
	SetServiced(ctx context.Context, orderID int64, serviced bool) error
}

type ActionFetcher interface {
	GetAttachmentAction(ctx context.Context, id string) (*notify.AttachmentAction, error)
}

type TokenValidator interface {
	ValidateOrderToken(token string) (int64, error)
}

// CardActionHandler flips an order's serviced flag when staff press a card button.
type CardActionHandler struct {
	Orders  OrderUpdater
	Actions ActionFetcher
	// Tokens, when set, requires every action to carry a token for its order.
	Tokens TokenValidator
	// WebhookSecret, when set, requires a valid X-Spark-Signature.
	WebhookSecret string
}

type cardActionRequest struct {
	ActionID string         `json:"actionId"`
	Inputs   map[string]any `json:"inputs"`
	Resource string         `json:"resource"`
	Data     *struct {
		ID string `json:"id"`
	} `json:"data"`
}

type cardAction struct {
	OrderID int64
	Type    string
	Token   string
}

var errBadAction = errors.New("bad card action")

// POST /card_action
func (h *CardActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCardActionBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if h.WebhookSecret != "" && !validSignature(h.WebhookSecret, body, r.Header.Get("X-Spark-Signature")) {
		metrics.RecordCardAction("unknown", "bad_signature")
		respondError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var req cardActionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed card action")
		return
	}

	inputs := req.Inputs
	if inputs == nil && req.Data != nil && req.Data.ID != "" {
		if h.Actions == nil {
			respondError(w, http.StatusBadRequest, "attachment action lookup not configured")
			return
		}
		act, err := h.Actions.GetAttachmentAction(r.Context(), req.Data.ID)
		if err != nil {
			log.Error().Err(err).Str("action_id", req.Data.ID).Msg("fetching attachment action failed")
			respondError(w, http.StatusBadGateway, "could not fetch card action")
			return
		}
		inputs = act.Inputs
	}

	action, err := parseAction(inputs)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.Tokens != nil {
		tokenOrder, err := h.Tokens.ValidateOrderToken(action.Token)
		if err != nil || tokenOrder != action.OrderID {
			metrics.RecordCardAction(action.Type, "bad_token")
			respondError(w, http.StatusBadRequest, "invalid action token")
			return
		}
	}

	serviced := action.Type == notify.ActionOrderProcessed
	if err := h.Orders.SetServiced(r.Context(), action.OrderID, serviced); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			metrics.RecordCardAction(action.Type, "not_found")
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		metrics.RecordCardAction(action.Type, "store_error")
		log.Error().Err(err).Int64("order_id", action.OrderID).Msg("updating serviced status failed")
		respondError(w, http.StatusBadGateway, "order store unavailable")
		return
	}

	metrics.RecordCardAction(action.Type, "ok")
	log.Info().Int64("order_id", action.OrderID).Bool("serviced", serviced).Msg("serviced status updated")
	respondJSON(w, http.StatusOK, map[string]any{"order_id": action.OrderID, "serviced": serviced})
}

func parseAction(inputs map[string]any) (cardAction, error) {
	if inputs == nil {
		return cardAction{}, fmt.Errorf("%w: missing inputs", errBadAction)
	}

	var a cardAction
	switch v := inputs["orderId"].(type) {
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return a, fmt.Errorf("%w: orderId %q", errBadAction, v)
		}
		a.OrderID = id
	case float64:
		if v != float64(int64(v)) {
			return a, fmt.Errorf("%w: orderId %v", errBadAction, v)
		}
		a.OrderID = int64(v)
	default:
		return a, fmt.Errorf("%w: missing orderId", errBadAction)
	}
	if a.OrderID <= 0 {
		return a, fmt.Errorf("%w: orderId must be positive", errBadAction)
	}

	a.Type, _ = inputs["type"].(string)
	if a.Type != notify.ActionOrderProcessed && a.Type != notify.ActionOrderDiscarded {
		return a, fmt.Errorf("%w: unknown action type %q", errBadAction, a.Type)
	}
	a.Token, _ = inputs["token"].(string)
	return a, nil
}

// validSignature checks Webex's HMAC-SHA1 body signature.
func validSignature(secret string, body []byte, sig string) bool {
	if sig == "" {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sig)))
}
