package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/technosupport/ts-curbside/internal/alerttime"
)

const (
	QueryStandard   = "standard"
	QueryJSONServer = "json-server"
)

type RESTConfig struct {
	BaseURL        string
	QueryStyle     string
	OrdersPath     string
	DetectionsPath string
	Timeout        time.Duration
}

// RESTStore keeps orders and detections in a JSON-server style HTTP backend.
type RESTStore struct {
	cfg    RESTConfig
	client *http.Client
}

func NewRESTStore(cfg RESTConfig) *RESTStore {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.OrdersPath == "" {
		cfg.OrdersPath = "orders"
	}
	if cfg.DetectionsPath == "" {
		cfg.DetectionsPath = "detections"
	}
	if cfg.QueryStyle == "" {
		cfg.QueryStyle = QueryStandard
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RESTStore{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// restOrder tolerates numeric or string ids and zone-less times.
type restOrder struct {
	ID       json.RawMessage `json:"id"`
	Customer string          `json:"customer"`
	Menu     string          `json:"menu"`
	Qty      int             `json:"qty"`
	CarPlate string          `json:"car_plate"`
	Time     string          `json:"time"`
	Serviced bool            `json:"serviced"`
}

func (r restOrder) toOrder() (*Order, error) {
	id, err := parseID(r.ID)
	if err != nil {
		return nil, err
	}
	o := &Order{ID: id, Customer: r.Customer, Menu: r.Menu, Qty: r.Qty, CarPlate: r.CarPlate, Serviced: r.Serviced}
	if r.Time != "" {
		if t, err := alerttime.Parse(r.Time); err == nil {
			o.OrderedAt = t
		}
	}
	return o, nil
}

func parseID(raw json.RawMessage) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("order id %s is not numeric", string(raw))
	}
	return id, nil
}

func (s *RESTStore) CreateDetection(ctx context.Context, d *Detection) error {
	body := map[string]string{
		"plate":    d.Plate,
		"time":     alerttime.Format(d.DetectedAt),
		"location": d.Location,
	}
	var created struct {
		ID json.RawMessage `json:"id"`
	}
	if err := s.do(ctx, http.MethodPost, s.path(s.cfg.DetectionsPath), body, &created); err != nil {
		return err
	}
	if id, err := parseID(created.ID); err == nil {
		d.ID = id
	}
	return nil
}

func (s *RESTStore) FindLatestOrder(ctx context.Context, plate string) (*Order, error) {
	q := url.Values{}
	q.Set("car_plate", plate)
	if s.cfg.QueryStyle == QueryJSONServer {
		q.Set("_sort", "id")
		q.Set("_order", "desc")
		q.Set("_limit", "1")
	} else {
		q.Set("sort", "id")
		q.Set("order", "desc")
		q.Set("limit", "1")
	}

	var rows []restOrder
	if err := s.do(ctx, http.MethodGet, s.path(s.cfg.OrdersPath)+"?"+q.Encode(), nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	// Backends that ignore the sort parameters still get the newest row.
	best := rows[0]
	bestID, _ := parseID(best.ID)
	for _, r := range rows[1:] {
		if id, err := parseID(r.ID); err == nil && id > bestID {
			best, bestID = r, id
		}
	}
	return best.toOrder()
}

func (s *RESTStore) SetServiced(ctx context.Context, orderID int64, serviced bool) error {
	endpoint := s.path(s.cfg.OrdersPath, strconv.FormatInt(orderID, 10))
	return s.do(ctx, http.MethodPatch, endpoint, map[string]bool{"serviced": serviced}, nil)
}

func (s *RESTStore) CreateOrder(ctx context.Context, o *Order) error {
	if o.OrderedAt.IsZero() {
		o.OrderedAt = time.Now().UTC()
	}
	body := map[string]any{
		"customer":  o.Customer,
		"menu":      o.Menu,
		"qty":       o.Qty,
		"car_plate": o.CarPlate,
		"time":      alerttime.Format(o.OrderedAt),
		"serviced":  o.Serviced,
	}
	var created struct {
		ID json.RawMessage `json:"id"`
	}
	if err := s.do(ctx, http.MethodPost, s.path(s.cfg.OrdersPath), body, &created); err != nil {
		return err
	}
	id, err := parseID(created.ID)
	if err != nil {
		return err
	}
	o.ID = id
	return nil
}

func (s *RESTStore) path(parts ...string) string {
	out := s.cfg.BaseURL
	for _, p := range parts {
		out += "/" + strings.Trim(p, "/")
	}
	return out
}

func (s *RESTStore) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodPatch {
		return ErrRecordNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("order store: %s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("order store: decode %s response: %w", endpoint, err)
	}
	return nil
}
