package notify

import (
	"fmt"
	"strconv"

	"github.com/technosupport/ts-curbside/internal/data"
	"github.com/technosupport/ts-curbside/internal/snapshot"
)

const (
	cardSchema  = "http://adaptivecards.io/schemas/adaptive-card.json"
	cardVersion = "1.2"
	cardSource  = "Meraki Car Plate Detection"
	notAvail    = "N/A"

	// FallbackText is shown by clients that cannot render adaptive cards.
	FallbackText = "If you see this your client cannot render cards"

	ActionOrderProcessed = "orderProcessed"
	ActionOrderDiscarded = "orderDiscarded"

	orderTimeLayout = "02-Jan-2006 (15:04)"
)

const (
	iconArrived = "https://www.shareicon.net/data/128x128/2016/10/11/842378_multimedia_512x512.png"
	iconNoMatch = "https://findicons.com/files/icons/1671/simplicio/128/notification_warning.png"
	iconNoPlate = "https://findicons.com/files/icons/2015/24x24_free_application/24/warning.png"
)

type AdaptiveCard struct {
	Type    string `json:"type"`
	Schema  string `json:"$schema"`
	Version string `json:"version"`
	Body    []any  `json:"body"`
}

type TextBlock struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Color   string `json:"color,omitempty"`
	Size    string `json:"size,omitempty"`
	Weight  string `json:"weight,omitempty"`
	Spacing string `json:"spacing,omitempty"`
	Wrap    bool   `json:"wrap,omitempty"`
}

type Image struct {
	Type            string `json:"type"`
	URL             string `json:"url"`
	Size            string `json:"size,omitempty"`
	Height          string `json:"height,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
}

type Column struct {
	Type  string `json:"type"`
	Width any    `json:"width,omitempty"`
	Items []any  `json:"items"`
}

type ColumnSet struct {
	Type                string   `json:"type"`
	Columns             []Column `json:"columns"`
	Spacing             string   `json:"spacing,omitempty"`
	HorizontalAlignment string   `json:"horizontalAlignment,omitempty"`
}

type ActionSet struct {
	Type    string         `json:"type"`
	Actions []SubmitAction `json:"actions"`
	Spacing string         `json:"spacing,omitempty"`
}

type SubmitAction struct {
	Type  string     `json:"type"`
	Title string     `json:"title"`
	Data  ActionData `json:"data"`
	Style string     `json:"style,omitempty"`
}

// ActionData comes back as the attachment action inputs.
type ActionData struct {
	OrderID string `json:"orderId"`
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
}

// TokenIssuer signs card button payloads.
type TokenIssuer interface {
	IssueOrderToken(orderID int64) (string, error)
}

// BuildMatchCard renders "customer has arrived" with Process/Discard buttons.
// A nil issuer leaves the buttons unsigned.
func BuildMatchCard(snap snapshot.Snapshot, order *data.Order, plate string, issuer TokenIssuer) (*AdaptiveCard, error) {
	if order == nil {
		return nil, fmt.Errorf("match card needs an order")
	}

	var token string
	if issuer != nil {
		t, err := issuer.IssueOrderToken(order.ID)
		if err != nil {
			return nil, fmt.Errorf("sign card actions: %w", err)
		}
		token = t
	}

	orderID := strconv.FormatInt(order.ID, 10)
	card := newCard(iconArrived, "CUSTOMER HAS ARRIVED", "Accent", snap.ImageRef, [4]string{
		link(plate, snap.ImageRef),
		orNA(order.Customer),
		menuQty(order),
		orderedAt(order) + " / #" + orderID,
	})
	card.Body = append(card.Body, ActionSet{
		Type: "ActionSet",
		Actions: []SubmitAction{
			{Type: "Action.Submit", Title: "Process Order", Style: "positive",
				Data: ActionData{OrderID: orderID, Type: ActionOrderProcessed, Token: token}},
			{Type: "Action.Submit", Title: "Discard Order", Style: "destructive",
				Data: ActionData{OrderID: orderID, Type: ActionOrderDiscarded, Token: token}},
		},
		Spacing: "None",
	})
	return card, nil
}

// BuildNoMatchCard renders a recognized plate that has no order. No actions.
func BuildNoMatchCard(snap snapshot.Snapshot, plate, manualURL string) *AdaptiveCard {
	manual := manualLink(manualURL)
	return newCard(iconNoMatch, "CAR PLATE DETECTED BUT NO ORDER MATCH", "Attention", snap.ImageRef, [4]string{
		link(plate, snap.ImageRef), manual, manual, manual,
	})
}

func BuildNoPlateCard(snap snapshot.Snapshot, manualURL string) *AdaptiveCard {
	manual := manualLink(manualURL)
	return newCard(iconNoPlate, "VEHICLE MOTION DETECTED BUT FAILED TO RECOGNIZE CAR PLATE", "Warning", snap.ImageRef, [4]string{
		manual, manual, manual, notAvail,
	})
}

func newCard(icon, title, color, imageURL string, values [4]string) *AdaptiveCard {
	header := ColumnSet{
		Type: "ColumnSet",
		Columns: []Column{
			{Type: "Column", Width: "auto", Items: []any{
				Image{Type: "Image", URL: icon, Size: "Medium", Height: "50px", BackgroundColor: "White"},
			}},
			{Type: "Column", Width: "stretch", Items: []any{
				TextBlock{Type: "TextBlock", Text: cardSource, Color: "Good", Size: "Small", Weight: "Lighter"},
				TextBlock{Type: "TextBlock", Text: title, Wrap: true, Color: color, Size: "Medium", Spacing: "Small", Weight: "Bolder"},
			}},
		},
	}

	labels := []string{"Car plate:", "Name:", "Menu / Qty:", "Date order / ID:"}
	labelItems := make([]any, 0, len(labels))
	valueItems := make([]any, 0, len(values))
	for i := range labels {
		lb := TextBlock{Type: "TextBlock", Text: labels[i], Color: "Light"}
		vb := TextBlock{Type: "TextBlock", Text: values[i], Color: "Light"}
		if i > 0 {
			lb.Weight, lb.Spacing = "Lighter", "Small"
			vb.Weight, vb.Spacing = "Lighter", "Small"
		}
		labelItems = append(labelItems, lb)
		valueItems = append(valueItems, vb)
	}
	details := ColumnSet{
		Type: "ColumnSet",
		Columns: []Column{
			{Type: "Column", Width: 35, Items: labelItems},
			{Type: "Column", Width: 65, Items: valueItems},
		},
		Spacing:             "Padding",
		HorizontalAlignment: "Center",
	}

	return &AdaptiveCard{
		Type:    "AdaptiveCard",
		Schema:  cardSchema,
		Version: cardVersion,
		Body:    []any{header, details, Image{Type: "Image", URL: imageURL}},
	}
}

func link(text, target string) string {
	if text == "" {
		text = notAvail
	}
	return "[" + text + "](" + target + ")"
}

func manualLink(u string) string {
	if u == "" {
		return notAvail
	}
	return "[Check DB manually](" + u + ")"
}

func orNA(s string) string {
	if s == "" {
		return notAvail
	}
	return s
}

func menuQty(o *data.Order) string {
	qty := notAvail
	if o.Qty > 0 {
		qty = strconv.Itoa(o.Qty)
	}
	return orNA(o.Menu) + " / " + qty
}

func orderedAt(o *data.Order) string {
	if o.OrderedAt.IsZero() {
		return notAvail
	}
	return o.OrderedAt.UTC().Format(orderTimeLayout)
}
