package tokens

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	orderActionPurpose = "order_action"
	orderTokenTTL      = 24 * time.Hour
	currentKeyID       = "v1"
)

// OrderClaims bind a card button to a single order.
type OrderClaims struct {
	OrderID int64  `json:"order_id"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

type Manager struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey), ttl: orderTokenTTL, now: time.Now}
}

// WithTTL overrides the default 24h lifetime.
func (m *Manager) WithTTL(ttl time.Duration) *Manager {
	m.ttl = ttl
	return m
}

// IssueOrderToken signs a token embedded in the Process/Discard buttons of a match card.
func (m *Manager) IssueOrderToken(orderID int64) (string, error) {
	now := m.now().UTC()
	claims := OrderClaims{
		OrderID: orderID,
		Purpose: orderActionPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(), // jti
			Subject:   strconv.FormatInt(orderID, 10),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = currentKeyID

	return token.SignedString(m.signingKey)
}

// ValidateOrderToken returns the order the token was issued for.
func (m *Manager) ValidateOrderToken(tokenString string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OrderClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if kid, _ := token.Header["kid"].(string); kid != currentKeyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return m.signingKey, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*OrderClaims)
	if !ok || !token.Valid || claims.Purpose != orderActionPurpose {
		return 0, ErrInvalidToken
	}
	return claims.OrderID, nil
}
