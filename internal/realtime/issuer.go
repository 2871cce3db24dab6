// Package realtime issues short-lived credentials for the audio/video
// transport. The engine only needs tokens; media never passes through here.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"soulseer/internal/clock"
	"soulseer/internal/domain"
)

type Role string

const (
	// RolePublisher may send media. Both parties of a consultation publish.
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

type Credential struct {
	Token         string    `json:"token"`
	AppID         string    `json:"app_id"`
	ChannelRef    string    `json:"channel_ref"`
	ParticipantID string    `json:"participant_id"`
	Role          Role      `json:"role"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type Issuer interface {
	IssueToken(ctx context.Context, channelRef, participantID string, role Role, ttl time.Duration) (*Credential, error)
}

type claims struct {
	Channel string `json:"channel"`
	Role    Role   `json:"role"`
	jwt.RegisteredClaims
}

// JWTIssuer signs HS256 tokens the transport verifies with the shared app secret.
type JWTIssuer struct {
	appID  string
	secret []byte
	clock  clock.Clock
}

func NewJWTIssuer(appID, secret string, clk clock.Clock) *JWTIssuer {
	return &JWTIssuer{appID: appID, secret: []byte(secret), clock: clk}
}

func (i *JWTIssuer) IssueToken(ctx context.Context, channelRef, participantID string, role Role, ttl time.Duration) (*Credential, error) {
	if len(i.secret) == 0 || i.appID == "" {
		return nil, fmt.Errorf("%w: transport credentials not configured", domain.ErrTransportUnavailable)
	}
	if channelRef == "" || participantID == "" {
		return nil, domain.Validationf("channel and participant are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
	}

	now := i.clock.Now()
	exp := now.Add(ttl)
	c := claims{
		Channel: channelRef,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   participantID,
			Audience:  []string{channelRef},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: sign token: %v", domain.ErrTransportUnavailable, err)
	}

	return &Credential{
		Token:         token,
		AppID:         i.appID,
		ChannelRef:    channelRef,
		ParticipantID: participantID,
		Role:          role,
		ExpiresAt:     exp,
	}, nil
}

// Verify parses a token this issuer signed and returns its channel and participant.
func (i *JWTIssuer) Verify(token string) (channelRef, participantID string, err error) {
	var c claims
	_, err = jwt.ParseWithClaims(token, &c,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.appID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return "", "", err
	}
	return c.Channel, c.Subject, nil
}
