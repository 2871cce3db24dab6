package payment

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	valid := SignatureValue(payload, now, secret)

	tests := []struct {
		name    string
		payload []byte
		header  string
		want    error
	}{
		{"valid", payload, valid, nil},
		{"missing header", payload, "", ErrMissingSignature},
		{"no v1", payload, "t=1700000000", ErrMissingSignature},
		{"tampered payload", []byte(`{"id":"evt_2"}`), valid, ErrBadSignature},
		{"wrong secret", payload, SignatureValue(payload, now, "other"), ErrBadSignature},
		{"stale", payload, SignatureValue(payload, now.Add(-10*time.Minute), secret), ErrStaleSignature},
		{"rolled secret", payload, fmt.Sprintf("%s,v1=%s", SignatureValue(payload, now, "old"), Sign(payload, now.Unix(), secret)), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.payload, tt.header, secret, 5*time.Minute, now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifySignature_ZeroToleranceSkipsAge(t *testing.T) {
	payload := []byte(`{}`)
	header := SignatureValue(payload, time.Unix(0, 0), "s")
	assert.NoError(t, VerifySignature(payload, header, "s", 0, time.Now()))
}
