package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>".
const SignatureHeader = "Gateway-Signature"

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrStaleSignature   = errors.New("signature timestamp outside tolerance")
)

// Sign computes the v1 signature over "<timestamp>.<payload>".
func Sign(payload []byte, timestamp int64, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SignatureValue builds a header value for payload signed at ts.
func SignatureValue(payload []byte, ts time.Time, secret string) string {
	t := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", t, Sign(payload, t, secret))
}

// VerifySignature checks header against payload. Any v1 entry may match,
// which lets the provider roll secrets. Zero tolerance skips the age check.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}

	var (
		ts         int64
		haveTS     bool
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			ts, haveTS = n, true
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if !haveTS || len(signatures) == 0 {
		return ErrMissingSignature
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleSignature
		}
	}

	expected := []byte(Sign(payload, ts, secret))
	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return ErrBadSignature
}
