package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/referral"
)

// SignatureHeader is the header Stripe signs deliveries with.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is how old a signed timestamp may be.
const DefaultTolerance = 5 * time.Minute

// Verifier checks Stripe-style signatures: "t=<unix>,v1=<hex hmac>", where
// the HMAC-SHA256 covers "<t>.<payload>".
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithTolerance overrides DefaultTolerance. Zero disables the age check.
func WithTolerance(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.tolerance = d }
}

// WithVerifierClock overrides the time source.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier returns a Verifier for the endpoint secret.
func NewVerifier(secret string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret:    []byte(strings.TrimSpace(secret)),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify returns nil if header carries a valid signature of payload. All
// failures wrap referral.ErrWebhookSignature.
func (v *Verifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no secret configured", referral.ErrWebhookSignature)
	}

	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", referral.ErrWebhookSignature)
		}
	}

	expected := computeSignature(v.secret, ts, payload)
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching v1 signature", referral.ErrWebhookSignature)
}

// Sign builds a signature header for payload at t. It is the inverse of
// Verify and is used by tests and local tooling.
func Sign(secret string, payload []byte, t time.Time) string {
	ts := t.Unix()
	sig := computeSignature([]byte(strings.TrimSpace(secret)), ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(sig))
}

func computeSignature(secret []byte, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var (
		ts   int64
		sigs [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", referral.ErrWebhookSignature)
			}
			ts = n
		case "v1":
			b, err := hex.DecodeString(strings.ToLower(val))
			if err != nil {
				continue
			}
			sigs = append(sigs, b)
		}
	}

	if ts == 0 {
		return 0, nil, fmt.Errorf("%w: missing timestamp", referral.ErrWebhookSignature)
	}
	if len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: missing v1 signature", referral.ErrWebhookSignature)
	}
	return ts, sigs, nil
}
