package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/venuehub/marketplace/internal/apperr"
)

// DefaultTolerance bounds how stale a webhook timestamp may be.
const DefaultTolerance = 5 * time.Minute

// Event types this service reacts to.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

// Event is the provider's webhook envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Session decodes the event payload as a checkout session.
func (e *Event) Session() (*CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "malformed event object", err)
	}
	return &s, nil
}

// ParseEvent verifies the signature header (t=<unix>,v1=<hmac> scheme,
// HMAC-SHA256 over "<t>.<payload>") and decodes the event. now lets
// tests pin the clock; pass time.Now() in production code.
func ParseEvent(payload []byte, sigHeader, secret string, tolerance time.Duration, now time.Time) (*Event, error) {
	ts, sigs, err := parseSigHeader(sigHeader)
	if err != nil {
		return nil, err
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	at := time.Unix(ts, 0)
	if now.Sub(at) > tolerance || at.Sub(now) > tolerance {
		return nil, apperr.New(apperr.PermissionDenied, "webhook timestamp outside tolerance")
	}

	expected := signPayload(payload, secret, ts)
	ok := false
	for _, s := range sigs {
		if hmac.Equal([]byte(s), []byte(expected)) {
			ok = true
			break
		}
	}
	if !ok {
		return nil, apperr.New(apperr.PermissionDenied, "webhook signature mismatch")
	}

	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "malformed webhook payload", err)
	}
	return &evt, nil
}

func parseSigHeader(header string) (int64, []string, error) {
	var ts int64 = -1
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			v, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, apperr.New(apperr.InvalidInput, "malformed signature timestamp")
			}
			ts = v
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts < 0 || len(sigs) == 0 {
		return 0, nil, apperr.New(apperr.InvalidInput, "malformed signature header")
	}
	return ts, sigs, nil
}

func signPayload(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
