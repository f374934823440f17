package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// InstantLayout is the UTC millisecond form used for stored and fingerprinted instants.
const InstantLayout = "2006-01-02T15:04:05.000Z"

func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}

func ParseInstant(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

type fingerprintPayload struct {
	ID        string              `json:"id"`
	Timestamp string              `json:"timestamp"`
	Outputs   map[string]*float64 `json:"outputs"`
}

// Fingerprint is the record's version token: sha256 over id, timestamp and
// outputs with device names in sorted order. Correction metadata and the
// deletion stamp do not participate. It detects concurrent edits and is not a
// security primitive.
func Fingerprint(r EnergyRecord) string {
	outputs := map[string]*float64(r.Outputs)
	if outputs == nil {
		outputs = map[string]*float64{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json writes map keys in sorted order.
	if err := enc.Encode(fingerprintPayload{
		ID:        r.ID,
		Timestamp: FormatInstant(r.Timestamp),
		Outputs:   outputs,
	}); err != nil {
		// Only non-finite floats fail to encode; fall back to their text form
		// so the token is still deterministic.
		buf.Reset()
		buf.WriteString(r.ID)
		buf.WriteString(FormatInstant(r.Timestamp))
		for _, k := range sortedKeys(r.Outputs) {
			buf.WriteString(k)
			if v := r.Outputs[k]; v != nil {
				buf.WriteString(formatFloat(*v))
			}
		}
	}

	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:])
}
