package ocppmsg

import (
	"fmt"
	"math/rand"
	"time"
)

// NewMessageID returns a message ID in the "<unix_seconds>-<nonce>"
// format with an 8-bit nonce, which keeps correlation human-readable in
// captured traffic. Two IDs generated within the same second collide
// with probability 1/256.
func NewMessageID(now time.Time, rng *rand.Rand) string {
	nonce := rng.Intn(256)
	return fmt.Sprintf("%d-%d", now.Unix(), nonce)
}

// Encode renders e as the wire bytes to send over the websocket.
func Encode(e Envelope) ([]byte, error) {
	return e.MarshalJSON()
}

// Decode parses wire bytes into an Envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	err := e.UnmarshalJSON(data)
	return e, err
}
