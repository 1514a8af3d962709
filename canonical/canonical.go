// Package canonical produces the deterministic byte form of an event and its digest.
// The same bytes are the AEAD plaintext and the hash input, so any verifier
// holding the plaintext can reproduce event_hash.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

// ErrExtraFieldCollision is returned when an Extra key shadows a variant field
var ErrExtraFieldCollision = errors.New("extra payload field collides with variant field")

// ErrInvalidPayload aliases the payload union error
var ErrInvalidPayload = types.ErrInvalidPayload

// Canonicalize returns the RFC 8785 form of the event's logical fields:
// device_id, device_type, event_payload, event_ts (RFC 3339, UTC) and event_type.
// The payload document is built from the populated union variant plus Extra.
func Canonicalize(ev types.Event) ([]byte, error) {
	payload, err := payloadDocument(ev.Payload)
	if err != nil {
		return nil, err
	}

	doc := map[string]any{
		"device_id":     ev.DeviceID,
		"device_type":   string(ev.DeviceType),
		"event_payload": payload,
		"event_ts":      ev.EventTS.UTC().Format(time.RFC3339Nano),
		"event_type":    ev.EventType,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal event: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// Digest returns the lowercase hex SHA-256 of b
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EventHash canonicalizes ev and digests the result
func EventHash(ev types.Event) ([]byte, string, error) {
	b, err := Canonicalize(ev)
	if err != nil {
		return nil, "", err
	}
	return b, Digest(b), nil
}

func payloadDocument(p types.Payload) (map[string]any, error) {
	variant, err := p.Variant()
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(variant)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal payload: %w", err)
	}
	fields := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("canonical: decode payload: %w", err)
	}

	for k, v := range p.Extra {
		if _, clash := fields[k]; clash {
			return nil, fmt.Errorf("%w: %q", ErrExtraFieldCollision, k)
		}
		fields[k] = v
	}
	return fields, nil
}
