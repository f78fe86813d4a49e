// Package packet defines the wire record carried between routers: a JSON
// object with a protocol tag, a message type, routing addresses, a hop
// budget, a small header bag used for deduplication and loop detection, and
// an opaque payload.
//
// This corresponds to the teacher firmware's Packet/codec layer, rebuilt
// around a JSON wire format instead of a binary frame: the field names,
// route-type/payload-type split, and path-window bookkeeping all have a
// direct analogue, but the encoding is permissive JSON rather than a
// fixed-layout byte buffer.
package packet

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Protocol tags identifying which routing algorithm originated a packet.
const (
	ProtoFlooding = "flooding"
	ProtoDijkstra = "dijkstra"
	ProtoLSR      = "lsr"
)

// Packet types.
const (
	TypeMessage   = "message"
	TypeEcho      = "echo"
	TypeEchoReply = "echo_reply"
	TypeHello     = "hello"
	TypeInfo      = "info"
	TypeLSA       = "lsa"
)

// Reserved destination addresses.
const (
	Broadcast = "broadcast"
	Multicast = "multicast"
)

// MaxPathLen is the rolling window size for the path header's cheap loop
// filter: only the last MaxPathLen forwarders are retained.
const MaxPathLen = 3

// Packet is the immutable-on-wire record forwarded between routers.
//
// Headers is always normalized to a map on first mutation (EnsureMsgID,
// SetPath): a bare list of strings is accepted for legacy compatibility and
// rewritten to {"path": [...], "msg_id": "<fresh>"}. Code that only reads
// should prefer GetPath/GetMsgID which tolerate both shapes.
type Packet struct {
	Proto   string         `json:"proto"`
	Type    string         `json:"type"`
	From    string         `json:"from"`
	To      string         `json:"to"`
	TTL     int            `json:"ttl"`
	Headers map[string]any `json:"headers"`
	Payload any            `json:"payload"`
}

// decodeHeaders unmarshals permissively: headers may arrive as a JSON object
// (the normal case) or a bare JSON array of strings (legacy path-only
// form). Anything else decodes to an empty map.
func decodeHeaders(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap
	}
	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		path := make([]any, len(asList))
		for i, v := range asList {
			path[i] = v
		}
		return map[string]any{"path": path}
	}
	return map[string]any{}
}

// wireForm mirrors Packet field-for-field but defers headers decoding so
// UnmarshalJSON can accept both the map and legacy-list shapes.
type wireForm struct {
	Proto   string          `json:"proto"`
	Type    string          `json:"type"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	TTL     int             `json:"ttl"`
	Headers json.RawMessage `json:"headers"`
	Payload any             `json:"payload"`
}

// UnmarshalJSON decodes a packet, permissively accepting unknown keys and
// either header shape. Malformed input returns an error describing the
// failure; callers should treat any error as a DecodeError per the error
// handling design (log, drop the packet).
func (p *Packet) UnmarshalJSON(data []byte) error {
	var w wireForm
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("malformed packet: %w", err)
	}
	p.Proto = w.Proto
	p.Type = w.Type
	p.From = w.From
	p.To = w.To
	p.TTL = w.TTL
	p.Headers = decodeHeaders(w.Headers)
	p.Payload = w.Payload
	return nil
}

// MarshalJSON encodes the packet. Headers are always emitted as a map.
func (p *Packet) MarshalJSON() ([]byte, error) {
	headers := p.Headers
	if headers == nil {
		headers = map[string]any{}
	}
	type alias struct {
		Proto   string         `json:"proto"`
		Type    string         `json:"type"`
		From    string         `json:"from"`
		To      string         `json:"to"`
		TTL     int            `json:"ttl"`
		Headers map[string]any `json:"headers"`
		Payload any            `json:"payload"`
	}
	return json.Marshal(alias{
		Proto:   p.Proto,
		Type:    p.Type,
		From:    p.From,
		To:      p.To,
		TTL:     p.TTL,
		Headers: headers,
		Payload: p.Payload,
	})
}

// Decode parses a JSON-encoded packet from raw bytes.
func Decode(data []byte) (*Packet, error) {
	p := &Packet{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("malformed packet: %w", err)
	}
	return p, nil
}

// Encode serializes the packet to its JSON wire form.
func (p *Packet) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecrementTTL decreases TTL by one and reports whether the packet remains
// forwardable (ttl > 0 after the decrement).
func (p *Packet) DecrementTTL() bool {
	p.TTL--
	return p.TTL > 0
}

// ensureHeaders normalizes p.Headers to a non-nil map, upgrading a legacy
// bare-list representation (already folded into {"path": [...]} by
// decodeHeaders) on first touch.
func (p *Packet) ensureHeaders() {
	if p.Headers == nil {
		p.Headers = map[string]any{}
	}
}

// EnsureMsgID sets a fresh msg_id only if none is present. It is idempotent:
// repeated calls never overwrite an existing id.
func (p *Packet) EnsureMsgID() string {
	p.ensureHeaders()
	if mid, ok := p.Headers["msg_id"].(string); ok && mid != "" {
		return mid
	}
	mid := newMsgID()
	p.Headers["msg_id"] = mid
	return mid
}

// GetMsgID returns the packet's msg_id, or "" if none has been assigned.
func (p *Packet) GetMsgID() string {
	if p.Headers == nil {
		return ""
	}
	mid, _ := p.Headers["msg_id"].(string)
	return mid
}

// SetHeader sets an arbitrary header field, e.g. the optional "sig" field
// carrying an LSA's Ed25519 signature.
func (p *Packet) SetHeader(key string, value any) {
	p.ensureHeaders()
	p.Headers[key] = value
}

// GetHeaderString returns a string-valued header field, or "" if absent or
// not a string.
func (p *Packet) GetHeaderString(key string) string {
	if p.Headers == nil {
		return ""
	}
	v, _ := p.Headers[key].(string)
	return v
}

// GetPath returns the rolling path window as a string slice, tolerating a
// headers map whose "path" entry was decoded from JSON as []any.
func (p *Packet) GetPath() []string {
	if p.Headers == nil {
		return nil
	}
	raw, ok := p.Headers["path"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SetPath replaces the path header, preserving every other header entry
// (including msg_id). Headers are normalized to a map if not already.
func (p *Packet) SetPath(path []string) {
	p.ensureHeaders()
	asAny := make([]any, len(path))
	for i, s := range path {
		asAny[i] = s
	}
	p.Headers["path"] = asAny
}

// AppendToPath rolls the 3-entry path window: if the window is already at
// MaxPathLen, the oldest entry is dropped before forwarder is appended.
// Returns the new path.
func (p *Packet) AppendToPath(forwarder string) []string {
	path := p.GetPath()
	if len(path) >= MaxPathLen {
		path = path[len(path)-MaxPathLen+1:]
	}
	path = append(path, forwarder)
	p.SetPath(path)
	return path
}

// PathContains reports whether id already appears in the path window — the
// cheap loop filter used before flooding.
func (p *Packet) PathContains(id string) bool {
	for _, hop := range p.GetPath() {
		if hop == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the packet, including a fresh headers map so
// mutating the clone's path never affects the original.
func (p *Packet) Clone() *Packet {
	clone := &Packet{
		Proto:   p.Proto,
		Type:    p.Type,
		From:    p.From,
		To:      p.To,
		TTL:     p.TTL,
		Payload: p.Payload,
	}
	if p.Headers != nil {
		clone.Headers = make(map[string]any, len(p.Headers))
		for k, v := range p.Headers {
			if path, ok := v.([]any); ok {
				cp := make([]any, len(path))
				copy(cp, path)
				clone.Headers[k] = cp
				continue
			}
			clone.Headers[k] = v
		}
	}
	return clone
}

// newMsgID generates a fresh 128-bit hex identifier.
func newMsgID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure is effectively unrecoverable on any real
		// platform; rather than panic mid-forward, return whatever the
		// buffer holds, with no uniqueness guarantee.
		return hex.EncodeToString(b[:])
	}
	return hex.EncodeToString(b[:])
}
