// Package protocol defines the message-bus envelope and the tester
// request/response vocabulary exchanged with the node under test.
//
// Encodings follow the node's JSON conventions: enums are externally tagged
// ({"Variant": body} or a bare "Variant" string for unit variants) and byte
// vectors are arrays of numbers. Unknown object fields are ignored.
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Bytes is a byte vector encoded as a JSON array of numbers. Decoding also
// accepts a base64 string.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.Grow(len(b)*4 + 2)
	buf.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%d", v)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		dec, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("bytes: invalid base64: %w", err)
		}
		*b = dec
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}
	var nums []uint8
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("bytes: %w", err)
	}
	*b = Bytes(nums)
	return nil
}

// ProcessID names a process as process:package:publisher.
type ProcessID struct {
	ProcessName   string
	PackageName   string
	PublisherNode string
}

// ParseProcessID parses "process:package:publisher".
func ParseProcessID(s string) (ProcessID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ProcessID{}, fmt.Errorf("invalid process id %q: want process:package:publisher", s)
	}
	return ProcessID{ProcessName: parts[0], PackageName: parts[1], PublisherNode: parts[2]}, nil
}

func (p ProcessID) String() string {
	return p.ProcessName + ":" + p.PackageName + ":" + p.PublisherNode
}

// MarshalJSON encodes the id in its string form.
func (p ProcessID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts the string form or the field-wise object form.
func (p *ProcessID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		id, err := ParseProcessID(s)
		if err != nil {
			return err
		}
		*p = id
		return nil
	}
	var obj struct {
		ProcessName   string `json:"process_name"`
		PackageName   string `json:"package_name"`
		PublisherNode string `json:"publisher_node"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("process id: %w", err)
	}
	*p = ProcessID{ProcessName: obj.ProcessName, PackageName: obj.PackageName, PublisherNode: obj.PublisherNode}
	return nil
}

// Address identifies a process on a node.
type Address struct {
	Node    string    `json:"node"`
	Process ProcessID `json:"process"`
}

func (a Address) String() string {
	return a.Node + "@" + a.Process.String()
}

// Request is the request arm of a kernel Message.
type Request struct {
	Inherit         bool    `json:"inherit"`
	ExpectsResponse *uint64 `json:"expects_response"`
	IPC             Bytes   `json:"ipc"`
	Metadata        *string `json:"metadata"`
}

// Response is the response arm of a kernel Message.
type Response struct {
	Inherit  bool    `json:"inherit"`
	IPC      Bytes   `json:"ipc"`
	Metadata *string `json:"metadata"`
}

// Message is either a Request or a Response (with optional context).
// Exactly one of Request and Response is non-nil.
type Message struct {
	Request  *Request
	Response *Response
	Context  Bytes
}

// MarshalJSON encodes {"Request": {...}} or {"Response": [{...}, context]}.
func (m Message) MarshalJSON() ([]byte, error) {
	switch {
	case m.Request != nil && m.Response == nil:
		return json.Marshal(map[string]any{"Request": m.Request})
	case m.Response != nil && m.Request == nil:
		var ctx any
		if m.Context != nil {
			ctx = m.Context
		}
		return json.Marshal(map[string]any{"Response": []any{m.Response, ctx}})
	}
	return nil, fmt.Errorf("message: exactly one of Request or Response must be set")
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	tag, body, err := splitVariant(data)
	if err != nil {
		return fmt.Errorf("message: %w", err)
	}
	switch tag {
	case "Request":
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("message request: %w", err)
		}
		*m = Message{Request: &req}
	case "Response":
		var tuple []json.RawMessage
		if err := json.Unmarshal(body, &tuple); err != nil || len(tuple) == 0 || len(tuple) > 2 {
			return fmt.Errorf("message response: want [response, context]")
		}
		var resp Response
		if err := json.Unmarshal(tuple[0], &resp); err != nil {
			return fmt.Errorf("message response: %w", err)
		}
		out := Message{Response: &resp}
		if len(tuple) == 2 {
			if err := json.Unmarshal(tuple[1], &out.Context); err != nil {
				return fmt.Errorf("message context: %w", err)
			}
		}
		*m = out
	default:
		return fmt.Errorf("message: unknown variant %q", tag)
	}
	return nil
}

// IPC returns the ipc body of whichever arm is set.
func (m Message) IPC() []byte {
	if m.Request != nil {
		return m.Request.IPC
	}
	if m.Response != nil {
		return m.Response.IPC
	}
	return nil
}

// Payload is the optional binary attachment of a KernelMessage.
type Payload struct {
	Mime  *string `json:"mime"`
	Bytes Bytes   `json:"bytes"`
}

// SignedCapability is a capability attachment signed by its issuer.
type SignedCapability struct {
	Issuer    Address `json:"issuer"`
	Params    string  `json:"params"`
	Signature Bytes   `json:"signature"`
}

// KernelMessage is the envelope for all traffic on the message bus.
type KernelMessage struct {
	ID                 uint64             `json:"id"`
	Source             Address            `json:"source"`
	Target             Address            `json:"target"`
	Rsvp               *Address           `json:"rsvp"`
	Message            Message            `json:"message"`
	Payload            *Payload           `json:"payload"`
	SignedCapabilities []SignedCapability `json:"signed_capabilities"`
}

// splitVariant decodes an externally tagged enum value. A bare JSON string is
// a unit variant and yields a nil body.
func splitVariant(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected a single variant key, got %d", len(obj))
	}
	for tag, body := range obj {
		return tag, body, nil
	}
	return "", nil, nil
}
