package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pagesentry/pagesentry/idgen"
)

// Envelope wraps a payload with identity and a type discriminant. The
// discriminant always matches the payload's concrete type; construct
// envelopes through NewEnvelope, never by hand.
type Envelope struct {
	ID      string    `json:"id"`
	Type    Type      `json:"type"`
	At      time.Time `json:"at"`
	Payload Payload   `json:"payload"`
}

// NewEnvelope stamps a payload with a fresh UUIDv7 and the current time.
func NewEnvelope(p Payload) Envelope {
	return Envelope{
		ID:      idgen.New(),
		Type:    p.messageType(),
		At:      time.Now().UTC(),
		Payload: p,
	}
}

type envelopeShell struct {
	ID      string          `json:"id"`
	Type    Type            `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON serialises the envelope. The discriminant is re-derived from
// the payload so a hand-built envelope with a mismatched Type cannot reach
// the wire.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("wire: marshal envelope %s: nil payload", e.ID)
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s payload: %w", e.Payload.messageType(), err)
	}
	return json.Marshal(envelopeShell{
		ID:      e.ID,
		Type:    e.Payload.messageType(),
		At:      e.At,
		Payload: raw,
	})
}

// UnmarshalJSON decodes an envelope, dispatching on the type discriminant.
// Unknown discriminants fail decoding; receivers log and acknowledge
// generically rather than guessing at semantics.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var shell envelopeShell
	if err := json.Unmarshal(data, &shell); err != nil {
		return fmt.Errorf("wire: decode envelope: %w", err)
	}

	p, err := newPayload(shell.Type)
	if err != nil {
		return err
	}
	if len(shell.Payload) > 0 {
		if err := json.Unmarshal(shell.Payload, p); err != nil {
			return fmt.Errorf("wire: decode %s payload: %w", shell.Type, err)
		}
	}

	e.ID = shell.ID
	e.Type = shell.Type
	e.At = shell.At
	e.Payload = concrete(p)
	return nil
}

// newPayload allocates the zero payload for a discriminant.
func newPayload(t Type) (Payload, error) {
	switch t {
	case TypeSecurityAlert:
		return &SecurityAlert{}, nil
	case TypePageContext:
		return &PageContextUpdate{}, nil
	case TypeModelReady:
		return &ModelReady{}, nil
	case TypeModelError:
		return &ModelError{}, nil
	case TypeInferenceResponse:
		return &InferenceResponse{}, nil
	case TypeChatMessage:
		return &ChatMessage{}, nil
	case TypeInitModel:
		return &InitModel{}, nil
	case TypeLoadModel:
		return &LoadModel{}, nil
	case TypeInference:
		return &InferenceRequest{}, nil
	case TypeAlertNotification:
		return &AlertNotification{}, nil
	case TypeModelStatus:
		return &ModelStatus{}, nil
	case TypeChatResponse:
		return &ChatResponse{}, nil
	case TypeChatError:
		return &ChatError{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown message type %q", t)
	}
}

// concrete unwraps the pointer produced by newPayload so Payload values
// compare and type-switch as plain structs on both ends.
func concrete(p Payload) Payload {
	switch v := p.(type) {
	case *SecurityAlert:
		return *v
	case *PageContextUpdate:
		return *v
	case *ModelReady:
		return *v
	case *ModelError:
		return *v
	case *InferenceResponse:
		return *v
	case *ChatMessage:
		return *v
	case *InitModel:
		return *v
	case *LoadModel:
		return *v
	case *InferenceRequest:
		return *v
	case *AlertNotification:
		return *v
	case *ModelStatus:
		return *v
	case *ChatResponse:
		return *v
	case *ChatError:
		return *v
	default:
		return p
	}
}
