// Package ocppmsg implements the OCPP 1.6-J message adapter: wire
// envelope encode/decode, the pending-request queue,
// and handler dispatch. Grounded on mash-go's pkg/wire codec split
// (separate envelope/codec files) and on other_examples' OCPP message
// type definitions for the action payload shapes.
package ocppmsg

import (
	"encoding/json"
	"fmt"
)

// Role is the first element of every OCPP-J array message.
type Role int

const (
	RoleCall       Role = 2
	RoleCallResult Role = 3
	RoleCallError  Role = 4
)

// Envelope is the decoded form of a single OCPP-J message, regardless
// of role. Action and Payload are populated for CALL; ErrorCode and
// ErrorDescription for CALLERROR; Payload alone for CALLRESULT.
type Envelope struct {
	Role             Role
	ID               string
	Action           string
	ErrorCode        string
	ErrorDescription string
	Payload          json.RawMessage
}

// MarshalJSON renders the envelope as the four-, three-, or
// five-element array OCPP 1.6-J specifies per role.
func (e Envelope) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	switch e.Role {
	case RoleCall:
		return json.Marshal([]any{int(RoleCall), e.ID, e.Action, payload})
	case RoleCallResult:
		return json.Marshal([]any{int(RoleCallResult), e.ID, payload})
	case RoleCallError:
		return json.Marshal([]any{int(RoleCallError), e.ID, e.ErrorCode, e.ErrorDescription, payload})
	default:
		return nil, fmt.Errorf("ocppmsg: unknown role %d", e.Role)
	}
}

// UnmarshalJSON parses any of the three array shapes into an Envelope.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ocppmsg: not a json array: %w", err)
	}
	if len(raw) < 3 {
		return fmt.Errorf("ocppmsg: array has %d elements, want at least 3", len(raw))
	}

	var role int
	if err := json.Unmarshal(raw[0], &role); err != nil {
		return fmt.Errorf("ocppmsg: role element: %w", err)
	}
	var id string
	if err := json.Unmarshal(raw[1], &id); err != nil {
		return fmt.Errorf("ocppmsg: id element: %w", err)
	}

	switch Role(role) {
	case RoleCall:
		if len(raw) != 4 {
			return fmt.Errorf("ocppmsg: CALL has %d elements, want 4", len(raw))
		}
		var action string
		if err := json.Unmarshal(raw[2], &action); err != nil {
			return fmt.Errorf("ocppmsg: action element: %w", err)
		}
		*e = Envelope{Role: RoleCall, ID: id, Action: action, Payload: raw[3]}
	case RoleCallResult:
		if len(raw) != 3 {
			return fmt.Errorf("ocppmsg: CALLRESULT has %d elements, want 3", len(raw))
		}
		*e = Envelope{Role: RoleCallResult, ID: id, Payload: raw[2]}
	case RoleCallError:
		if len(raw) != 5 {
			return fmt.Errorf("ocppmsg: CALLERROR has %d elements, want 5", len(raw))
		}
		var code, desc string
		if err := json.Unmarshal(raw[2], &code); err != nil {
			return fmt.Errorf("ocppmsg: error code element: %w", err)
		}
		if err := json.Unmarshal(raw[3], &desc); err != nil {
			return fmt.Errorf("ocppmsg: error description element: %w", err)
		}
		*e = Envelope{Role: RoleCallError, ID: id, ErrorCode: code, ErrorDescription: desc, Payload: raw[4]}
	default:
		return fmt.Errorf("ocppmsg: unknown role %d", role)
	}
	return nil
}

// NewCall builds a CALL envelope for action with the given id.
func NewCall(id, action string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Role: RoleCall, ID: id, Action: action, Payload: data}, nil
}

// NewCallResult builds a CALLRESULT envelope replying to id.
func NewCallResult(id string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Role: RoleCallResult, ID: id, Payload: data}, nil
}

// NewCallError builds a CALLERROR envelope replying to id.
func NewCallError(id, code, description string) Envelope {
	return Envelope{Role: RoleCallError, ID: id, ErrorCode: code, ErrorDescription: description, Payload: json.RawMessage("{}")}
}
