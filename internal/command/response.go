package command

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Response is the envelope every command returns. Payload fields are
// written next to "success" and "message" in one JSON object.
type Response struct {
	Success bool
	Message string
	// Status is the HTTP status the transport should use.
	Status  int
	Payload any
}

func ok(message string, payload any) Response {
	return Response{Success: true, Message: message, Status: http.StatusOK, Payload: payload}
}

func fail(status int, message string) Response {
	return Response{Success: false, Message: message, Status: status}
}

// MarshalJSON flattens the payload into the envelope. A payload that does not
// encode as a JSON object is rejected.
func (r Response) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any)
	if r.Payload != nil {
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, err
		}
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("command payload must be an object: %w", err)
		}
		for k, v := range inner {
			fields[k] = v
		}
	}
	fields["success"] = r.Success
	if r.Message != "" {
		fields["message"] = r.Message
	}
	return json.Marshal(fields)
}
