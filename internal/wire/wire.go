// Package wire defines the message shapes exchanged between the controller
// and the in-page handler.
package wire

import (
	"encoding/json"
	"fmt"
)

// Target tags every controller request so the page side can ignore
// unrelated runtime messages.
const Target = "content-script-bridge"

// Request is a controller to page message.
type Request struct {
	Target string          `json:"target"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Reply is a page to controller message. Exactly one of Result or Error is
// meaningful; a non-empty Error marks an application failure.
type Reply struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Failed reports whether the reply carries an application error.
func (r Reply) Failed() bool { return r.Error != "" }

// Decode unmarshals the reply result into out. A missing result decodes as
// JSON null.
func (r Reply) Decode(out any) error {
	if out == nil {
		return nil
	}
	raw := r.Result
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("wire: decode result of %s: %w", r.ID, err)
	}
	return nil
}

// NewRequest builds a request with params marshaled to JSON. Nil params are
// omitted from the envelope.
func NewRequest(id, method string, params any) (Request, error) {
	req := Request{Target: Target, ID: id, Method: method}
	if params == nil {
		return req, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("wire: marshal %s params: %w", method, err)
	}
	req.Params = raw
	return req, nil
}

// OK builds a success reply. A result that cannot be marshaled becomes an
// error reply so the caller still receives a correlated answer.
func OK(id string, result any) Reply {
	raw, err := json.Marshal(result)
	if err != nil {
		return Fail(id, "marshal result: "+err.Error())
	}
	return Reply{ID: id, Result: raw}
}

// Fail builds an error reply.
func Fail(id, msg string) Reply {
	if msg == "" {
		msg = "unknown error"
	}
	return Reply{ID: id, Error: msg}
}
