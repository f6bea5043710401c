package protocol

import "encoding/json"

// Frame is the parsed shape of a text control frame: a command name plus an
// open bag of fields. Unknown fields are ignored by callers that don't ask
// for them, matching spec §4.6 ("unknown fields are ignored").
type Frame struct {
	Cmd    string
	fields map[string]any
}

// ParseFrame decodes a JSON text frame into a Frame. A missing/empty "cmd"
// field is a parse failure (InvalidParam), matching the teacher's
// WebSocketMessage.Type-driven dispatch generalized to an open field map.
func ParseFrame(raw []byte) (*Frame, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, NewError(InvalidParam, "malformed control frame: %v", err)
	}
	cmdVal, ok := fields["cmd"]
	if !ok {
		return nil, NewError(InvalidParam, "missing required field \"cmd\"")
	}
	cmd, ok := cmdVal.(string)
	if !ok || cmd == "" {
		return nil, NewError(InvalidParam, "\"cmd\" must be a non-empty string")
	}
	return &Frame{Cmd: cmd, fields: fields}, nil
}

// requireField fetches a field, returning InvalidParam if it is absent.
func (f *Frame) requireField(name string) (any, error) {
	v, ok := f.fields[name]
	if !ok {
		return nil, NewError(InvalidParam, "missing required field %q", name)
	}
	return v, nil
}

// Int64 returns a required integer field. JSON numbers decode as float64.
func (f *Frame) Int64(name string) (int64, error) {
	v, err := f.requireField(name)
	if err != nil {
		return 0, err
	}
	n, ok := v.(float64)
	if !ok {
		return 0, NewError(InvalidParam, "field %q must be a number", name)
	}
	return int64(n), nil
}

// Bool returns a required boolean field.
func (f *Frame) Bool(name string) (bool, error) {
	v, err := f.requireField(name)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, NewError(InvalidParam, "field %q must be a boolean", name)
	}
	return b, nil
}

// OptionalBool returns a boolean field if present, accepting either a JSON
// bool or a 0/non-zero number (spec S6 writes seek's accurate flag as
// `accurate=1`), or def if absent.
func (f *Frame) OptionalBool(name string, def bool) bool {
	v, ok := f.fields[name]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return def
	}
}

// OptionalInt64 returns a field if present, or def otherwise. Unlike Int64
// this never fails on absence — used for soft hints like waitHeaderLength.
func (f *Frame) OptionalInt64(name string, def int64) int64 {
	v, ok := f.fields[name]
	if !ok {
		return def
	}
	n, ok := v.(float64)
	if !ok {
		return def
	}
	return int64(n)
}

// Reply is the wire shape of every server->client text frame: either a
// success payload (fields merged in) or an error reply {cmd, code, msg}.
type Reply struct {
	values map[string]any
}

// NewReply starts a reply for the given command.
func NewReply(cmd string) *Reply {
	return &Reply{values: map[string]any{"cmd": cmd}}
}

// Set attaches a field to the reply.
func (r *Reply) Set(name string, value any) *Reply {
	r.values[name] = value
	return r
}

// Marshal encodes the reply as JSON text.
func (r *Reply) Marshal() ([]byte, error) {
	return json.Marshal(r.values)
}

// ErrorReply builds the {cmd, code, msg} shape spec §7 mandates for every
// domain-error response.
func ErrorReply(cmd string, err *Error) ([]byte, error) {
	return json.Marshal(map[string]any{
		"cmd":  cmd,
		"code": int(err.Code),
		"msg":  err.Msg,
	})
}

// RequestDataFrame builds the server-emitted {cmd:"requestData", offset,
// available} control frame (spec §4.3/§7).
func RequestDataFrame(offset, available int64) ([]byte, error) {
	return json.Marshal(map[string]any{
		"cmd":       "requestData",
		"offset":    offset,
		"available": available,
	})
}
