package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// MessageField is the form field that carries the escaped request envelope.
const MessageField = "REQ_MESSAGE"

// Values of ResponseHead.TranSuccess.
const (
	TranSuccess = "1"
	TranFailure = "0"
)

var (
	ErrMissingMessage = errors.New("missing " + MessageField)
	ErrBadMessage     = errors.New("malformed " + MessageField)
	ErrEmptyDocument  = errors.New("empty json document")
)

// json mirrors JSON.stringify output: no HTML escaping, and map keys are
// sorted so the same payload always produces the same bytes.
var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

type RequestHead struct {
	TranProcess string `json:"TRAN_PROCESS"`
	TranID      string `json:"TRAN_ID"`
}

// Envelope wraps every request payload.
type Envelope struct {
	Head RequestHead `json:"REQ_HEAD"`
	Body any         `json:"REQ_BODY"`
}

// NewEnvelope returns a fresh envelope with an empty head around body.
func NewEnvelope(body any) *Envelope {
	return &Envelope{Body: body}
}

// RawEnvelope is the server-side view of an Envelope: the body is kept
// undecoded until a handler knows its shape.
type RawEnvelope struct {
	Head RequestHead         `json:"REQ_HEAD"`
	Body jsoniter.RawMessage `json:"REQ_BODY"`
}

func MarshalEnvelope(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, errors.New("nil envelope")
	}
	return json.Marshal(e)
}

// EncodeRequestBody renders e as "REQ_MESSAGE=<escaped-json>".
// escape defaults to EscapeURI.
func EncodeRequestBody(e *Envelope, escape func(string) string) (string, error) {
	b, err := MarshalEnvelope(e)
	if err != nil {
		return "", err
	}
	if escape == nil {
		escape = EscapeURI
	}
	return MessageField + "=" + escape(string(b)), nil
}

// DecodeRequestBody parses a raw form body produced by EncodeRequestBody.
// The body is split on the first '=' only, since EscapeURI leaves '&' and
// '=' inside the JSON unescaped.
func DecodeRequestBody(raw string) (*RawEnvelope, error) {
	raw = strings.TrimSpace(raw)
	name, value, ok := strings.Cut(raw, "=")
	if !ok || name != MessageField {
		return nil, ErrMissingMessage
	}
	plain, err := UnescapeURI(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	var env RawEnvelope
	if err := json.UnmarshalFromString(plain, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return &env, nil
}

// DecodeBody unmarshals the envelope body into out.
// A missing or null body leaves out untouched.
func (e *RawEnvelope) DecodeBody(out any) error {
	if len(e.Body) == 0 || string(e.Body) == "null" {
		return nil
	}
	return json.Unmarshal(e.Body, out)
}

type ResponseHead struct {
	TranSuccess  string `json:"TRAN_SUCCESS"`
	ErrorCode    string `json:"ERROR_CODE"`
	ErrorMessage string `json:"ERROR_MESSAGE"`
}

// Response is the envelope the backend answers with. The dispatcher never
// unwraps it; callers that want to can use DecodeResponse.
type Response struct {
	Head ResponseHead `json:"RESP_HEAD"`
	Body any          `json:"RESP_BODY"`
}

func Success(body any) *Response {
	return &Response{Head: ResponseHead{TranSuccess: TranSuccess}, Body: body}
}

func Failure(code, message string) *Response {
	return &Response{Head: ResponseHead{
		TranSuccess:  TranFailure,
		ErrorCode:    code,
		ErrorMessage: message,
	}}
}

// BusinessError is a failure reported inside a successful HTTP exchange.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return "business error " + e.Code
	}
	return fmt.Sprintf("business error %s: %s", e.Code, e.Message)
}

type RawResponse struct {
	Head ResponseHead        `json:"RESP_HEAD"`
	Body jsoniter.RawMessage `json:"RESP_BODY"`
}

// Err returns a *BusinessError unless the head reports success.
func (r *RawResponse) Err() error {
	if r.Head.TranSuccess == TranSuccess {
		return nil
	}
	return &BusinessError{Code: r.Head.ErrorCode, Message: r.Head.ErrorMessage}
}

func (r *RawResponse) DecodeBody(out any) error {
	if len(r.Body) == 0 || string(r.Body) == "null" {
		return nil
	}
	return json.Unmarshal(r.Body, out)
}

// DecodeResponse re-reads a value already parsed by the dispatcher as a
// response envelope.
func DecodeResponse(v any) (*RawResponse, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var r RawResponse
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func WriteJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes exactly one JSON document from r into out.
func ReadJSON(r io.Reader, out any) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return ErrEmptyDocument
	}
	return json.Unmarshal(b, out)
}
