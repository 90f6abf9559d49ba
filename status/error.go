package status

import "fmt"

// Kind discriminates why a call failed, independent of the peer-reported
// Code. A caller that only cares about category can switch on Kind without
// string matching; a caller that cares about the exact peer status can read
// Code.
type Kind int

const (
	// KindRPC is a terminal status for a specific call: reported by the peer
	// (a RESPONSE with non-OK status, or a SERVER_ERROR packet), or set
	// locally when a middleware refuses the submission (rate limiting).
	KindRPC Kind = iota
	// KindTransportClosed means the underlying byte stream ended or failed;
	// every outstanding call on the dispatcher observes this.
	KindTransportClosed
	// KindCancelled means the caller cancelled the call or its timeout
	// elapsed before a terminal packet arrived.
	KindCancelled
	// KindProtocolViolation means a decoded packet was semantically invalid
	// for the call it was routed to (wrong kind, wrong channel, ...).
	KindProtocolViolation
	// KindPayloadDecode means the response payload did not decode against
	// the caller's expected type.
	KindPayloadDecode
	// KindPayloadEncode means the request payload could not be encoded.
	KindPayloadEncode
	// KindTooLarge means the encoded packet would exceed the configured
	// maximum frame size; the submission never touched the transport.
	KindTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindRPC:
		return "rpc"
	case KindTransportClosed:
		return "transport_closed"
	case KindCancelled:
		return "cancelled"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindPayloadDecode:
		return "payload_decode"
	case KindPayloadEncode:
		return "payload_encode"
	case KindTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// Error is the error type surfaced to callers for every call-level and
// transport-level failure.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

// New creates an Error of the given kind carrying the given status code.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an Error of the given kind wrapping a lower-level error.
func Wrap(kind Kind, code Code, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: err.Error(), Err: err}
}

// RPC builds the error for a peer-reported terminal status.
func RPC(code Code) *Error {
	return New(KindRPC, code, fmt.Sprintf("rpc failed: %s", code))
}

// TransportClosed builds the error fanned out to every outstanding caller
// when the transport ends or fails.
func TransportClosed(err error) *Error {
	msg := "transport closed"
	if err != nil {
		msg = fmt.Sprintf("transport closed: %v", err)
	}
	return &Error{Kind: KindTransportClosed, Code: Unavailable, Message: msg, Err: err}
}

// Cancel builds the error observed by a caller whose call was cancelled or
// timed out.
func Cancel(reason string) *Error {
	return New(KindCancelled, Cancelled, reason)
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}
