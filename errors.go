// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout         = errors.New("coap: timeout")
	ErrTooManyRequests = errors.New("coap: too many requests for endpoint")
	ErrShutdown        = errors.New("coap: endpoint shut down")
	ErrBadRequest      = errors.New("coap: bad request")
	ErrBadOption       = errors.New("coap: unrecognized critical option")
	ErrNotFound        = errors.New("coap: not found")
	ErrUnauthorized    = errors.New("coap: not authorized")
	ErrNoTransport     = errors.New("coap: no valid transport")
	ErrNotRunning      = errors.New("coap: endpoint not running")
	ErrRunning         = errors.New("coap: endpoint already running")
	ErrInvalidTokenLen = errors.New("coap: invalid token length")
)

// CodeError is raised by resource handlers to produce a protocol-level
// error response with the given code and optional diagnostic payload.
type CodeError struct {
	Code    COAPCode
	Payload []byte
}

func (e *CodeError) Error() string {
	return "coap: " + e.Code.NumberString() + " " + e.Code.String()
}

func NewCodeError(code COAPCode, diag string) *CodeError {
	var payload []byte
	if diag != "" {
		payload = []byte(diag)
	}
	return &CodeError{Code: code, Payload: payload}
}

// ObservationTerminatedError is delivered to the observation handler when the
// peer resets an observed token or answers it with a non-notification response.
type ObservationTerminatedError struct {
	Packet  *Message
	Context TransportContext
}

func (e *ObservationTerminatedError) Error() string {
	return fmt.Sprintf("coap: observation terminated [%s]", e.Packet.Meta.RemoteAddr)
}

func RspCodeToError(code COAPCode) error {
	if code < 100 {
		return nil
	}
	switch code {
	case RspCodeBadRequest:
		return ErrBadRequest
	case RspCodeNotFound:
		return ErrNotFound
	case RspCodeUnauthorized:
		return ErrUnauthorized
	default:
		return errors.New("coap: other error " + code.String())
	}
}
