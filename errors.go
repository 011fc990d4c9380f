package rntbd

import (
	"errors"
	"fmt"
)

// Codec errors (§7): malformed frame, missing required token, type tag out
// of range, length overrun. All are fatal to the connection.
var (
	ErrCodecMalformed         = errors.New("rntbd: malformed frame")
	ErrCodecShortBuffer       = errors.New("rntbd: truncated frame")
	ErrCodecTypeMismatch      = errors.New("rntbd: token value does not match its declared type")
	ErrCodecTypeTagOutOfRange = errors.New("rntbd: token type tag out of range")
	ErrCodecMissingRequired   = errors.New("rntbd: required header missing from decoded stream")
	ErrCodecLengthOverrun     = errors.New("rntbd: frame length overrun")
)

// Protocol errors (§7): frame type not expected in the current connection
// state.
var (
	ErrProtocolUnexpectedFrame  = errors.New("rntbd: unexpected frame for current connection state")
	ErrProtocolDuplicateRequest = errors.New("rntbd: duplicate transport request id in response")
)

// Transport errors (§7) are returned verbatim from the Transport
// implementation (I/O failure, TLS failure); no sentinel is defined here.

// Close errors (§7): distinct sentinels carried as the root cause of the
// synthetic Gone error for all then-pending records when the connection
// exits.
var (
	ErrOnClose      = errors.New("rntbd: connection closed")
	ErrOnUnregister = errors.New("rntbd: connection unregistered")
	ErrOnDeregister = errors.New("rntbd: connection deregistered")
)

// ErrUnhealthyChannel (§7) is returned by on_idle_timeout when the
// caller-supplied HealthCheck reports the channel unhealthy. It carries no
// stack trace by design — it is a sentinel, not a diagnostic.
var ErrUnhealthyChannel = errors.New("rntbd: health check reported unhealthy channel")

// ErrRequestTimeout (§7) completes a RequestRecord whose deadline elapsed
// before a response arrived.
var ErrRequestTimeout = errors.New("rntbd: request timed out")

// ErrRequestCancelled completes a RequestRecord whose caller dropped
// interest before a response arrived.
var ErrRequestCancelled = errors.New("rntbd: request cancelled")

// ErrPendingLimitReached is returned by submit when the connection is not
// serviceable for one more request (§4.4 admission control).
var ErrPendingLimitReached = errors.New("rntbd: pending request limit reached")

// ErrConnectionClosing is returned by submit once the connection has
// entered ClosingExceptionally.
var ErrConnectionClosing = errors.New("rntbd: connection is closing")

// Config validation errors, aggregated by Config.Validate via
// hashicorp/go-multierror rather than returned one at a time.
var (
	ErrInvalidPendingLimit   = errors.New("rntbd: pending limit must be positive")
	ErrInvalidRequestTimeout = errors.New("rntbd: request timeout must be positive")
	ErrInvalidIdleTimeout    = errors.New("rntbd: idle timeout must not be negative")
	ErrInvalidClientVersion  = errors.New("rntbd: client version must not be empty")
)

// ErrUnsupportedScheme is returned when no Transport factory is
// registered for a physical-endpoint URI's scheme.
var ErrUnsupportedScheme = errors.New("rntbd: unsupported endpoint scheme")

// ErrInvalidEndpoint is returned when a physical-endpoint URI cannot be
// parsed into an Endpoint.
var ErrInvalidEndpoint = errors.New("rntbd: invalid endpoint uri")

// StoreErrorKind is the closed taxonomy of status-code-derived errors
// (§4.5). Deep per-status inheritance in the reference is flattened into
// one tagged struct, per the design note in spec.md §9.
type StoreErrorKind int

const (
	KindUnknown StoreErrorKind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindMethodNotAllowed
	KindRequestTimeout
	KindConflict
	KindPartitionKeyRangeIsSplitting
	KindPartitionIsMigrating
	KindInvalidPartition
	KindPartitionKeyRangeGone
	KindGone
	KindPreconditionFailed
	KindRequestEntityTooLarge
	KindLocked
	KindRequestRateTooLarge
	KindRetryWith
	KindInternalServerError
	KindServiceUnavailable
	KindGenericDocumentClientError
)

func (k StoreErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "NotFound"
	case KindMethodNotAllowed:
		return "MethodNotAllowed"
	case KindRequestTimeout:
		return "RequestTimeout"
	case KindConflict:
		return "Conflict"
	case KindPartitionKeyRangeIsSplitting:
		return "PartitionKeyRangeIsSplitting"
	case KindPartitionIsMigrating:
		return "PartitionIsMigrating"
	case KindInvalidPartition:
		return "InvalidPartition"
	case KindPartitionKeyRangeGone:
		return "PartitionKeyRangeGone"
	case KindGone:
		return "Gone"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindRequestEntityTooLarge:
		return "RequestEntityTooLarge"
	case KindLocked:
		return "Locked"
	case KindRequestRateTooLarge:
		return "RequestRateTooLarge"
	case KindRetryWith:
		return "RetryWith"
	case KindInternalServerError:
		return "InternalServerError"
	case KindServiceUnavailable:
		return "ServiceUnavailable"
	case KindGenericDocumentClientError:
		return "GenericDocumentClientError"
	default:
		return "Unknown"
	}
}

// StoreError is the single tagged error type carrying every status-code
// variant named in spec.md §4.5. Each variant carries the same fields;
// Kind selects which variant it represents.
type StoreError struct {
	Kind                StoreErrorKind
	Status              int
	SubStatus           int
	ErrorBody           string
	LSN                 string
	PartitionKeyRangeID string
	Headers             *TokenStream[ResponseHeader]

	// Cause is the root cause for synthetic Gone errors built during a
	// fatal connection transition (§4.4 step 3); nil otherwise.
	Cause error
	// Endpoint is the record's physical-endpoint URI, set only on
	// synthetic Gone errors.
	Endpoint string
	// ActivityID is the originating request's activity id, set only on
	// synthetic Gone errors.
	ActivityID string
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rntbd: %s (status=%d substatus=%d endpoint=%s): %s: %v",
			e.Kind, e.Status, e.SubStatus, e.Endpoint, e.ErrorBody, e.Cause)
	}
	return fmt.Sprintf("rntbd: %s (status=%d substatus=%d): %s", e.Kind, e.Status, e.SubStatus, e.ErrorBody)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// mapStatusToKind implements the closed (status, sub-status) -> variant
// table in spec.md §4.5.
func mapStatusToKind(status, subStatus int) StoreErrorKind {
	switch status {
	case 400:
		return KindBadRequest
	case 401:
		return KindUnauthorized
	case 403:
		return KindForbidden
	case 404:
		return KindNotFound
	case 405:
		return KindMethodNotAllowed
	case 408:
		return KindRequestTimeout
	case 409:
		return KindConflict
	case 410:
		switch subStatus {
		case 1007:
			return KindPartitionKeyRangeIsSplitting
		case 1008:
			return KindPartitionIsMigrating
		case 1000:
			return KindInvalidPartition
		case 1002:
			return KindPartitionKeyRangeGone
		default:
			return KindGone
		}
	case 412:
		return KindPreconditionFailed
	case 413:
		return KindRequestEntityTooLarge
	case 423:
		return KindLocked
	case 429:
		return KindRequestRateTooLarge
	case 449:
		return KindRetryWith
	case 500:
		return KindInternalServerError
	case 503:
		return KindServiceUnavailable
	default:
		return KindGenericDocumentClientError
	}
}

// mapResponse implements the error-mapper component (§4.5). A status in
// [200, 300) yields a successful StoreResponse; anything else yields a
// *StoreError selected from the closed taxonomy above.
func mapResponse(resp *Response) (*StoreResponse, error) {
	if resp.Status >= 200 && resp.Status < 300 {
		return &StoreResponse{
			Status:       resp.Status,
			ActivityID:   resp.ActivityID,
			Headers:      resp.Headers,
			Payload:      resp.Payload,
		}, nil
	}

	subStatus := 0
	if tok, ok := resp.Headers.Get(ResponseHeaderSubStatus); ok && tok.IsPresent() {
		if v, err := tok.Value(); err == nil {
			if u, ok := v.(uint32); ok {
				subStatus = int(u)
			}
		}
	}

	body := ""
	if len(resp.Payload) > 0 {
		body = string(resp.Payload)
	} else {
		body = fmt.Sprintf("status %d", resp.Status)
	}

	lsn := ""
	if tok, ok := resp.Headers.Get(ResponseHeaderLSN); ok && tok.IsPresent() {
		if v, err := tok.Value(); err == nil {
			lsn = fmt.Sprintf("%v", v)
		}
	}

	pkRangeID := ""
	if tok, ok := resp.Headers.Get(ResponseHeaderPartitionKeyRangeID); ok && tok.IsPresent() {
		if v, err := tok.Value(); err == nil {
			pkRangeID = fmt.Sprintf("%v", v)
		}
	}

	return nil, &StoreError{
		Kind:                mapStatusToKind(resp.Status, subStatus),
		Status:              resp.Status,
		SubStatus:           subStatus,
		ErrorBody:           body,
		LSN:                 lsn,
		PartitionKeyRangeID: pkRangeID,
		Headers:             resp.Headers,
	}
}

// newGoneError builds the synthetic "Gone" error described in spec.md
// §4.4 step 3: it carries a human-readable phrase describing the exit
// path, the original cause, the record's physical-endpoint URI, and the
// request's activity id. The request's headers are not attached.
func newGoneError(cause error, endpoint string, args RequestArgs) *StoreError {
	phrase := "connection closed exceptionally"
	switch {
	case errors.Is(cause, ErrOnClose):
		phrase = "connection closed exceptionally (channel closed)"
	case errors.Is(cause, ErrOnUnregister):
		phrase = "connection closed exceptionally (channel unregistered)"
	case errors.Is(cause, ErrOnDeregister):
		phrase = "connection closed exceptionally (channel deregistered)"
	case errors.Is(cause, ErrUnhealthyChannel):
		phrase = "connection closed exceptionally (health check failed)"
	}
	return &StoreError{
		Kind:       KindGone,
		Status:     410,
		SubStatus:  0,
		ErrorBody:  phrase,
		Cause:      cause,
		Endpoint:   endpoint,
		ActivityID: args.ActivityID.String(),
	}
}
