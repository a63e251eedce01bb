package share

import (
	"context"
	"errors"
	"fmt"
)

// Kind tags every failure the registry and evaluator can surface. Callers
// switch on it to pick a user-facing message.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotOwner
	KindInvalidWindow
	KindInvalidRecipient
	KindRegistryUnavailable
	KindTokenNotFound
	KindNotYetActive
	KindExpired
	KindRevoked
	KindWrongRecipient
	KindUpstreamTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindNotOwner:            "not_owner",
	KindInvalidWindow:       "invalid_window",
	KindInvalidRecipient:    "invalid_recipient",
	KindRegistryUnavailable: "registry_unavailable",
	KindTokenNotFound:       "token_not_found",
	KindNotYetActive:        "not_yet_active",
	KindExpired:             "expired",
	KindRevoked:             "revoked",
	KindWrongRecipient:      "wrong_recipient",
	KindUpstreamTimeout:     "upstream_timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "share: " + e.Kind.String()
	}
	return fmt.Sprintf("share: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var shareErr *Error
	if errors.As(err, &shareErr) {
		return shareErr.Kind
	}
	return KindUnknown
}

func fail(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// upstream tags a collaborator failure, promoting deadline overruns to
// KindUpstreamTimeout regardless of the fallback kind.
func upstream(fallback Kind, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fail(KindUpstreamTimeout, err)
	}
	return fail(fallback, err)
}
