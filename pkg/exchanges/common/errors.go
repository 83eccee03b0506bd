package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"pair-trader/pkg/errs"
)

// ClassifyStatus turns a non-2xx response into a classified error.
func ClassifyStatus(venue string, status int, body []byte) error {
	msg := fmt.Sprintf("%s status %d: %s", venue, status, string(body))
	switch {
	case status >= http.StatusInternalServerError,
		status == http.StatusTooManyRequests,
		status == http.StatusTeapot: // Binance IP ban warning
		return errs.New(errs.Transient, msg)
	case status >= http.StatusBadRequest:
		return errs.New(errs.ExchangeRejected, msg)
	default:
		return errs.New(errs.Internal, msg)
	}
}

// ClassifyTransport turns an http.Client error into a classified error.
// Timeouts leave the outcome unknown; other transport failures are safe to retry.
func ClassifyTransport(venue string, err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return errs.Wrap(errs.Unknown, err, venue+" call timed out")
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Unknown, err, venue+" call canceled")
	}
	return errs.Wrap(errs.Transient, err, venue+" transport error")
}
