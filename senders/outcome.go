package senders

import (
	"errors"
	"fmt"
	"time"
)

// Outcome is the result of delivering one entry to one sink.
type Outcome int

const (
	Ok Outcome = iota
	SinkGone
	Transient
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case SinkGone:
		return "sink_gone"
	case Transient:
		return "transient"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DeliveryError is returned by senders for every failed delivery.
type DeliveryError struct {
	Outcome    Outcome
	Platform   string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%s delivery %s", e.Platform, e.Outcome)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// OutcomeOf maps a sender error to an Outcome. Errors that are not
// DeliveryErrors are treated as transient.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Ok
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Outcome
	}
	return Transient
}

func statusOutcome(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Ok
	case status == 401 || status == 404:
		return SinkGone
	case status == 429 || status >= 500:
		return Transient
	default:
		return Rejected
	}
}
