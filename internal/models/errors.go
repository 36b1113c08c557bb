package models

import (
	"errors"
	"fmt"
)

// Kind is a typed category for engine errors. Every failure path surfaces
// exactly one kind so callers can dispatch without string matching.
type Kind string

const (
	KindDataUnavailable  Kind = "data_unavailable"
	KindInsufficientData Kind = "insufficient_data"
	KindTraining         Kind = "training"
	KindTuning           Kind = "tuning"
	KindPrediction       Kind = "prediction"
	KindStorage          Kind = "storage"
	KindNotFound         Kind = "not_found"
	KindTimeout          Kind = "timeout"
)

// Error carries an error kind plus optional context: the failing
// hyperparameter set for training/tuning errors, and a wrapped cause.
type Error struct {
	Kind   Kind
	Msg    string
	Params *Hyperparameters
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Params != nil {
		msg = fmt.Sprintf("%s (trend_flexibility=%g seasonality_strength=%g mode=%s)",
			msg, e.Params.TrendFlexibility, e.Params.SeasonalityStrength, e.Params.SeasonalityMode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so sentinel comparisons like
// errors.Is(err, &Error{Kind: KindNotFound}) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// E builds an Error. Use Errf when the message needs formatting.
func E(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Errf builds an Error with a formatted message and no cause.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain, or "" if none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
