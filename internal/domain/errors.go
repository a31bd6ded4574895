package domain

import "errors"

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for the failures an operation boundary turns into a payload value.
var (
	ErrNotFound            = errors.New("requested component not found")
	ErrInvalidCredentials  = errors.New("invalid credentials provided")
	ErrInvalidArguments    = errors.New("invalid call arguments")
	ErrInvalidConfig       = errors.New("invalid component configuration")
	ErrTransportDisabled   = errors.New("transport is not configured")
	ErrSubscribeTimeout    = errors.New("timed out waiting for upstream subscription")
	ErrStreamNotFound      = errors.New("message stream not found")
	ErrStreamExists        = errors.New("message stream already exists")
	ErrStreamFull          = errors.New("message stream is full")
	ErrNotEnoughMessages   = errors.New("not enough messages available")
	ErrInvalidStreamConfig = errors.New("invalid message stream definition")
)
