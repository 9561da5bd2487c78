package broker

import "errors"

var (
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrBrokerClosed      = errors.New("broker closed")
)
