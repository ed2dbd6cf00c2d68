package wifi

import (
	"errors"

	"github.com/bbernstein/lacylights-wifi/internal/services/ctrl"
)

// Status is the closed set of result codes returned by the driver. It
// implements error so callers can use errors.Is and errors.As.
type Status int8

const (
	StatusSuccess Status = iota
	StatusError
	StatusCommandFailed
	StatusCommandUnknown
	StatusParamFailed
	StatusAlreadyStarted
	StatusAlreadyConnected
	StatusNotStarted
	StatusNotConnected
	StatusSecurityFailed
	StatusSupplicantStartFailed
	StatusNotSupported
	StatusNotAllowed
)

var statusNames = map[Status]string{
	StatusSuccess:               "SUCCESS",
	StatusError:                 "ERROR",
	StatusCommandFailed:         "COMMAND_FAILED",
	StatusCommandUnknown:        "COMMAND_UNKNOWN",
	StatusParamFailed:           "PARAM_FAILED",
	StatusAlreadyStarted:        "ALREADY_STARTED",
	StatusAlreadyConnected:      "ALREADY_CONNECTED",
	StatusNotStarted:            "NOT_STARTED",
	StatusNotConnected:          "NOT_CONNECTED",
	StatusSecurityFailed:        "SECURITY_FAILED",
	StatusSupplicantStartFailed: "SUPPLICANT_START_FAILED",
	StatusNotSupported:          "NOT_SUPPORTED",
	StatusNotAllowed:            "NOT_ALLOWED",
}

// String returns the upper-case name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Error returns the status name with the package prefix.
func (s Status) Error() string {
	return "wifi: " + s.String()
}

// StatusOf extracts the status carried by err. A nil error is Success and an
// error without a Status in its chain is Error.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusError
}

func statusFromResult(r ctrl.Result) Status {
	switch r {
	case ctrl.ResultSuccess:
		return StatusSuccess
	case ctrl.ResultCommandFailed:
		return StatusCommandFailed
	case ctrl.ResultCommandUnknown:
		return StatusCommandUnknown
	default:
		return StatusError
	}
}
