package businterface

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ds485d/pkg/frame"
)

var (
	// ErrTimeout means no matching response arrived in time.
	ErrTimeout = errors.New("no response from bus")
	// ErrBadResponse means a response arrived but could not be decoded.
	ErrBadResponse = errors.New("malformed response")
)

// BusError carries the context of a failed bus call.
type BusError struct {
	Op            string
	FunctionID    FunctionID
	Target        frame.StationID
	Broadcast     bool
	Elapsed       time.Duration
	CorrelationID uuid.UUID
	Err           error
}

func (e *BusError) Error() string {
	target := "station " + e.Target.String()
	if e.Broadcast {
		target = "broadcast"
	}
	return fmt.Sprintf("businterface: %s (%s) to %s: %v after %s",
		e.Op, FunctionName(e.FunctionID), target, e.Err, e.Elapsed.Round(time.Millisecond))
}

func (e *BusError) Unwrap() error { return e.Err }

// Timeout reports whether the call failed for lack of a response.
func (e *BusError) Timeout() bool { return errors.Is(e.Err, ErrTimeout) }

// Result codes reported by meters in place of a value.
const (
	ResultNoIDForIndexFound             = -1
	ResultZoneNotFound                  = -2
	ResultIndexOutOfBounds              = -3
	ResultGroupIDOutOfBounds            = -4
	ResultZoneCannotBeDeleted           = -5
	ResultOutOfMemory                   = -6
	ResultRoomAlreadyExists             = -7
	ResultInvalidDeviceID               = -8
	ResultCannotRemoveFromStandardGroup = -9
	ResultCannotDeleteStandardGroup     = -10
	ResultDSIDIsNull                    = -11
	ResultReservedRoomNumber            = -12
	ResultDeviceNotFound                = -13
	ResultGroupNotFound                 = -14
)

var resultMessages = map[int]string{
	ResultNoIDForIndexFound:             "No ID for index found",
	ResultZoneNotFound:                  "Zone not found",
	ResultIndexOutOfBounds:              "Index out of bounds",
	ResultGroupIDOutOfBounds:            "Group ID out of bounds",
	ResultZoneCannotBeDeleted:           "Zone can not be deleted",
	ResultOutOfMemory:                   "dSM is out of memory",
	ResultRoomAlreadyExists:             "Room already exists",
	ResultInvalidDeviceID:               "Invalid device id",
	ResultCannotRemoveFromStandardGroup: "Cannot remove device from standard group",
	ResultCannotDeleteStandardGroup:     "Cannot delete standard group",
	ResultDSIDIsNull:                    "DSID is null",
	ResultReservedRoomNumber:            "Room number is reserved",
	ResultDeviceNotFound:                "Device not found",
	ResultGroupNotFound:                 "Group not found",
}

// APIError is a negative result code returned by a meter.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bus api error %d: %s", e.Code, e.Message)
}

// Is matches any *APIError with the same code.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// CheckResult converts a negative result code into an *APIError.
func CheckResult(code int) error {
	if code >= 0 {
		return nil
	}
	msg, ok := resultMessages[code]
	if !ok {
		msg = "Unknown Error"
	}
	return &APIError{Code: code, Message: msg}
}
