// ABOUTME: Failure taxonomy for the sync backend
// ABOUTME: Classify maps any error to transient, conflict, missing or fatal handling

package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Code is a backend failure code.
type Code string

const (
	NetworkUnavailable  Code = "networkUnavailable"
	NetworkFailure      Code = "networkFailure"
	ServiceUnavailable  Code = "serviceUnavailable"
	RequestRateLimited  Code = "requestRateLimited"
	ZoneBusy            Code = "zoneBusy"
	NotAuthenticated    Code = "notAuthenticated"
	OperationCancelled  Code = "operationCancelled"
	ServerRecordChanged Code = "serverRecordChanged"
	ZoneNotFound        Code = "zoneNotFound"
	UnknownItem         Code = "unknownItem"
	InvalidArguments    Code = "invalidArguments"
	QuotaExceeded       Code = "quotaExceeded"
	InternalError       Code = "internalError"
)

// RecordError is a per-record (or per-zone) failure reported by the backend.
// ServerRecord is set for ServerRecordChanged and holds the server's copy.
type RecordError struct {
	Code         Code
	ServerRecord *Record
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("sync: %s", e.Code)
}

// Class is how a failure is handled.
type Class string

const (
	Transient Class = "transient"
	Conflict  Class = "conflict"
	Missing   Class = "missing"
	Fatal     Class = "fatal"
)

// Classify maps err to its handling class.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var re *RecordError
	if errors.As(err, &re) {
		switch re.Code {
		case NetworkUnavailable, NetworkFailure, ServiceUnavailable, RequestRateLimited,
			ZoneBusy, NotAuthenticated, OperationCancelled:
			return Transient
		case ServerRecordChanged:
			return Conflict
		case ZoneNotFound, UnknownItem:
			return Missing
		default:
			return Fatal
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Fatal
}
