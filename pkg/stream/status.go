package stream

import (
	"fmt"
	"github.com/pkg/errors"
)

// Status is the device stream status carried in every packet.
type Status uint16

const (
	StatusNormal                 Status = 0
	StatusAutoRecoverActive      Status = 2940
	StatusAutoRecoverEnd         Status = 2941
	StatusScanOverlap            Status = 2942
	StatusAutoRecoverEndOverflow Status = 2943
	StatusBurstComplete          Status = 2944
)

var statusNames = map[Status]string{
	StatusNormal:                 "Normal",
	StatusAutoRecoverActive:      "AutoRecoverActive",
	StatusAutoRecoverEnd:         "AutoRecoverEnd",
	StatusScanOverlap:            "ScanOverlap",
	StatusAutoRecoverEndOverflow: "AutoRecoverEndOverflow",
	StatusBurstComplete:          "BurstComplete",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint16(s))
}

// Fatal reports whether the session cannot continue after s.
func (s Status) Fatal() bool {
	return s == StatusScanOverlap || s == StatusAutoRecoverEndOverflow
}

// Terminal reports whether the session ends after s, fatal or not.
func (s Status) Terminal() bool {
	return s.Fatal() || s == StatusBurstComplete
}

// Recoverable reports whether s is an auto recovery status.
func (s Status) Recoverable() bool {
	return s == StatusAutoRecoverActive || s == StatusAutoRecoverEnd
}

var ErrFatalStatus = errors.New("fatal stream status")

// FatalStatusError ends a session on ScanOverlap or AutoRecoverEndOverflow.
type FatalStatusError struct {
	Status       Status
	BacklogScans uint32
}

func (e *FatalStatusError) Error() string {
	return fmt.Sprintf("stream stopped by status %d (%s), backlog %d scans", uint16(e.Status), e.Status, e.BacklogScans)
}

func (e *FatalStatusError) Is(target error) bool {
	return target == ErrFatalStatus
}
