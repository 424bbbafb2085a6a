package runtime

import (
	"errors"
	"fmt"
)

const (
	// MBAP header: transaction id(2) + protocol id(2) + length(2) + unit id(1)
	HeaderSize = 7
	// header + function code + exception code / byte count
	MinResponseSize = 9

	ProtocolID       uint16 = 0
	BytesPerRegister        = 2
	MaxRegisters            = 127
	ExceptionBit     byte   = 0x80

	FunctionReadHoldingRegisters   byte = 3
	FunctionWriteMultipleRegisters byte = 16

	ReadRequestSize       = 12
	ReadResponseDataIndex = 9
	WriteRequestDataIndex = 13
	WriteResponseSize     = 12
	// largest frame the command port can produce
	MaxADUSize = 260
)

var (
	ErrTransport = errors.New("modbus transport failure")
	ErrProtocol  = errors.New("modbus protocol failure")

	ErrRegisterCount          = errors.New("register count out of range")
	ErrFrameTruncated         = errors.New("frame truncated")
	ErrUnexpectedFunctionCode = errors.New("unexpected function code")
	ErrTransactionMismatch    = errors.New("transaction id mismatch")
	ErrLengthMismatch         = errors.New("frame shorter than header length")
	ErrSizeMismatch           = errors.New("frame size does not match data byte count")
	ErrClientCompromised      = errors.New("request/response ordering violated, connection abandoned")
)

// ExceptionError is a device-signaled Modbus exception.
type ExceptionError struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception %d for function %d", e.Code, e.FunctionCode)
}

// TransportError is a failure below the Modbus layer: the request or the
// response did not fully cross the connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("modbus %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolError means the device replied, but the reply was rejected or did
// not match the request.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("modbus response: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
