package lib

import (
	"fmt"
	"math"
)

type ErrorI interface {
	Code() ErrorCode     // Returns the error code
	Module() ErrorModule // Returns the error module
	error                // Implements the built-in error interface
}

var _ ErrorI = &Error{} // Ensures *Error implements ErrorI

type ErrorCode uint32 // Defines a type for error codes

type ErrorModule string // Defines a type for error modules

type Error struct {
	ECode   ErrorCode   `json:"code"`   // Error code
	EModule ErrorModule `json:"module"` // Error module
	Msg     string      `json:"msg"`    // Error message
}

// NewError() constructs a new Error instance
func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

// Is() lets errors.Is match two errors of the same module and code
func (p *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.ECode == p.ECode && t.EModule == p.EModule
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeJSONMarshal     ErrorCode = 1
	CodeJSONUnmarshal   ErrorCode = 2
	CodeWriteFile       ErrorCode = 3
	CodeReadFile        ErrorCode = 4
	CodeInvalidArgument ErrorCode = 5
	CodeParseSize       ErrorCode = 6
	CodeMetricsServer   ErrorCode = 7

	// Setup Module: configuration errors, the only class a caller can recover from by adjusting parameters
	SetupModule ErrorModule = "setup"

	// Setup Module Error Codes
	CodeFaultToleranceBound ErrorCode = 1
	CodeLoyaltyLength       ErrorCode = 2
	CodeInvalidReporter     ErrorCode = 3
	CodeNoGenerals          ErrorCode = 4
	CodeAllocationBudget    ErrorCode = 5

	// Protocol Module: internal protocol errors, a sizing or logic defect rather than a transient condition
	ProtocolModule ErrorModule = "protocol"

	// Protocol Module Error Codes
	CodeChannelFull        ErrorCode = 1
	CodeChannelClosed      ErrorCode = 2
	CodeNoSuchChannel      ErrorCode = 3
	CodeFrameDecode        ErrorCode = 4
	CodeFrameWidth         ErrorCode = 5
	CodeFanoutMismatch     ErrorCode = 6
	CodeProvenanceMismatch ErrorCode = 7
	CodeContextDone        ErrorCode = 8
	CodeInvalidCommand     ErrorCode = 9
	CodeInvalidCommander   ErrorCode = 10
	CodeInvalidGeneral     ErrorCode = 11
	CodeSessionUsed        ErrorCode = 12
	CodeSessionClosed      ErrorCode = 13
)

func newLogError(err error) ErrorI {
	return NewError(NoCode, MainModule, err.Error())
}

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("json.marshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("json.unmarshal() failed with err: %s", err.Error()))
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("os.WriteFile() failed with err: %s", err.Error()))
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("os.ReadFile() failed with err: %s", err.Error()))
}

func ErrInvalidArgument(msg string) ErrorI {
	return NewError(CodeInvalidArgument, MainModule, "invalid argument: "+msg)
}

func ErrParseSize(s string, err error) ErrorI {
	return NewError(CodeParseSize, MainModule, fmt.Sprintf("unable to parse size %q: %s", s, err.Error()))
}

func ErrMetricsServer(err error) ErrorI {
	return NewError(CodeMetricsServer, MainModule, fmt.Sprintf("metrics server failed with err: %s", err.Error()))
}

func ErrFaultToleranceBound(nGenerals, nTraitors int) ErrorI {
	return NewError(CodeFaultToleranceBound, SetupModule,
		fmt.Sprintf("%d generals cannot tolerate %d traitors, need more than %d", nGenerals, nTraitors, 3*nTraitors))
}

func ErrLoyaltyLength(nGenerals, got int) ErrorI {
	return NewError(CodeLoyaltyLength, SetupModule, fmt.Sprintf("expected %d loyalty entries, got %d", nGenerals, got))
}

func ErrInvalidReporter(reporter, nGenerals int) ErrorI {
	return NewError(CodeInvalidReporter, SetupModule, fmt.Sprintf("reporter %d is not in [0, %d)", reporter, nGenerals))
}

func ErrNoGenerals() ErrorI {
	return NewError(CodeNoGenerals, SetupModule, "at least one general is required")
}

func ErrAllocationBudget(need, budget int64) ErrorI {
	return NewError(CodeAllocationBudget, SetupModule,
		fmt.Sprintf("channel hierarchy needs %d buffered bytes, budget is %d", need, budget))
}
