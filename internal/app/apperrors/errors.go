// Package apperrors provides the unified error type used across every
// control-plane component.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a specific error condition.
type Code string

const (
	// Registry / registration (1xxx)
	CodeAgentNotFound         Code = "AGENT_1001"
	CodeAgentAlreadyRegistered Code = "AGENT_1002"
	CodeMaxAgentsReached      Code = "AGENT_1003"
	CodeInvalidToken          Code = "AGENT_1004"
	CodeVersionTooOld         Code = "AGENT_1005"
	CodeMissingCapabilities   Code = "AGENT_1006"
	CodeRegistrationPending   Code = "AGENT_1007"
	CodeRegistrationDenied    Code = "AGENT_1008"

	// Policy (2xxx)
	CodePolicyNotFound      Code = "POLICY_2001"
	CodePolicyAlreadyExists Code = "POLICY_2002"
	CodeValidationFailed    Code = "POLICY_2003"
	CodeInvalidPolicyFile   Code = "POLICY_2004"

	// Distribution (3xxx)
	CodeNoTargetAgents        Code = "DIST_3001"
	CodeDistributionNotFound  Code = "DIST_3002"
	CodeDistributionCancelled Code = "DIST_3003"

	// Audit (4xxx)
	CodeInvalidDateRange Code = "AUDIT_4001"

	// Auth / access (5xxx)
	CodeUnauthorized    Code = "ACCESS_5001"
	CodeForbidden       Code = "ACCESS_5002"
	CodeDecodingFailed  Code = "ACCESS_5003"
	CodeInvalidSignature Code = "ACCESS_5004"
	CodeExpired         Code = "ACCESS_5005"
	CodeInvalidClaim    Code = "ACCESS_5006"

	// Generic I/O (9xxx)
	CodeIO       Code = "IO_9001"
	CodeInternal Code = "IO_9002"
)

// Error is the sum type every component returns on failure.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches additional structured context and returns e.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New constructs a bare Error.
func New(code Code, message string, httpStatus int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap constructs an Error carrying an underlying cause.
func Wrap(code Code, message string, httpStatus int, err error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Constructors used throughout the component packages.

func AgentNotFound(id string) *Error {
	return New(CodeAgentNotFound, "agent not found", http.StatusNotFound).WithDetails("agentId", id)
}

func AgentAlreadyRegistered(id string) *Error {
	return New(CodeAgentAlreadyRegistered, "agent already registered", http.StatusConflict).WithDetails("agentId", id)
}

func MaxAgentsReached(max int) *Error {
	return New(CodeMaxAgentsReached, "maximum agent count reached", http.StatusConflict).WithDetails("max", max)
}

func InvalidToken() *Error {
	return New(CodeInvalidToken, "invalid or expired agent token", http.StatusUnauthorized)
}

func VersionTooOld(have, want string) *Error {
	return New(CodeVersionTooOld, "agent app version below minimum", http.StatusForbidden).
		WithDetails("have", have).WithDetails("minimum", want)
}

func MissingCapabilities(missing []string) *Error {
	return New(CodeMissingCapabilities, "agent missing required capabilities", http.StatusForbidden).
		WithDetails("missing", missing)
}

func PolicyNotFound(name string) *Error {
	return New(CodePolicyNotFound, "policy not found", http.StatusNotFound).WithDetails("name", name)
}

func PolicyAlreadyExists(name string) *Error {
	return New(CodePolicyAlreadyExists, "policy already exists", http.StatusConflict).WithDetails("name", name)
}

func ValidationFailed(errs []string) *Error {
	return New(CodeValidationFailed, "policy validation failed", http.StatusBadRequest).WithDetails("errors", errs)
}

func InvalidPolicyFile(path string, err error) *Error {
	return Wrap(CodeInvalidPolicyFile, "invalid policy file", http.StatusInternalServerError, err).WithDetails("path", path)
}

func NoTargetAgents() *Error {
	return New(CodeNoTargetAgents, "distribution target resolved to zero agents", http.StatusUnprocessableEntity)
}

func DistributionNotFound(id string) *Error {
	return New(CodeDistributionNotFound, "distribution not found", http.StatusNotFound).WithDetails("distributionId", id)
}

func InvalidDateRange() *Error {
	return New(CodeInvalidDateRange, "end date precedes start date", http.StatusBadRequest)
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func Forbidden(reason string) *Error {
	return New(CodeForbidden, "forbidden", http.StatusForbidden).WithDetails("reason", reason)
}

func DecodingFailed(err error) *Error {
	return Wrap(CodeDecodingFailed, "failed to decode token", http.StatusUnauthorized, err)
}

func InvalidSignature(err error) *Error {
	return Wrap(CodeInvalidSignature, "invalid token signature", http.StatusUnauthorized, err)
}

func TokenExpired() *Error {
	return New(CodeExpired, "token expired", http.StatusUnauthorized)
}

func InvalidClaim(name string) *Error {
	return New(CodeInvalidClaim, "invalid token claim", http.StatusUnauthorized).WithDetails("claim", name)
}

func Internal(message string, err error) *Error {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, err)
}

func IO(err error) *Error {
	return Wrap(CodeIO, "i/o failure", http.StatusInternalServerError, err)
}
