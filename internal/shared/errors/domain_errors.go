package errors

import (
	"errors"
	"fmt"
	"maps"
)

// DomainError is a failure tagged with the area of the generator it came
// from and a stable code callers can match on.
type DomainError interface {
	error

	// Domain is one of the Domain* constants.
	Domain() string

	// Code is one of the ErrCode* constants.
	Code() string

	// Metadata carries context such as the path involved.
	Metadata() map[string]any

	// WithMetadata returns a copy with key set.
	WithMetadata(key string, value any) DomainError
}

// BaseError implements DomainError.
type BaseError struct {
	domain   string
	code     string
	message  string
	cause    error
	metadata map[string]any
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.domain, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.domain, e.code, e.message)
}

func (e *BaseError) Unwrap() error            { return e.cause }
func (e *BaseError) Domain() string           { return e.domain }
func (e *BaseError) Code() string             { return e.code }
func (e *BaseError) Metadata() map[string]any { return e.metadata }

// NewBaseError creates a BaseError. A nil metadata map is replaced by an
// empty one.
func NewBaseError(domain, code, message string, cause error, metadata map[string]any) *BaseError {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &BaseError{
		domain:   domain,
		code:     code,
		message:  message,
		cause:    cause,
		metadata: metadata,
	}
}

// WithMetadata returns a copy of the error with key set in its metadata.
// The receiver is left untouched so shared sentinels stay immutable.
func (e *BaseError) WithMetadata(key string, value any) DomainError {
	meta := maps.Clone(e.metadata)
	meta[key] = value

	copied := *e
	copied.metadata = meta
	return &copied
}

// Error codes.
const (
	// Key storage, descriptor directory and output directory.
	ErrCodeStorage       = "storage_error"
	ErrCodeCorruptState  = "corrupt_identity"
	ErrCodeFileOperation = "file_operation_error"

	ErrCodeKeyGeneration  = "key_generation_failed"
	ErrCodeKeyToolMissing = "key_tool_missing"
	ErrCodeInvalidKey     = "invalid_key"

	ErrCodeDescriptorRead = "descriptor_read_failed"

	ErrCodeTemplateParse  = "template_parse_failed"
	ErrCodeTemplateRender = "template_render_failed"

	ErrCodeInvalidPool = "invalid_address_pool"
)

// Domains.
const (
	DomainStorage    = "storage"
	DomainKeygen     = "keygen"
	DomainDescriptor = "descriptor"
	DomainRender     = "render"
	DomainAllocator  = "allocator"
)

// NewStorageError creates a storage error for the file or directory at path.
func NewStorageError(code, message, path string, cause error) DomainError {
	return NewBaseError(DomainStorage, code, message, cause, map[string]any{"path": path})
}

// NewKeyGenerationError creates an error for a failed key pair request.
func NewKeyGenerationError(code, message string, cause error) DomainError {
	return NewBaseError(DomainKeygen, code, message, cause, nil)
}

// NewDescriptorReadError creates an error for a peer descriptor that could not be read.
func NewDescriptorReadError(message, path string, cause error) DomainError {
	return NewBaseError(DomainDescriptor, ErrCodeDescriptorRead, message, cause, map[string]any{"path": path})
}

// NewTemplateRenderError creates an error for a template that failed to parse or render.
func NewTemplateRenderError(code, message string, cause error) DomainError {
	return NewBaseError(DomainRender, code, message, cause, nil)
}

// NewAllocatorError creates an address allocation error.
func NewAllocatorError(code, message string, cause error) DomainError {
	return NewBaseError(DomainAllocator, code, message, cause, nil)
}

// AsDomainError returns the first DomainError in err's chain.
func AsDomainError(err error) (DomainError, bool) {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// GetErrorCode returns the code of err itself, or "unknown" when err is not
// a DomainError. Wrapped errors are not searched.
func GetErrorCode(err error) string {
	if domainErr, ok := err.(DomainError); ok {
		return domainErr.Code()
	}
	return "unknown"
}

// GetErrorDomain returns the domain of err itself, or "unknown".
func GetErrorDomain(err error) string {
	if domainErr, ok := err.(DomainError); ok {
		return domainErr.Domain()
	}
	return "unknown"
}

// IsErrorCode reports whether any error in the chain has code.
func IsErrorCode(err error, code string) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		if GetErrorCode(err) == code {
			return true
		}
	}
	return false
}

// IsErrorDomain reports whether any error in the chain belongs to domain.
func IsErrorDomain(err error, domain string) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		if GetErrorDomain(err) == domain {
			return true
		}
	}
	return false
}
