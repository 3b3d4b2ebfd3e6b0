package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is.
var (
	ErrIdentityIncomplete = errors.New("identity is incomplete")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Run stages reported by StageError.
const (
	StageIdentity = "identity"
	StageLoad     = "load"
	StageCompile  = "compile"
	StagePublish  = "publish"
)

// StageError reports which stage of a generation run failed and on which path.
type StageError struct {
	Stage string // one of the Stage* constants
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s stage failed (path=%s): %v", e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new stage error
func NewStageError(stage, path string, err error) *StageError {
	return &StageError{
		Stage: stage,
		Path:  path,
		Err:   err,
	}
}

// ConfigError names the configuration key that holds an unusable value.
// Every ConfigError matches ErrInvalidConfig.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrInvalidConfig, e.Message, e.Err)
	}
	return fmt.Sprintf("%v: %s", ErrInvalidConfig, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigError creates a config error for field. err may be nil.
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
