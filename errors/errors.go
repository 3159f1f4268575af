// Package errors defines the kernel error taxonomy.
// Every failure the kernel can surface carries a stable string code so that
// operators can grep structured logs for a known identifier regardless of
// the human-readable message attached to it.
package errors

import "fmt"

// Code identifies a class of kernel failure.
type Code string

const (
	// CodeMissingLibraryName is raised when a module definition has an empty name.
	CodeMissingLibraryName Code = "MissingLibraryName"
	// CodeInvalidServiceDefinition is raised when a service entry is not a callable factory.
	CodeInvalidServiceDefinition Code = "InvalidServiceDefinition"
	// CodeDuplicateService is raised when a (module, service) pair is bound twice.
	CodeDuplicateService Code = "DuplicateService"
	// CodeDoublePriority is raised when a service name appears twice in a priority list.
	CodeDoublePriority Code = "DoublePriority"

	// CodeMissingDependency is raised when a library depends on a definition
	// that is not part of the application being bootstrapped.
	CodeMissingDependency Code = "MissingDependency"
	// CodeBadSort is raised when library dependencies cannot be linearized.
	CodeBadSort Code = "BadSort"
	// CodeNoDualBoot is raised when a second application attempts to bootstrap
	// while another one is still active in the process.
	CodeNoDualBoot Code = "NoDualBoot"
	// CodeDoubleBoot is raised when the same application is bootstrapped twice
	// without a teardown in between.
	CodeDoubleBoot Code = "DoubleBoot"

	// CodeLateConfigure is raised when a module schema is registered after the
	// configuration manager has already run its loaders.
	CodeLateConfigure Code = "LateConfigure"
	// CodeLateServerRegister is reserved for external collaborators that bind
	// transport surfaces; the kernel itself never raises it.
	CodeLateServerRegister Code = "LateServerRegister"

	// CodeMissingRequiredConfig is raised after all loaders have run and a
	// required config value is still absent. Fatal to bootstrap.
	CodeMissingRequiredConfig Code = "MissingRequiredConfig"
	// CodeServiceFactoryFailure is raised when a service factory fails during
	// wiring. Fatal to bootstrap.
	CodeServiceFactoryFailure Code = "ServiceFactoryFailure"
	// CodeUserCallbackFailure is raised when a lifecycle callback or scheduler
	// job fails at runtime. Logged, never fatal after Ready.
	CodeUserCallbackFailure Code = "UserCallbackFailure"

	// CodeUnknownConfig is raised when writing a (module, key) pair that no
	// schema ever declared, or when a write would replace a whole module or
	// put an object over a scalar key.
	CodeUnknownConfig Code = "UnknownConfig"
)

// KernelError is the error type produced by the kernel. It pairs a stable
// Code with a message and an optional wrapped cause.
type KernelError struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to the stdlib errors helpers.
func (e *KernelError) Unwrap() error {
	return e.Err
}

// New creates a KernelError with a formatted message.
func New(code Code, format string, args ...any) *KernelError {
	return &KernelError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a KernelError that wraps an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *KernelError {
	return &KernelError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// CodeOf extracts the kernel code from an error chain. It returns the empty
// code when the chain contains no KernelError.
func CodeOf(err error) Code {
	for err != nil {
		if ke, ok := err.(*KernelError); ok {
			return ke.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
