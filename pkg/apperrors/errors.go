package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrCredential        = errors.New("credential error")
	ErrCatalog           = errors.New("catalog error")
	ErrUnsupportedSample = errors.New("unsupported sample type")
	ErrRowCountExceeded  = errors.New("row count exceeded")
	ErrContainer         = errors.New("container error")
	ErrDependency        = errors.New("dependency failed")
	ErrConfiguration     = errors.New("configuration error")
	ErrAlreadyRunning    = errors.New("replica already running")
)

// CredentialError reports a profile field that is missing or not accepted by an adapter.
// Credential errors are fatal to the run and are never retried.
type CredentialError struct {
	Adapter string
	Field   string
	Reason  string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential error: %s adapter: field %q %s", e.Adapter, e.Field, e.Reason)
}

func (e *CredentialError) Unwrap() error { return ErrCredential }

// CatalogError reports metadata that could not be mapped onto the catalog model.
type CatalogError struct {
	Database string
	Relation string // empty when the failure is not tied to one relation
	Err      error
}

func (e *CatalogError) Error() string {
	if e.Relation != "" {
		return fmt.Sprintf("catalog error: %s.%s: %v", e.Database, e.Relation, e.Err)
	}
	return fmt.Sprintf("catalog error: %s: %v", e.Database, e.Err)
}

func (e *CatalogError) Unwrap() []error { return []error{ErrCatalog, e.Err} }

// UnsupportedSampleError is returned when an adapter is asked for a sample kind
// outside its declared supported set.
type UnsupportedSampleError struct {
	Adapter string
	Kind    string
}

func (e *UnsupportedSampleError) Error() string {
	return fmt.Sprintf("%s sampling is not supported by the %s adapter", e.Kind, e.Adapter)
}

func (e *UnsupportedSampleError) Unwrap() error { return ErrUnsupportedSample }

// RowCountExceededError is returned by the count guard when a query would
// return more rows than allowed. The guarded query is never executed.
type RowCountExceededError struct {
	Count int64
	Max   int64
}

func (e *RowCountExceededError) Error() string {
	return fmt.Sprintf("query would return %d rows but the maximum allowed is %d", e.Count, e.Max)
}

func (e *RowCountExceededError) Unwrap() error { return ErrRowCountExceeded }

// ContainerError wraps a container runtime failure verbatim.
type ContainerError struct {
	Op    string
	Image string
	Err   error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("container %s (%s): %v", e.Op, e.Image, e.Err)
}

func (e *ContainerError) Unwrap() []error { return []error{ErrContainer, e.Err} }

// DependencyError marks a relation that was not sampled because a relation it
// hard-depends on failed.
type DependencyError struct {
	Relation  string
	DependsOn string
	Err       error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s not sampled: dependency %s failed: %v", e.Relation, e.DependsOn, e.Err)
}

func (e *DependencyError) Unwrap() error { return ErrDependency }

// Configurationf builds an ErrConfiguration-wrapped error.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
