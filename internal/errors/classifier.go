package errors

import (
	"errors"
	"syscall"
)

// ErrorCategory represents the category of an error for retry logic.
type ErrorCategory int

const (
	ErrorTransient  ErrorCategory = iota // Temporary errors - retry with backoff
	ErrorPermanent                       // Permanent errors - no retry
	ErrorCritical                        // System-level errors - alert immediately
	ErrorValidation                      // Data validation errors - no retry
	ErrorNetwork                         // Network-related - retry with backoff
)

// String names the category for stats/metrics labels.
func (c ErrorCategory) String() string {
	switch c {
	case ErrorTransient:
		return "transient"
	case ErrorPermanent:
		return "permanent"
	case ErrorCritical:
		return "critical"
	case ErrorValidation:
		return "validation"
	case ErrorNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Classifier categorizes errors for intelligent retry logic.
type Classifier struct{}

// NewClassifier creates a new error classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify determines the category of an error.
func (c *Classifier) Classify(err error) ErrorCategory {
	if err == nil {
		return ErrorPermanent // Should not happen, but safe default
	}

	// Check for system-level errors
	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.EAGAIN, syscall.ENOMEM, syscall.ETIMEDOUT:
			return ErrorTransient
		case syscall.ENOENT, syscall.EINVAL, syscall.EEXIST:
			return ErrorPermanent
		case syscall.EIO, syscall.ENOSPC:
			return ErrorCritical
		}
	}

	// Check for known leafdb errors
	switch err {
	case ErrParse:
		return ErrorValidation
	case ErrIO:
		// IO errors could be transient (EAGAIN) or permanent (ENOENT);
		// treat as potentially transient for retry logic.
		return ErrorTransient
	case ErrNotFound:
		return ErrorPermanent
	case ErrPoolStopped:
		return ErrorPermanent
	}

	// Default: treat as permanent (no retry)
	return ErrorPermanent
}

// ShouldRetry returns true if the error category indicates retry is appropriate.
func (c *Classifier) ShouldRetry(category ErrorCategory) bool {
	return category == ErrorTransient || category == ErrorNetwork
}

// IsCritical returns true if the error requires immediate attention.
func (c *Classifier) IsCritical(category ErrorCategory) bool {
	return category == ErrorCritical
}
