package retry

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind classifies a command failure for retry decisions.
type ErrorKind int

const (
	Retriable    ErrorKind = iota // Transient, worth retrying
	NonRetriable                  // Permanent, fail immediately
	Unknown                       // Unclassified, treated as retriable
)

func (k ErrorKind) String() string {
	switch k {
	case Retriable:
		return "RETRIABLE"
	case NonRetriable:
		return "NON_RETRIABLE"
	default:
		return "UNKNOWN"
	}
}

// nonRetriableKeywords in stderr indicate permanent failures.
var nonRetriableKeywords = []string{
	"permission denied",
	"unable to locate package",
	"no package",
	"no match for argument",
	"command not found",
	"invalid",
	"unrecognized option",
	"usage:",
}

// retriableKeywords in stderr indicate transient failures: package database
// locks held by a background updater and flaky mirrors or downloads.
var retriableKeywords = []string{
	"could not get lock",
	"unable to acquire the dpkg frontend lock",
	"is locked by another process",
	"existing lock",
	"temporary failure",
	"could not resolve",
	"connection",
	"timed out",
	"timeout",
	"failed to download",
	"failed to fetch",
	"cannot download",
	"try again",
	"503",
	"502",
}

// Classify determines if a failed command is worth retrying based on the error,
// process exit code, and stderr content.
func Classify(err error, exitCode int, stderr string) ErrorKind {
	// A timed-out attempt may succeed next time; a cancelled run must not retry.
	if errors.Is(err, context.DeadlineExceeded) {
		return Retriable
	}
	if errors.Is(err, context.Canceled) {
		return NonRetriable
	}

	lower := strings.ToLower(stderr)

	// Non-retriable keywords take priority: a missing package stays missing.
	for _, kw := range nonRetriableKeywords {
		if strings.Contains(lower, kw) {
			return NonRetriable
		}
	}

	for _, kw := range retriableKeywords {
		if strings.Contains(lower, kw) {
			return Retriable
		}
	}

	// Process could not be started at all.
	if exitCode < 0 {
		return NonRetriable
	}

	// Package managers use high exit codes (apt 100, yum 1) for everything, so
	// only exit code 1 with no recognised output is left as Unknown.
	if exitCode >= 2 {
		return NonRetriable
	}

	return Unknown
}
