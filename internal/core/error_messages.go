// error_messages.go
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. Error codes are grouped by category:
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Required field unmapped: First or last name has no column
//	         Action: Map a column to both First Name and Last Name
//	         Patterns: "missing required field mapping"
//
//	MAP002 - Unknown column: The mapping names a column the file does not have
//	         Action: Re-upload the file or pick columns from the list
//	         Patterns: "mapped column not found"
//
//	MAP003 - Invalid mapping: The mapping could not be applied
//	         Action: Review the column mapping
//	         Patterns: "invalid mapping"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import cancelled            Patterns: "import cancelled"
//	IMP002 - System busy                 Patterns: "too many concurrent imports"
//	IMP003 - Session expired             Patterns: "import not found"
//	IMP004 - Not validated               Patterns: "not been validated"
//	IMP005 - Invalid options             Patterns: "invalid duplicate handling", "invalid batch size", "invalid import options"
//	IMP006 - Already committed           Patterns: "already committed"
//	IMP007 - Request timeout             Patterns: "context deadline exceeded"
//	IMP008 - Not committed               Patterns: "not been committed"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large             Patterns: "file too large"
//	FILE002 - No file                    Patterns: "no file provided"
//	FILE003 - Empty file                 Patterns: "empty file"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate student            Patterns: "duplicate key"
//	DB002 - Connection refused           Patterns: "connection refused"
//	DB003 - Student not found            Patterns: "student not found"
//	DB004 - Permission lost              Patterns: "non-recoverable", "permission denied"
//
// # Authentication Errors (AUTH001-AUTH099)
//
//	AUTH001 - No acting teacher          Patterns: "missing teacher"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Support staff should check the
// application logs for the original technical error.
//
// # Pattern Matching
//
// Patterns are matched case-insensitively using strings.Contains. The first
// matching pattern wins, so specific patterns come before general ones.

package core

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// Mapping messages are also chosen directly from a *MappingError.
var (
	msgMappingMissing = UserMessage{
		Message: "First name and last name must both be mapped to a column",
		Action:  "Map a column to both First Name and Last Name",
		Code:    "MAP001",
	}
	msgMappingUnknownColumn = UserMessage{
		Message: "The mapping refers to a column that is not in the file",
		Action:  "Re-upload the file or pick columns from the list",
		Code:    "MAP002",
	}
	msgMappingInvalid = UserMessage{
		Message: "The column mapping could not be applied",
		Action:  "Review the column mapping",
		Code:    "MAP003",
	}
)

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Mapping Errors (MAP001-MAP003)
	// =========================================================================
	{pattern: "missing required field mapping", msg: msgMappingMissing},
	{pattern: "mapped column not found", msg: msgMappingUnknownColumn},
	{pattern: "invalid mapping", msg: msgMappingInvalid},

	// =========================================================================
	// Import Errors (IMP001-IMP008)
	// =========================================================================
	{
		pattern: "import cancelled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "IMP001",
		},
	},
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP002",
		},
	},
	{
		pattern: "import not found",
		msg: UserMessage{
			Message: "Import session not found",
			Action:  "The import may have expired. Please upload the file again",
			Code:    "IMP003",
		},
	},
	{
		pattern: "not been validated",
		msg: UserMessage{
			Message: "The import has not been previewed yet",
			Action:  "Confirm the column mapping before importing",
			Code:    "IMP004",
		},
	},
	{
		pattern: "invalid duplicate handling",
		msg: UserMessage{
			Message: "Unknown duplicate handling option",
			Action:  "Choose create only, update existing or skip duplicates",
			Code:    "IMP005",
		},
	},
	{
		pattern: "invalid batch size",
		msg: UserMessage{
			Message: "Batch size must be a positive number",
			Action:  "Choose a batch size greater than zero",
			Code:    "IMP005",
		},
	},
	{
		pattern: "invalid import options",
		msg: UserMessage{
			Message: "The import options are not valid",
			Action:  "Review the duplicate handling and batch settings",
			Code:    "IMP005",
		},
	},
	{
		pattern: "already committed",
		msg: UserMessage{
			Message: "This import has already been started",
			Action:  "Follow the running import or upload the file again",
			Code:    "IMP006",
		},
	},
	{
		pattern: "not been committed",
		msg: UserMessage{
			Message: "The import has not been started",
			Action:  "Confirm the preview and start the import first",
			Code:    "IMP008",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try importing a smaller file or check your connection",
			Code:    "IMP007",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE003)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the roster into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a roster file to upload",
			Code:    "FILE002",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file has no header row",
			Action:  "Please upload a file with a header row and student rows",
			Code:    "FILE003",
		},
	},

	// =========================================================================
	// Database Errors (DB001-DB004)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A student with this ID already exists",
			Action:  "Re-import with update existing, or remove the duplicate row",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "student not found",
		msg: UserMessage{
			Message: "The matching student no longer exists",
			Action:  "Refresh the roster and import again",
			Code:    "DB003",
		},
	},
	{
		pattern: "non-recoverable",
		msg: UserMessage{
			Message: "The import lost access to the roster",
			Action:  "Sign in again and re-import the remaining rows",
			Code:    "DB004",
		},
	},
	{
		pattern: "permission denied",
		msg: UserMessage{
			Message: "The import lost access to the roster",
			Action:  "Sign in again and re-import the remaining rows",
			Code:    "DB004",
		},
	},

	// =========================================================================
	// Authentication Errors (AUTH001)
	// =========================================================================
	{
		pattern: "missing teacher",
		msg: UserMessage{
			Message: "No signed-in teacher for this request",
			Action:  "Sign in and try again",
			Code:    "AUTH001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// A *MappingError is classified by its contents; everything else is matched
// against the known patterns, falling back to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var me *MappingError
	if errors.As(err, &me) {
		switch {
		case len(me.Missing) > 0:
			return msgMappingMissing
		case len(me.UnknownHeaders) > 0:
			return msgMappingUnknownColumn
		default:
			return msgMappingInvalid
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-friendly message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
