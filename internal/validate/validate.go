package validate

import (
	"fmt"
	"net/mail"
	"strings"
)

// Text field length limits shared with the frontend through /api/limits.
const (
	MaxEmailLength             = 254
	MinPasswordLength          = 8
	MaxPasswordLength          = 72
	MaxFileNameLength          = 255
	MaxCourseNameLength        = 100
	MaxCourseDescriptionLength = 2000
)

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func required(value, field string) string {
	if strings.TrimSpace(value) == "" {
		return field + " is required"
	}
	return ""
}

func Email(s string) string {
	if msg := required(s, "email"); msg != "" {
		return msg
	}
	if msg := checkLen(s, MaxEmailLength, "email"); msg != "" {
		return msg
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return "invalid email address"
	}
	return ""
}

// Password enforces bcrypt's 72 byte input limit as the upper bound.
func Password(s string) string {
	if len(s) < MinPasswordLength {
		return fmt.Sprintf("password must be at least %d characters", MinPasswordLength)
	}
	if len(s) > MaxPasswordLength {
		return fmt.Sprintf("password must be at most %d characters", MaxPasswordLength)
	}
	return ""
}

func FileName(s string) string {
	if msg := required(s, "file name"); msg != "" {
		return msg
	}
	if strings.ContainsAny(s, "/\\") {
		return "file name must not contain path separators"
	}
	return checkLen(s, MaxFileNameLength, "file name")
}

func CourseName(s string) string {
	if msg := required(s, "course name"); msg != "" {
		return msg
	}
	return checkLen(s, MaxCourseNameLength, "course name")
}

func CourseDescription(s string) string {
	return checkLen(s, MaxCourseDescriptionLength, "course description")
}

// FieldLimits returns a map of field names to max lengths for the /api/limits endpoint.
func FieldLimits() map[string]int {
	return map[string]int{
		"email":             MaxEmailLength,
		"passwordMin":       MinPasswordLength,
		"passwordMax":       MaxPasswordLength,
		"fileName":          MaxFileNameLength,
		"courseName":        MaxCourseNameLength,
		"courseDescription": MaxCourseDescriptionLength,
	}
}
