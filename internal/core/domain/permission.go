package domain

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrInvalidPermissionCode indicates a code that is not module:resource:action.
var ErrInvalidPermissionCode = errors.New("invalid permission code")

const permissionCodeSeparator = ":"

var codeSegmentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Permission defines a named capability addressed by its code.
// Code, Module, Resource, Action and IsSystem never change after creation.
type Permission struct {
	ID          string
	Code        string
	Name        string
	Description *string
	Module      string
	Resource    string
	Action      string
	IsSystem    bool
	Metadata    ScalarMap
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizeCodeSegment lower-cases and trims a code segment.
func NormalizeCodeSegment(segment string) string {
	return strings.ToLower(strings.TrimSpace(segment))
}

// BuildPermissionCode joins normalized segments into module:resource:action.
func BuildPermissionCode(module, resource, action string) (string, error) {
	segments := []string{
		NormalizeCodeSegment(module),
		NormalizeCodeSegment(resource),
		NormalizeCodeSegment(action),
	}
	for _, segment := range segments {
		if !codeSegmentPattern.MatchString(segment) {
			return "", fmt.Errorf("%w: segment %q", ErrInvalidPermissionCode, segment)
		}
	}
	return strings.Join(segments, permissionCodeSeparator), nil
}

// ParsePermissionCode splits a code into its module, resource and action.
func ParsePermissionCode(code string) (module, resource, action string, err error) {
	parts := strings.Split(NormalizeCodeSegment(code), permissionCodeSeparator)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: %q", ErrInvalidPermissionCode, code)
	}
	for _, part := range parts {
		if !codeSegmentPattern.MatchString(part) {
			return "", "", "", fmt.Errorf("%w: %q", ErrInvalidPermissionCode, code)
		}
	}
	return parts[0], parts[1], parts[2], nil
}

// PermissionSet is a set of permission codes.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from the provided codes.
func NewPermissionSet(codes ...string) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}

// Has reports whether the code is in the set.
func (s PermissionSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Codes returns the codes in ascending order.
func (s PermissionSet) Codes() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
