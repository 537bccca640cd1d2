package metricstore

import (
	"fmt"
	"path"
	"strings"

	"github.com/calvinalkan/metricstore/internal/dimension"
)

// platformReservedChars are rejected from every path segment regardless of
// the host OS, so a counter name stays portable between POSIX and Windows
// deployments of the same store (§6.4 "match the host platform's
// valid-path-character rules").
const platformReservedChars = `<>:"|?*`

// validateCounterName checks name against §6.4: it must begin with '/',
// contain no path-separator mischief (empty segments, '.', '..'), and use
// only characters valid as path segments on either POSIX or Windows.
func validateCounterName(name string) error {
	if !strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: counter name %q must begin with '/'", ErrInvalidArgument, name)
	}

	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: counter name %q contains a NUL byte", ErrInvalidArgument, name)
	}

	if cleaned := path.Clean(name); cleaned != name {
		return fmt.Errorf("%w: counter name %q is not in canonical form (try %q)", ErrInvalidArgument, name, cleaned)
	}

	if name == "/" {
		return fmt.Errorf("%w: counter name %q has no segments", ErrInvalidArgument, name)
	}

	for _, segment := range strings.Split(strings.TrimPrefix(name, "/"), "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: counter name %q has an empty or relative segment", ErrInvalidArgument, name)
		}

		if strings.ContainsAny(segment, platformReservedChars) {
			return fmt.Errorf("%w: counter name %q contains a reserved path character", ErrInvalidArgument, name)
		}

		if strings.HasSuffix(segment, ".") || strings.HasSuffix(segment, " ") {
			return fmt.Errorf("%w: counter name %q has a segment ending in '.' or space", ErrInvalidArgument, name)
		}
	}

	return nil
}

// counterDir derives a counter's on-disk directory name by stripping its
// leading path separator (§6.2).
func counterDir(name string) string {
	return strings.TrimPrefix(name, "/")
}

// validateDimensions rejects any caller-supplied dimension whose name
// collides with a reserved dimension name (§3, §6.4).
func validateDimensions(dims []Dimension) error {
	seen := make(map[string]struct{}, len(dims))

	for _, d := range dims {
		if d.name == "" {
			return fmt.Errorf("%w: dimension name must not be empty", ErrInvalidArgument)
		}

		if dimension.IsReservedName(d.name) {
			return fmt.Errorf("%w: dimension name %q is reserved", ErrInvalidArgument, d.name)
		}

		key := strings.ToLower(d.name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: duplicate dimension name %q", ErrInvalidArgument, d.name)
		}

		seen[key] = struct{}{}
	}

	return nil
}
