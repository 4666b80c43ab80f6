package params

import (
	"fmt"
	"strconv"
	"strings"
)

// CheckConstraint checks a launcher_version constraint against the running
// version. Supported forms:
//
//	=1.2.3    exact match
//	>=1.2.3   at least
//	^1.2.3    same major, at least 1.2.3
//	1.2.3     shorthand for ^1.2.3
//
// Returns nil when the version satisfies the constraint.
func CheckConstraint(constraint, version string) error {
	constraint = strings.TrimSpace(constraint)

	op := "^"
	switch {
	case strings.HasPrefix(constraint, ">="):
		op = ">="
		constraint = constraint[2:]
	case strings.HasPrefix(constraint, "="):
		op = "="
		constraint = constraint[1:]
	case strings.HasPrefix(constraint, "^"):
		constraint = constraint[1:]
	}

	want, err := parseVersion(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	have, err := parseVersion(version)
	if err != nil {
		return fmt.Errorf("invalid launcher version %q: %w", version, err)
	}

	switch op {
	case "=":
		if have != want {
			return fmt.Errorf("launcher version %s does not match required %s", version, constraint)
		}
	case ">=":
		if compare(have, want) < 0 {
			return fmt.Errorf("launcher version %s is older than required %s", version, constraint)
		}
	case "^":
		if have[0] != want[0] {
			return fmt.Errorf("launcher major version %d does not match required %d", have[0], want[0])
		}
		if compare(have, want) < 0 {
			return fmt.Errorf("launcher version %s is older than required %s", version, constraint)
		}
	}

	return nil
}

// VersionParsable reports whether s parses as a MAJOR[.MINOR[.PATCH]]
// version. Development builds ("dev") are not versioned and can neither
// satisfy nor violate a constraint.
func VersionParsable(s string) bool {
	_, err := parseVersion(s)
	return err == nil
}

func parseVersion(s string) ([3]int, error) {
	var v [3]int
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	// Strip pre-release/build suffixes
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}

	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return v, fmt.Errorf("expected MAJOR[.MINOR[.PATCH]]")
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return v, fmt.Errorf("component %q is not a number", p)
		}
		v[i] = n
	}
	return v, nil
}

func compare(a, b [3]int) int {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
