// Package identity turns raw login names into their canonical form and derives
// the role an account receives at signup.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"interview-auth/internal/domain"
)

// ErrSignupNotAllowed is returned when a rule rejects self-service signup.
var ErrSignupNotAllowed = errors.New("signup not allowed for this identifier")

const (
	PolicySubstring = "substring"
	PolicyPrefix    = "prefix"
)

// Normalize trims surrounding whitespace and upper-cases the identifier.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Rule maps a predicate over a normalized identifier to an outcome. A rule with
// Reject set refuses signup; otherwise Role is assigned.
type Rule struct {
	Name   string
	Match  func(identifier string) bool
	Role   domain.Role
	Reject bool
}

// Contains builds a predicate matching identifiers that contain marker.
// The marker is normalized the same way identifiers are.
func Contains(marker string) func(string) bool {
	marker = Normalize(marker)
	return func(identifier string) bool {
		return marker != "" && strings.Contains(identifier, marker)
	}
}

// Classifier evaluates its rules in order; the first match wins and Fallback
// applies when nothing matches.
type Classifier struct {
	policy   string
	rules    []Rule
	fallback domain.Role
}

// NewClassifier validates the rule list. The fallback may not be an elevated role.
func NewClassifier(policy string, fallback domain.Role, rules ...Rule) (*Classifier, error) {
	if fallback != domain.RoleStudent {
		return nil, fmt.Errorf("fallback role must be %q, got %q", domain.RoleStudent, fallback)
	}
	for i, r := range rules {
		if r.Match == nil {
			return nil, fmt.Errorf("rule %d (%s) has no predicate", i, r.Name)
		}
		if !r.Reject && !r.Role.Valid() {
			return nil, fmt.Errorf("rule %d (%s) has unknown role %q", i, r.Name, r.Role)
		}
	}
	return &Classifier{
		policy:   policy,
		rules:    append([]Rule(nil), rules...),
		fallback: fallback,
	}, nil
}

// Markers configures the substrings the built-in policies look for.
type Markers struct {
	Admin   string
	Faculty string
}

// SubstringPolicy rejects admin identifiers, tags faculty identifiers and
// defaults everything else to student.
func SubstringPolicy(m Markers) (*Classifier, error) {
	return NewClassifier(PolicySubstring, domain.RoleStudent,
		Rule{Name: "admin", Match: Contains(m.Admin), Reject: true},
		Rule{Name: "faculty", Match: Contains(m.Faculty), Role: domain.RoleFaculty},
	)
}

// PrefixPolicy allows self-service admin accounts for identifiers carrying the
// admin marker and defaults everything else to student.
func PrefixPolicy(m Markers) (*Classifier, error) {
	return NewClassifier(PolicyPrefix, domain.RoleStudent,
		Rule{Name: "admin", Match: Contains(m.Admin), Role: domain.RoleAdmin},
	)
}

// NewPolicy builds the classifier named by policy.
func NewPolicy(policy string, m Markers) (*Classifier, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case PolicySubstring:
		return SubstringPolicy(m)
	case PolicyPrefix:
		return PrefixPolicy(m)
	default:
		return nil, fmt.Errorf("unknown role policy %q", policy)
	}
}

// Policy returns the name the classifier was built with.
func (c *Classifier) Policy() string {
	return c.policy
}

// Classify returns the role for a normalized identifier, or ErrSignupNotAllowed.
func (c *Classifier) Classify(identifier string) (domain.Role, error) {
	for _, r := range c.rules {
		if !r.Match(identifier) {
			continue
		}
		if r.Reject {
			return "", ErrSignupNotAllowed
		}
		return r.Role, nil
	}
	return c.fallback, nil
}
