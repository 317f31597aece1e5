package warehouse

import (
	"fmt"
	"regexp"
	"strings"
)

// maxIdentifierLength is the warehouse-side limit on identifier names.
const maxIdentifierLength = 255

var unquotedIdentifierRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// InvalidIdentifierError reports an identifier that failed validation.
// Kind names the object class (database, schema, role, ...) for error
// messages; the offending value itself is never echoed back.
type InvalidIdentifierError struct {
	Kind   string
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s identifier: %s", e.Kind, e.Reason)
}

// ValidateIdentifier checks name against the warehouse identifier grammar.
// Identifiers end up interpolated into SHOW and USE statements, which cannot
// take bind parameters, so every name must pass here before reaching SQL.
//
// An identifier is either unquoted (letter or underscore followed by
// letters, digits, underscores or dollar signs) or double-quoted with any
// embedded double quote escaped by doubling.
func ValidateIdentifier(name, kind string) error {
	if name == "" {
		return &InvalidIdentifierError{Kind: kind, Reason: "must not be empty"}
	}
	if len(name) > maxIdentifierLength {
		return &InvalidIdentifierError{Kind: kind, Reason: fmt.Sprintf("must not exceed %d characters", maxIdentifierLength)}
	}

	if strings.HasPrefix(name, `"`) {
		if len(name) < 2 || !strings.HasSuffix(name, `"`) {
			return &InvalidIdentifierError{Kind: kind, Reason: "quoted identifier must end with a double quote"}
		}
		inner := name[1 : len(name)-1]
		if strings.Contains(strings.ReplaceAll(inner, `""`, ""), `"`) {
			return &InvalidIdentifierError{Kind: kind, Reason: "embedded double quotes must be doubled"}
		}
		return nil
	}

	if !unquotedIdentifierRegexp.MatchString(name) {
		return &InvalidIdentifierError{Kind: kind, Reason: "must start with a letter or underscore and contain only letters, digits, underscores or dollar signs"}
	}
	return nil
}
