package runner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/kata/internal/domain"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ExtractEntryPoint returns the part of source starting at the definition
// of entry. Anything before it, such as pasted boilerplate, is discarded.
// The definition is the first `function <entry>` declaration, or failing
// that the first `const|let|var <entry> =` binding.
func ExtractEntryPoint(source, entry string) (string, error) {
	if !identPattern.MatchString(entry) {
		return "", fmt.Errorf("%w: invalid entry point %q", domain.ErrValidation, entry)
	}
	if strings.TrimSpace(source) == "" {
		return "", fmt.Errorf("%w: source is empty", domain.ErrValidation)
	}

	name := regexp.QuoteMeta(entry)
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`\bfunction\s*\*?\s*` + name + `\s*\(`),
		regexp.MustCompile(`\b(?:const|let|var)\s+` + name + `\s*=`),
	}
	for _, re := range patterns {
		if loc := re.FindStringIndex(source); loc != nil {
			return source[loc[0]:], nil
		}
	}

	return "", fmt.Errorf("%w: function %s is not defined", domain.ErrValidation, entry)
}
