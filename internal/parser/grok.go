package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// Base grok patterns, limited to the building blocks of the auth grammar
var grokPatterns = map[string]string{
	"NOTSPACE": `\S+`,
	"DATA":     `.*?`,

	// syslog-style "Feb  3 12:00:00"; the month is any three word characters
	"MONTHABBR":   `\w{3}`,
	"MONTHDAY":    `\d{1,2}`,
	"CLOCK":       `\d{2}:\d{2}:\d{2}`,
	"SYSLOGSTAMP": `%{MONTHABBR}\s+%{MONTHDAY}\s%{CLOCK}`,

	"AUTHOUTCOME": `(?:Failed|Accepted)`,
}

// Named grammars built from the base patterns
var namedGrokPatterns = map[string]string{
	// sshd password authentication:
	//   Feb 03 12:20:00 host sshd[126]: Failed password for invalid user bob from 1.2.3.4 port 22 ssh2
	"sshd_password": `%{SYSLOGSTAMP:timestamp}%{DATA}%{AUTHOUTCOME:outcome}\s+password\s+for\s+(?:invalid\s+user\s+)?%{DATA:account}\s+from\s+%{NOTSPACE:address}`,
}

var grokReference = regexp.MustCompile(`%\{([A-Z0-9_]+)(?::([a-z0-9_]+))?\}`)

// CompileGrok expands a grok pattern and compiles the result
func CompileGrok(pattern string) (*regexp.Regexp, error) {
	expanded, err := expandGrokPattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to expand grok pattern: %w", err)
	}

	re, err := regexp.Compile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expanded pattern: %w", err)
	}
	return re, nil
}

// CompileNamedGrok compiles one of the built-in named grammars
func CompileNamedGrok(name string) (*regexp.Regexp, error) {
	pattern, ok := namedGrokPatterns[name]
	if !ok {
		return nil, fmt.Errorf("unknown grok pattern: %s", name)
	}
	return CompileGrok(pattern)
}

// expandGrokPattern expands %{PATTERN} and %{PATTERN:field} references to regex
func expandGrokPattern(pattern string) (string, error) {
	expanded := pattern
	maxIterations := 100 // nested references resolve one level per pass

	for i := 0; i < maxIterations; i++ {
		matches := grokReference.FindAllStringSubmatch(expanded, -1)
		if len(matches) == 0 {
			return expanded, nil
		}

		for _, match := range matches {
			patternName := match[1]
			fieldName := match[2]

			replacement, ok := grokPatterns[patternName]
			if !ok {
				return "", fmt.Errorf("unknown grok pattern: %s", patternName)
			}

			if fieldName != "" {
				replacement = fmt.Sprintf("(?P<%s>%s)", fieldName, replacement)
			}

			expanded = strings.Replace(expanded, match[0], replacement, 1)
		}
	}

	return "", fmt.Errorf("grok pattern nesting too deep: %s", pattern)
}
