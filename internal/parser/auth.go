package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/therealutkarshpriyadarshi/authlog/pkg/types"
)

const authGrammar = "sshd_password"

// AuthParser extracts password authentication attempts from sshd log lines.
// The account is the shortest run of characters before the first " from ",
// so it may be empty; the address is the next run of non-space characters.
// Neither field is sanitized.
type AuthParser struct {
	pattern   *regexp.Regexp
	timestamp int
	outcome   int
	account   int
	address   int
}

// NewAuthParser compiles the sshd password grammar
func NewAuthParser() (*AuthParser, error) {
	pattern, err := CompileNamedGrok(authGrammar)
	if err != nil {
		return nil, err
	}

	p := &AuthParser{
		pattern:   pattern,
		timestamp: pattern.SubexpIndex("timestamp"),
		outcome:   pattern.SubexpIndex("outcome"),
		account:   pattern.SubexpIndex("account"),
		address:   pattern.SubexpIndex("address"),
	}
	for name, idx := range map[string]int{
		"timestamp": p.timestamp,
		"outcome":   p.outcome,
		"account":   p.account,
		"address":   p.address,
	} {
		if idx < 0 {
			return nil, fmt.Errorf("grok pattern %s has no %q field", authGrammar, name)
		}
	}

	return p, nil
}

// Parse implements the Parser interface
func (p *AuthParser) Parse(line string) (types.AuthEvent, bool) {
	line = strings.TrimSpace(line)

	match := p.pattern.FindStringSubmatch(line)
	if match == nil {
		return types.AuthEvent{}, false
	}

	return types.AuthEvent{
		Timestamp:     match[p.timestamp],
		Outcome:       types.Outcome(match[p.outcome]),
		Account:       match[p.account],
		SourceAddress: match[p.address],
		Raw:           line,
	}, true
}

// Name returns the parser name
func (p *AuthParser) Name() string {
	return "sshd-password"
}
