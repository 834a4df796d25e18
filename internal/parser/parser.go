package parser

import (
	"github.com/therealutkarshpriyadarshi/authlog/pkg/types"
)

// Parser turns one raw log line into an authentication event.
// The boolean is false when the line is not an authentication attempt;
// that is the normal outcome for most lines and is never an error.
type Parser interface {
	Parse(line string) (types.AuthEvent, bool)

	// Name returns the parser name, used as a metrics label
	Name() string
}

// New returns the parser for the supported sshd password grammar
func New() (Parser, error) {
	return NewAuthParser()
}
