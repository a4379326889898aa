// Package passphrase resolves keystore passwords for the command-line tools.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// EnvVar is the environment variable consulted before prompting.
const EnvVar = "TOLSETTLE_PASSWORD"

// ErrNoPassword is returned when neither the variable nor a terminal is
// available.
var ErrNoPassword = errors.New("keystore password required")

// Source resolves a password once and caches it.
type Source struct {
	envVar string
	prompt string
	stdin  *os.File
	out    io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource returns a Source that reads envVar and otherwise prompts on the
// terminal with prompt.
func NewSource(envVar, prompt string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), prompt: prompt, stdin: os.Stdin, out: os.Stderr}
}

// Get returns the password. The environment variable wins even when empty,
// so unattended deployments can opt into an unencrypted-equivalent keystore.
// Without the variable or a terminal, Get returns ErrNoPassword.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if v, ok := os.LookupEnv(s.envVar); ok {
				s.value = v
				return
			}
		}
		fd := int(s.stdin.Fd())
		if !term.IsTerminal(fd) {
			s.err = fmt.Errorf("%w: set %s or run interactively", ErrNoPassword, s.envVar)
			return
		}
		fmt.Fprint(s.out, s.prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(s.out)
		if err != nil {
			s.err = fmt.Errorf("read password: %w", err)
			return
		}
		s.value = string(b)
	})
	return s.value, s.err
}
