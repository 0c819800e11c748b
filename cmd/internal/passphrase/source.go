package passphrase

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a secret from an environment variable, falling back to an
// echo-free terminal prompt. The first result is cached.
type Source struct {
	envVar string
	label  string
	minLen int

	once  sync.Once
	value string
	err   error
}

// NewSource reads envVar before prompting for label. Secrets shorter than
// minLen bytes are rejected.
func NewSource(envVar, label string, minLen int) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), label: label, minLen: minLen}
}

// Get returns the secret.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			return s.check(value, s.envVar)
		}
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s required and no terminal available", s.label)
	}
	fmt.Fprintf(os.Stderr, "Enter %s: ", s.label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.label, err)
	}
	return s.check(string(raw), "prompt")
}

func (s *Source) check(value, origin string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s from %s is empty", s.label, origin)
	}
	if len(value) < s.minLen {
		return "", fmt.Errorf("%s from %s must be at least %d bytes", s.label, origin, s.minLen)
	}
	return value, nil
}
