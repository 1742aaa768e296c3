package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting on the terminal. The value is cached after the first successful
// retrieval.
type Source struct {
	envVar     string
	label      string
	allowEmpty bool
	isTerminal func() bool
	readSecret func() ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before prompting for the
// passphrase of the keystore named by label.
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "keystore"
	}
	return &Source{
		envVar:     strings.TrimSpace(envVar),
		label:      label,
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		readSecret: func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) },
	}
}

// AllowEmpty accepts an empty passphrase, as used by generated devnet
// keystores.
func (s *Source) AllowEmpty() *Source {
	s.allowEmpty = true
	return s
}

// Get returns the cached passphrase or resolves it on the first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" && !s.allowEmpty {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.isTerminal() {
		if s.allowEmpty {
			return "", nil
		}
		if s.envVar != "" {
			return "", fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s passphrase required and no terminal available", s.label)
	}

	fmt.Fprintf(os.Stderr, "Enter %s passphrase: ", s.label)
	raw, err := s.readSecret()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	value := string(raw)
	if strings.TrimSpace(value) == "" && !s.allowEmpty {
		return "", errors.New("passphrase cannot be empty")
	}
	return value, nil
}
