package myrace

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"raceops-backend/lib/jsonfile"
)

// Credentials drives the login flow. Password and Otp are optional up
// front; the flow prompts for whichever the site ends up asking for.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	Otp      string `json:"-"`
}

// Prompter supplies values the operator types in mid-login. A nil
// prompter makes missing values a hard failure instead.
type Prompter interface {
	Prompt(label string) (string, error)
	PromptSecret(label string) (string, error)
}

// TerminalPrompter reads from the controlling terminal, without echo
// for secrets.
type TerminalPrompter struct{}

func (TerminalPrompter) Prompt(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (TerminalPrompter) PromptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// ResolveCredentials merges credential sources by precedence: values
// already set on explicit win, then the credentials file, and whatever
// is still missing is left for the login flow to prompt for.
func ResolveCredentials(explicit Credentials, path string) (Credentials, error) {
	out := explicit
	if path != "" {
		fromFile, err := jsonfile.Load[Credentials](path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("reading credentials file: %w", err)
		}
		if err == nil {
			if out.Email == "" {
				out.Email = fromFile.Email
			}
			if out.Password == "" {
				out.Password = fromFile.Password
			}
		}
	}
	return out, nil
}
