package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/term"
)

// Credential variable names, in the credentials file and the environment.
const (
	EnvCommander = "COMMANDER"
	EnvAPIKey    = "API_KEY"

	DefaultCredentialsFile = ".env"
)

// ErrMissingCredentials is returned when credentials are incomplete and
// cannot be prompted for.
var ErrMissingCredentials = errors.New("COMMANDER or API_KEY missing")

// Credentials identify the commander against EDSM.
type Credentials struct {
	Commander string
	APIKey    string
}

// Complete reports whether both values are set.
func (c Credentials) Complete() bool {
	return c.Commander != "" && c.APIKey != ""
}

// LoadCredentials reads the credentials file at path, if present, and lets
// non-empty environment variables override its values.
func LoadCredentials(path string) (Credentials, error) {
	creds, err := readCredentialsFile(path)
	if err != nil {
		return Credentials{}, err
	}
	return withEnvironment(creds), nil
}

// readCredentialsFile returns the values stored in path. A missing file
// yields empty credentials.
func readCredentialsFile(path string) (Credentials, error) {
	if path == "" {
		return Credentials{}, nil
	}
	values, err := godotenv.Read(path)
	switch {
	case err == nil:
		return Credentials{
			Commander: values[EnvCommander],
			APIKey:    values[EnvAPIKey],
		}, nil
	case errors.Is(err, os.ErrNotExist):
		return Credentials{}, nil
	default:
		return Credentials{}, fmt.Errorf("read credentials %s: %w", path, err)
	}
}

// withEnvironment overrides creds with non-empty environment values.
func withEnvironment(creds Credentials) Credentials {
	if v := strings.TrimSpace(os.Getenv(EnvCommander)); v != "" {
		creds.Commander = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		creds.APIKey = v
	}
	return creds
}

// SaveCredentials writes creds to path, readable by the owner only.
func SaveCredentials(path string, creds Credentials) error {
	content, err := godotenv.Marshal(map[string]string{
		EnvCommander: creds.Commander,
		EnvAPIKey:    creds.APIKey,
	})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	if err := os.WriteFile(path, []byte(content+"\n"), 0o600); err != nil {
		return fmt.Errorf("write credentials %s: %w", path, err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod credentials %s: %w", path, err)
	}
	return nil
}

// Prompter asks the user for missing credentials.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	// Secret reads the API key without echo. Nil reads a plain line from In.
	Secret func() (string, error)
}

// NewTerminalPrompter prompts on in and out, hiding the API key when in is a
// terminal.
func NewTerminalPrompter(in *os.File, out io.Writer) *Prompter {
	p := &Prompter{In: in, Out: out}
	if fd := int(in.Fd()); term.IsTerminal(fd) {
		p.Secret = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			return string(b), err
		}
	}
	return p
}

// Prompt fills the missing fields of creds.
func (p *Prompter) Prompt(creds Credentials) (Credentials, error) {
	reader := bufio.NewReader(p.In)

	readLine := func() (string, error) {
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	if creds.Commander == "" {
		fmt.Fprint(p.Out, "EDSM commander name: ")
		v, err := readLine()
		if err != nil {
			return creds, fmt.Errorf("read commander name: %w", err)
		}
		creds.Commander = v
	}

	if creds.APIKey == "" {
		fmt.Fprint(p.Out, "EDSM API key: ")
		var (
			v   string
			err error
		)
		if p.Secret != nil {
			v, err = p.Secret()
			v = strings.TrimSpace(v)
		} else {
			v, err = readLine()
		}
		if err != nil {
			return creds, fmt.Errorf("read api key: %w", err)
		}
		creds.APIKey = v
	}

	if !creds.Complete() {
		return creds, ErrMissingCredentials
	}
	return creds, nil
}

// ResolveCredentials loads credentials from path and the environment. When
// they are incomplete and prompter is not nil, the user is asked for the
// missing values, which are then saved to path.
func ResolveCredentials(path string, prompter *Prompter) (Credentials, error) {
	stored, err := readCredentialsFile(path)
	if err != nil {
		return Credentials{}, err
	}
	loaded := withEnvironment(stored)
	if loaded.Complete() {
		return loaded, nil
	}
	if prompter == nil {
		return Credentials{}, fmt.Errorf("%w in %s and environment", ErrMissingCredentials, path)
	}

	creds, err := prompter.Prompt(loaded)
	if err != nil {
		return Credentials{}, err
	}
	if path == "" {
		return creds, nil
	}

	// Only typed-in values are added to the file; environment values stay out of it.
	if loaded.Commander == "" {
		stored.Commander = creds.Commander
	}
	if loaded.APIKey == "" {
		stored.APIKey = creds.APIKey
	}
	if err := SaveCredentials(path, stored); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}
