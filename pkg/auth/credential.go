// Package auth manages the bearer credential used against the authoritative
// message store. Obtaining the token is out of scope (the platform issues it
// at login); this package only stores and loads it.
package auth

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Credential is the stored API credential for one identity.
type Credential struct {
	Token  string `json:"token"`
	UserID string `json:"user_id,omitempty"`
}

// LoginPasteToken reads a bearer token interactively from r.
func LoginPasteToken(r io.Reader) (*Credential, error) {
	fmt.Println("Paste your chat API bearer token:")
	fmt.Print("> ")

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading token: %w", err)
		}
		return nil, errors.New("no input received")
	}

	token := strings.TrimSpace(scanner.Text())
	if token == "" {
		return nil, errors.New("token cannot be empty")
	}

	return &Credential{Token: token}, nil
}

// CredentialsPath returns the default credential file location.
func CredentialsPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync", "credentials.json")
}

// Save writes the credential to path with owner-only permissions.
func Save(path string, cred *Credential) error {
	if cred == nil || cred.Token == "" {
		return errors.New("credential has no token")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating credential dir: %w", err)
	}
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}
	return nil
}

// Load reads the credential from path. A missing file is not an error and
// returns nil.
func Load(path string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading credential: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("parsing credential: %w", err)
	}
	return &cred, nil
}
