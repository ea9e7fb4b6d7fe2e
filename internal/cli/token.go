package cli

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"pulse/internal/credentials"
)

// SetToken stores an auth token in the system keyring. An empty argument
// prompts for it with echo disabled; "-" generates a random one and prints
// it once.
func SetToken(token string) error {
	switch token {
	case "":
		fmt.Fprint(os.Stderr, "Auth token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimSpace(string(raw))
	case "-":
		generated, err := GenerateToken()
		if err != nil {
			return err
		}
		token = generated
		fmt.Printf("Generated token: %s\n", token)
	}

	if token == "" {
		return errors.New("token cannot be empty")
	}
	if err := credentials.SetAuthToken(token); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Token stored in keyring.")
	return nil
}

// ShowToken prints the stored token. Meant for piping into other tools;
// the value goes to stdout, everything else to stderr.
func ShowToken() error {
	token, err := credentials.GetAuthToken()
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return errors.New("no token stored; run `pulse token set`")
		}
		return err
	}
	fmt.Println(token)
	return nil
}

func ClearToken() error {
	if err := credentials.DeleteAuthToken(); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			fmt.Fprintln(os.Stderr, "No token stored.")
			return nil
		}
		return err
	}
	fmt.Fprintln(os.Stderr, "Token removed from keyring.")
	return nil
}

// GenerateToken returns 32 bytes of hex-encoded randomness.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
