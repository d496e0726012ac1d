// Package auth resolves the FileMaker account the server logs in with.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoCredentials indicates neither the environment nor the credentials
// file supplied a username and password.
var ErrNoCredentials = errors.New("no FileMaker credentials found")

// Source identifies where credentials were resolved from.
type Source string

const (
	// SourceEnv is FILEMAKER_USERNAME and FILEMAKER_PASSWORD.
	SourceEnv Source = "env"
	// SourceFile is the YAML credentials file.
	SourceFile Source = "credentials_file"
)

// Credentials is a FileMaker account. Password is never logged.
type Credentials struct {
	Username string
	Password string
	Source   Source
}

// Options controls credential resolution.
type Options struct {
	AllowFile bool
	FilePath  string
	// Database selects a per-database entry in the credentials file.
	Database string
}

// credentialsFile is the on-disk layout:
//
//	username: api
//	password: secret
//	databases:
//	  Contacts:
//	    username: contacts-api
//	    password: other
type credentialsFile struct {
	Username  string                 `yaml:"username"`
	Password  string                 `yaml:"password"`
	Databases map[string]fileAccount `yaml:"databases"`
}

type fileAccount struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Resolve returns credentials with this precedence:
//  1. FILEMAKER_USERNAME and FILEMAKER_PASSWORD
//  2. the credentials file entry for opts.Database (only when AllowFile)
//  3. the credentials file top-level account (only when AllowFile)
func Resolve(opts Options) (Credentials, error) {
	username := strings.TrimSpace(os.Getenv("FILEMAKER_USERNAME"))
	password := os.Getenv("FILEMAKER_PASSWORD")
	switch {
	case username != "" && password != "":
		return Credentials{Username: username, Password: password, Source: SourceEnv}, nil
	case username != "" || password != "":
		return Credentials{}, errors.New("FILEMAKER_USERNAME and FILEMAKER_PASSWORD must be set together")
	}

	if !opts.AllowFile {
		return Credentials{}, fmt.Errorf("%w; set FILEMAKER_USERNAME and FILEMAKER_PASSWORD", ErrNoCredentials)
	}

	path := expandPath(defaultIfEmpty(strings.TrimSpace(opts.FilePath), "~/.filemaker-mcp/credentials.yaml"))
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return Credentials{}, fmt.Errorf("%w; %s does not exist", ErrNoCredentials, path)
	default:
		return Credentials{}, fmt.Errorf("reading credentials file: %w", err)
	}

	var parsed credentialsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Credentials{}, fmt.Errorf("decoding credentials file %s: %w", path, err)
	}

	account := fileAccount{Username: parsed.Username, Password: parsed.Password}
	if entry, ok := parsed.Databases[strings.TrimSpace(opts.Database)]; ok {
		account = entry
	}
	account.Username = strings.TrimSpace(account.Username)
	if account.Username == "" || account.Password == "" {
		return Credentials{}, fmt.Errorf("%w; %s has no username and password", ErrNoCredentials, path)
	}
	return Credentials{Username: account.Username, Password: account.Password, Source: SourceFile}, nil
}

func defaultIfEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return filepath.Clean(path)
}
