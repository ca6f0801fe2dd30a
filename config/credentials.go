package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Environment variables and fallback file consulted for store credentials.
const (
	EnvKey          = "HYDRUS_KEY"
	EnvURL          = "HYDRUS_URL"
	CredentialsFile = "hydrus_api.txt"
)

// Credentials identify and authorize calls against the remote store.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// ConfigError reports credentials that could not be resolved.
type ConfigError struct {
	Missing []string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("store credentials required (missing %s): set %s and %s environment variables, or create %s with \"hydrus_key\" and \"hydrus_url\"",
		strings.Join(e.Missing, ", "), EnvKey, EnvURL, CredentialsFile)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Resolver reads credentials from the environment, falling back to a JSON
// credentials file for whichever field the environment does not provide.
type Resolver struct {
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// FilePath defaults to DefaultCredentialsPath().
	FilePath string
}

// DefaultCredentialsPath returns hydrus_api.txt next to the running executable.
func DefaultCredentialsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return CredentialsFile
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), CredentialsFile)
}

// ResolveCredentials resolves credentials with the default resolver, reading
// the fallback file from path when it is non-empty.
func ResolveCredentials(path string) (Credentials, error) {
	return Resolver{FilePath: path}.Resolve()
}

// Resolve merges environment and file values. A set environment variable is
// never overridden by the file.
func (r Resolver) Resolve() (Credentials, error) {
	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	path := r.FilePath
	if path == "" {
		path = DefaultCredentialsPath()
	}

	var creds Credentials
	creds.APIKey, _ = lookup(EnvKey)
	creds.BaseURL, _ = lookup(EnvURL)

	var fileErr error
	if creds.APIKey == "" || creds.BaseURL == "" {
		var fileCreds Credentials
		fileCreds, fileErr = readCredentialsFile(path)
		if creds.APIKey == "" {
			creds.APIKey = fileCreds.APIKey
		}
		if creds.BaseURL == "" {
			creds.BaseURL = fileCreds.BaseURL
		}
	}

	creds.APIKey = strings.TrimSpace(creds.APIKey)
	creds.BaseURL = strings.TrimSuffix(strings.TrimSpace(creds.BaseURL), "/")

	var missing []string
	if creds.APIKey == "" {
		missing = append(missing, "api key")
	}
	if creds.BaseURL == "" {
		missing = append(missing, "api url")
	}
	if len(missing) > 0 {
		return Credentials{}, &ConfigError{Missing: missing, Err: fileErr}
	}
	return creds, nil
}

// readCredentialsFile returns zero credentials without error when the file
// does not exist.
func readCredentialsFile(path string) (Credentials, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, nil
	}
	vip := viper.New()
	vip.SetConfigFile(path)
	vip.SetConfigType("json")
	if err := vip.ReadInConfig(); err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Credentials{
		APIKey:  vip.GetString("hydrus_key"),
		BaseURL: vip.GetString("hydrus_url"),
	}, nil
}
