package binpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

var ErrBinaryNotFound = errors.New("binary not found")

// NotFoundError names the binary that could not be located and the environment variable
// the user can set to point at it.
type NotFoundError struct {
	Name   string
	EnvVar string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("binary %q not found, set %s or place it in the same directory as this executable", e.Name, e.EnvVar)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrBinaryNotFound }

// Resolver locates sibling binaries. The zero value uses the process environment and executable.
type Resolver struct {
	Getenv     func(string) string
	Executable func() (string, error)
	// Warnf is called when the override variable is set but points nowhere.
	Warnf func(format string, args ...interface{})
}

// Resolve finds name using the default Resolver.
func Resolve(name, envVar string) (string, error) {
	return (&Resolver{}).Resolve(name, envVar)
}

// Resolve returns the first existing candidate of:
//
//  1. the path in envVar
//  2. name next to the running executable
//  3. name in the parent of the executable's directory
func (r *Resolver) Resolve(name, envVar string) (string, error) {
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	executable := r.Executable
	if executable == nil {
		executable = os.Executable
	}

	if p := getenv(envVar); p != "" {
		if exists(p) {
			return p, nil
		}
		if r.Warnf != nil {
			r.Warnf("%s is set but %q does not exist, falling back to search", envVar, p)
		}
	}

	exe, err := executable()
	if err == nil {
		fileName := ExecutableName(name)
		dir := filepath.Dir(exe)
		for _, d := range []string{dir, filepath.Dir(dir)} {
			candidate := filepath.Join(d, fileName)
			if exists(candidate) {
				return candidate, nil
			}
		}
	}

	return "", &NotFoundError{Name: name, EnvVar: envVar}
}

// ExecutableName appends the platform executable suffix.
func ExecutableName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
