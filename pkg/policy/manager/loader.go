package manager

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mercator-hq/warden/pkg/policy"
)

// MaxFileSize bounds a single policy file.
const MaxFileSize = 1 << 20

// LoadError reports a policy file that could not be read.
type LoadError struct {
	// FilePath is the path to the file that failed to load
	FilePath string

	// Message describes the error
	Message string

	// Cause is the underlying error that caused this load error
	Cause error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load policy file %q: %s: %v", e.FilePath, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load policy file %q: %s", e.FilePath, e.Message)
}

// Unwrap implements the errors.Unwrap interface for error chain support.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Loader reads policies from the file system.
type Loader struct {
	// Extensions lists the file extensions read from a directory.
	Extensions []string
}

// NewLoader returns a loader for .yaml and .yml files.
func NewLoader() *Loader {
	return &Loader{Extensions: []string{".yaml", ".yml"}}
}

// Load reads every policy under path, which may be a file or a directory.
// It returns the validated policies and a content digest of everything it
// read. Read failures are returned as *LoadError. Parse and validation
// failures across all files are collected into one *policy.ValidationError.
func (l *Loader) Load(path string) ([]*policy.Policy, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", &LoadError{FilePath: path, Message: "cannot stat path", Cause: err}
	}

	files := []string{path}
	if info.IsDir() {
		files, err = l.collectPolicyFiles(path)
		if err != nil {
			return nil, "", err
		}
		if len(files) == 0 {
			return nil, "", &LoadError{FilePath: path, Message: "no policy files found"}
		}
	}

	digest := sha256.New()
	errs := &policy.ValidationError{}
	seen := map[string]string{}
	var out []*policy.Policy

	for _, file := range files {
		data, err := l.readFile(file)
		if err != nil {
			return nil, "", err
		}
		digest.Write([]byte(file))
		digest.Write(data)

		stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		policies, err := policy.Parse(data, stem)
		if err != nil {
			errs.Add(file, "", "parse error: "+err.Error(), err)
			continue
		}

		for _, p := range policies {
			if prev, dup := seen[p.Name]; dup && p.Name != "" {
				errs.Add(p.Name, "name", fmt.Sprintf("duplicate policy name (also defined in %s)", prev), nil)
				continue
			}
			seen[p.Name] = file

			if err := p.Validate(); err != nil {
				if verr, ok := err.(*policy.ValidationError); ok {
					errs.Merge(verr)
				} else {
					errs.Add(p.Name, "", err.Error(), err)
				}
				continue
			}
			out = append(out, p)
		}
	}

	if err := errs.ToError(); err != nil {
		return nil, "", err
	}
	return out, hex.EncodeToString(digest.Sum(nil))[:12], nil
}

func (l *Loader) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "cannot stat file", Cause: err}
	}
	if info.Size() > MaxFileSize {
		return nil, &LoadError{FilePath: path, Message: fmt.Sprintf("file exceeds %d bytes", MaxFileSize)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "cannot read file", Cause: err}
	}
	return data, nil
}

// collectPolicyFiles lists policy files directly under dir, sorted by name.
// Hidden files are skipped.
func (l *Loader) collectPolicyFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{FilePath: dir, Message: "cannot read directory", Cause: err}
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && l.isPolicyFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// isPolicyFile reports whether a directory entry named name is loaded.
// Hidden files never are.
func (l *Loader) isPolicyFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, valid := range l.Extensions {
		if ext == strings.ToLower(valid) {
			return true
		}
	}
	return false
}
