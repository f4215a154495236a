// Package fileshare implements the object store on a directory that is also
// mounted into every sandbox. Namespaces are subdirectories of the root.
package fileshare

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"runproxy/internal/apperrors"
	"runproxy/internal/job"
)

var _ job.ObjectStore = (*Share)(nil)

// Share is an object store rooted at a directory.
type Share struct {
	root string
}

// New creates a share rooted at root, creating the directory if needed.
func New(root string) (*Share, error) {
	if root == "" {
		return nil, fmt.Errorf("share root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create share root: %w", err)
	}
	return &Share{root: root}, nil
}

// Root returns the root directory.
func (s *Share) Root() string {
	return s.root
}

// Put writes data through a temporary file and a rename so readers, including
// the sandbox, never see a partial artifact.
func (s *Share) Put(_ context.Context, namespace, key string, data []byte) error {
	path, err := s.path(namespace, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create namespace %s: %w", namespace, err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s/%s: %w", namespace, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", namespace, key, err)
	}
	// The sandbox may run as another user.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set permissions on %s/%s: %w", namespace, key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to publish %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get reads an artifact.
func (s *Share) Get(_ context.Context, namespace, key string) ([]byte, error) {
	path, err := s.path(namespace, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFound("artifact", namespace+"/"+key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", namespace, key, err)
	}
	return data, nil
}

// Delete removes an artifact.
func (s *Share) Delete(_ context.Context, namespace, key string) error {
	path, err := s.path(namespace, key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return apperrors.NotFound("artifact", namespace+"/"+key)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// List returns the artifact keys in a namespace. Subdirectories and hidden
// files, including in-flight temp files, are skipped.
func (s *Share) List(_ context.Context, namespace string) ([]string, error) {
	if err := checkName("namespace", namespace); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, namespace))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", namespace, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		keys = append(keys, e.Name())
	}
	return keys, nil
}

// Ready checks the root is still a reachable directory.
func (s *Share) Ready(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("share root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("share root %s is not a directory", s.root)
	}
	return nil
}

func (s *Share) path(namespace, key string) (string, error) {
	if err := checkName("namespace", namespace); err != nil {
		return "", err
	}
	if err := checkName("key", key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, namespace, key), nil
}

// checkName keeps every artifact a direct child of its namespace directory.
func checkName(field, name string) error {
	switch {
	case name == "":
		return apperrors.Validation(field, field+" is required")
	case name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.Contains(name, ".."):
		return apperrors.Validation(field, fmt.Sprintf("invalid %s %q", field, name))
	}
	return nil
}
