package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/common/logger"
)

const (
	// DefaultTreeDepth bounds workspace tree recursion.
	DefaultTreeDepth = 4

	// DefaultTreeMaxEntries bounds how many entries one listing may visit.
	DefaultTreeMaxEntries = 2000
)

// TreeNode is one entry in a workspace tree listing.
type TreeNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     string      `json:"type"` // file or directory
	Size     int64       `json:"size"`
	Children []*TreeNode `json:"children,omitempty"`
}

// FileInfo is the result of a workspace file read or write.
type FileInfo struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Content    string    `json:"content,omitempty"`
	Created    bool      `json:"created,omitempty"`
}

// WriteOptions controls write_file behavior.
type WriteOptions struct {
	Overwrite bool
	Append    bool
}

// ContentValidator inspects a freshly written file. Returning an error
// rolls the write back. path is workspace-relative.
type ContentValidator func(path string, data []byte) error

// JSONValidator rejects .json files that do not parse.
func JSONValidator(path string, data []byte) error {
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		return nil
	}
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON in %s", path)
	}
	return nil
}

// FileService gives scoped access to session workspace directories. All
// paths are resolved under the workspace root; traversal outside fails.
type FileService struct {
	manager    *Manager
	maxDepth   int
	maxEntries int
	validator  ContentValidator
	log        *logger.Logger
}

// NewFileService builds a file service over the sandbox manager with the
// default bounds and the JSON content validator.
func NewFileService(manager *Manager, log *logger.Logger) *FileService {
	if log == nil {
		log = logger.Default()
	}
	return &FileService{
		manager:    manager,
		maxDepth:   DefaultTreeDepth,
		maxEntries: DefaultTreeMaxEntries,
		validator:  JSONValidator,
		log:        log,
	}
}

// SetBounds overrides the tree depth and entry limits.
func (s *FileService) SetBounds(maxDepth, maxEntries int) {
	if maxDepth > 0 {
		s.maxDepth = maxDepth
	}
	if maxEntries > 0 {
		s.maxEntries = maxEntries
	}
}

// SetValidator replaces the post-write content validator. nil disables it.
func (s *FileService) SetValidator(v ContentValidator) {
	s.validator = v
}

// resolve joins a user-supplied path under the session workspace and
// rejects any result that escapes it.
func (s *FileService) resolve(sessionID, given string) (string, error) {
	base, err := filepath.Abs(s.manager.WorkspacePath(sessionID))
	if err != nil {
		return "", apperr.Wrap(apperr.KindSandbox, "failed to resolve workspace", err)
	}
	target, err := filepath.Abs(filepath.Join(base, given))
	if err != nil {
		return "", apperr.Wrap(apperr.KindBadRequest, "invalid path", err)
	}
	if target != base && !strings.HasPrefix(target, base+string(filepath.Separator)) {
		return "", apperr.New(apperr.KindBadRequest, "path escapes workspace")
	}
	return target, nil
}

func (s *FileService) ensure(ctx context.Context, sessionID, ownerID string) error {
	_, err := s.manager.EnsureSessionContainer(ctx, sessionID, ownerID)
	return err
}

// ListTree returns the workspace tree rooted at root, bounded by depth
// and total entry count. Hidden entries are filtered unless includeHidden.
func (s *FileService) ListTree(ctx context.Context, sessionID, ownerID, root string, depth int, includeHidden bool) ([]*TreeNode, error) {
	if depth <= 0 {
		return nil, apperr.New(apperr.KindBadRequest, "depth must be positive")
	}
	if depth > s.maxDepth {
		depth = s.maxDepth
	}
	if err := s.ensure(ctx, sessionID, ownerID); err != nil {
		return nil, err
	}
	dir, err := s.resolve(sessionID, root)
	if err != nil {
		return nil, err
	}

	base := s.manager.WorkspacePath(sessionID)
	budget := s.maxEntries
	nodes, err := s.walkTree(dir, base, depth, includeHidden, &budget)
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *FileService) walkTree(dir, base string, depth int, includeHidden bool, budget *int) ([]*TreeNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.KindNotFound, "file not found")
		}
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to read directory", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var nodes []*TreeNode
	for _, entry := range entries {
		name := entry.Name()
		if !includeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		*budget--
		if *budget < 0 {
			return nil, apperr.New(apperr.KindBadRequest, "directory too large")
		}

		full := filepath.Join(dir, name)
		rel, _ := filepath.Rel(base, full)
		node := &TreeNode{
			Name: name,
			Path: filepath.ToSlash(rel),
		}
		if entry.IsDir() {
			node.Type = "directory"
			if depth > 1 {
				children, err := s.walkTree(full, base, depth-1, includeHidden, budget)
				if err != nil {
					return nil, err
				}
				node.Children = children
			}
		} else {
			node.Type = "file"
			if info, err := entry.Info(); err == nil {
				node.Size = info.Size()
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// ReadFile returns a workspace file's metadata and lossily UTF-8 decoded
// content.
func (s *FileService) ReadFile(ctx context.Context, sessionID, ownerID, path string) (*FileInfo, error) {
	if err := s.ensure(ctx, sessionID, ownerID); err != nil {
		return nil, err
	}
	full, err := s.resolve(sessionID, path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return nil, apperr.New(apperr.KindNotFound, "file not found")
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to read file", err)
	}

	rel, _ := filepath.Rel(s.manager.WorkspacePath(sessionID), full)
	return &FileInfo{
		Name:       info.Name(),
		Path:       filepath.ToSlash(rel),
		Size:       info.Size(),
		ModifiedAt: info.ModTime().UTC(),
		Content:    strings.ToValidUTF8(string(data), "�"),
	}, nil
}

// WriteFile writes content to a workspace file, creating parent
// directories as needed. If the target exists and neither overwrite nor
// append is set, the write fails. After writing, the content validator
// runs on the result; failure rolls the file back to its prior state.
func (s *FileService) WriteFile(ctx context.Context, sessionID, ownerID, path, content string, opts WriteOptions) (*FileInfo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, apperr.New(apperr.KindBadRequest, "path must not be empty")
	}
	if err := s.ensure(ctx, sessionID, ownerID); err != nil {
		return nil, err
	}
	full, err := s.resolve(sessionID, path)
	if err != nil {
		return nil, err
	}

	var previous []byte
	existed := false
	if info, err := os.Stat(full); err == nil {
		if info.IsDir() {
			return nil, apperr.New(apperr.KindBadRequest, "path is a directory")
		}
		existed = true
		if !opts.Overwrite && !opts.Append {
			return nil, apperr.New(apperr.KindConflict, "file exists")
		}
		previous, err = os.ReadFile(full)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindSandbox, "failed to read existing file", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to create parent directory", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if opts.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to open file", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to write file", err)
	}
	if err := f.Close(); err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to close file", err)
	}

	if s.validator != nil {
		written, err := os.ReadFile(full)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindSandbox, "failed to read back file", err)
		}
		if verr := s.validator(path, written); verr != nil {
			if existed {
				_ = os.WriteFile(full, previous, 0o644)
			} else {
				_ = os.Remove(full)
			}
			return nil, apperr.Wrap(apperr.KindBadRequest, "content validation failed", verr)
		}
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to stat written file", err)
	}
	s.manager.MarkActive(sessionID)

	rel, _ := filepath.Rel(s.manager.WorkspacePath(sessionID), full)
	return &FileInfo{
		Name:       info.Name(),
		Path:       filepath.ToSlash(rel),
		Size:       info.Size(),
		ModifiedAt: info.ModTime().UTC(),
		Created:    !existed,
	}, nil
}
