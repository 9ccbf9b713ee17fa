package tools

import (
	"context"
	"path"
	"strings"

	"github.com/devcrew/devcrew/internal/sandbox"
	"github.com/devcrew/devcrew/internal/stream"
)

// DocsRoot is the directory documentation-producing roles are confined to.
const DocsRoot = "docs"

// docRootRoles maps agent names whose file writes are coerced under DocsRoot.
var docRootRoles = map[string]bool{
	"product":    true,
	"architect":  true,
	"researcher": true,
}

// FileWriteTool writes a file into the session workspace.
type FileWriteTool struct {
	files *sandbox.FileService
}

// NewFileWriteTool builds the file_write tool over the sandbox file service.
func NewFileWriteTool(files *sandbox.FileService) *FileWriteTool {
	return &FileWriteTool{files: files}
}

func (t *FileWriteTool) Name() string { return "file_write" }

func (t *FileWriteTool) Description() string {
	return "Write a file into the session workspace (args: path, content, mode=overwrite|append)"
}

// Run writes the file. Documentation roles have their paths coerced under
// the docs/ root; the engineer writes anywhere inside the workspace.
func (t *FileWriteTool) Run(ctx context.Context, sc *stream.Context, inv Invocation) (any, error) {
	p, err := stringArg(inv, "path", true)
	if err != nil {
		return nil, err
	}
	if err := validateRelPath(p); err != nil {
		return nil, err
	}
	content, err := stringArg(inv, "content", false)
	if err != nil {
		return nil, err
	}
	mode, err := stringArg(inv, "mode", false)
	if err != nil {
		return nil, err
	}

	if docRootRoles[strings.ToLower(inv.Agent)] {
		p = coerceUnderDocs(p)
	}

	opts := sandbox.WriteOptions{Overwrite: true}
	if strings.EqualFold(mode, "append") {
		opts = sandbox.WriteOptions{Append: true}
	}

	info, err := t.files.WriteFile(ctx, inv.SessionID, inv.OwnerID, p, content, opts)
	if err != nil {
		return nil, err
	}
	if sc != nil {
		op := "write"
		if opts.Append {
			op = "append"
		}
		_ = sc.PublishFileChange(ctx, info.Path, op)
	}
	return info, nil
}

// coerceUnderDocs prefixes the path with docs/ unless already there.
func coerceUnderDocs(p string) string {
	clean := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if clean == DocsRoot || strings.HasPrefix(clean, DocsRoot+"/") {
		return clean
	}
	return path.Join(DocsRoot, clean)
}

// FileReadTool reads a file from the session workspace.
type FileReadTool struct {
	files *sandbox.FileService
}

// NewFileReadTool builds the file_read tool over the sandbox file service.
func NewFileReadTool(files *sandbox.FileService) *FileReadTool {
	return &FileReadTool{files: files}
}

func (t *FileReadTool) Name() string { return "file_read" }

func (t *FileReadTool) Description() string {
	return "Read a file from the session workspace (args: path)"
}

func (t *FileReadTool) Run(ctx context.Context, _ *stream.Context, inv Invocation) (any, error) {
	p, err := stringArg(inv, "path", true)
	if err != nil {
		return nil, err
	}
	if err := validateRelPath(p); err != nil {
		return nil, err
	}
	return t.files.ReadFile(ctx, inv.SessionID, inv.OwnerID, p)
}
