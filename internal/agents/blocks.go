package agents

import (
	"strconv"
	"strings"
)

const (
	fileFence     = "```file:"
	fileEndFence  = "```endfile"
	shellFence    = "```shell"
	shellEndFence = "```endshell"
)

// FileBlock is a fenced file-write directive in agent output.
type FileBlock struct {
	Path string
	Mode string // overwrite or append
	Body string
}

// Render serializes the block back to its fenced form.
func (b FileBlock) Render() string {
	return fileFence + b.Path + " " + b.Mode + "\n" + b.Body + "\n" + fileEndFence
}

// ShellBlock is a fenced shell-command directive in agent output.
type ShellBlock struct {
	Command string
	Cwd     string
	Timeout int // seconds, 0 = default
	Env     map[string]string
}

// ParseFileBlocks extracts every file block from text. Missing closing
// fences fall back to the next opening fence, then end of text. Blocks
// with empty headers are skipped. Never fails.
func ParseFileBlocks(text string) []FileBlock {
	var blocks []FileBlock
	rest := text
	for {
		start := strings.Index(rest, fileFence)
		if start < 0 {
			return blocks
		}
		rest = rest[start+len(fileFence):]

		headerEnd := strings.IndexByte(rest, '\n')
		if headerEnd < 0 {
			return blocks
		}
		header := strings.TrimSpace(rest[:headerEnd])
		rest = rest[headerEnd+1:]

		body, next := cutBlockBody(rest, fileEndFence, fileFence)
		rest = next

		fields := strings.Fields(header)
		if len(fields) == 0 {
			continue
		}
		block := FileBlock{Path: fields[0], Mode: "overwrite"}
		if len(fields) > 1 {
			switch strings.ToLower(fields[1]) {
			case "append":
				block.Mode = "append"
			case "overwrite":
			}
		}
		block.Body = strings.TrimRight(body, " \t\r\n")
		blocks = append(blocks, block)
	}
}

// ParseShellBlocks extracts every shell block from text. Header tokens
// (any order): cwd=<dir>, timeout=<seconds>, env:KEY=VAL. Empty commands
// skip the block. Never fails.
func ParseShellBlocks(text string) []ShellBlock {
	var blocks []ShellBlock
	rest := text
	for {
		start := indexShellFence(rest)
		if start < 0 {
			return blocks
		}
		rest = rest[start+len(shellFence):]

		headerEnd := strings.IndexByte(rest, '\n')
		if headerEnd < 0 {
			return blocks
		}
		header := strings.TrimSpace(rest[:headerEnd])
		rest = rest[headerEnd+1:]

		body, next := cutBlockBody(rest, shellEndFence, shellFence)
		rest = next

		command := strings.TrimSpace(body)
		if command == "" {
			continue
		}

		block := ShellBlock{Command: command}
		for _, tok := range strings.Fields(header) {
			switch {
			case strings.HasPrefix(tok, "cwd="):
				block.Cwd = strings.TrimPrefix(tok, "cwd=")
			case strings.HasPrefix(tok, "timeout="):
				if n, err := strconv.Atoi(strings.TrimPrefix(tok, "timeout=")); err == nil && n > 0 {
					block.Timeout = n
				}
			case strings.HasPrefix(tok, "env:"):
				if k, v, ok := strings.Cut(strings.TrimPrefix(tok, "env:"), "="); ok && k != "" {
					if block.Env == nil {
						block.Env = make(map[string]string)
					}
					block.Env[k] = v
				}
			}
		}
		blocks = append(blocks, block)
	}
}

// indexShellFence finds the next ```shell fence that is not ```endshell
// leaking through a prefix match (the fence is followed by whitespace or
// line end).
func indexShellFence(s string) int {
	offset := 0
	for {
		i := strings.Index(s[offset:], shellFence)
		if i < 0 {
			return -1
		}
		pos := offset + i
		after := pos + len(shellFence)
		if after >= len(s) || s[after] == ' ' || s[after] == '\n' || s[after] == '\r' || s[after] == '\t' {
			return pos
		}
		offset = after
	}
}

// cutBlockBody returns the body up to the closing fence, falling back to
// the next opening fence, then end of text, plus the remaining input.
func cutBlockBody(s, closeFence, openFence string) (body, rest string) {
	if end := strings.Index(s, closeFence); end >= 0 {
		return s[:end], s[end+len(closeFence):]
	}
	if next := strings.Index(s, openFence); next >= 0 {
		return s[:next], s[next:]
	}
	return s, ""
}
