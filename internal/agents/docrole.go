package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/devcrew/devcrew/internal/agentctx"
	"github.com/devcrew/devcrew/internal/sandbox"
	"github.com/devcrew/devcrew/internal/session"
	"github.com/devcrew/devcrew/internal/stream"
	"github.com/devcrew/devcrew/internal/tools"
)

const researchResultLimit = 3

// writeMarkers labels each documentation role's file-writes section.
var writeMarkers = map[string]string{
	RoleProduct:    "[PRD writes]",
	RoleArchitect:  "[architecture doc writes]",
	RoleResearcher: "[file writes]",
}

// researchRoles perform a web-search pre-step before generating.
var researchRoles = map[string]bool{
	RoleProduct:    true,
	RoleResearcher: true,
}

var readDirectiveRe = regexp.MustCompile(`\{\{read_file:([^}]+)\}\}`)

// DocRole covers product, architect, and researcher: documentation
// producers whose file writes land under docs/ and who may pull
// workspace files in as references.
type DocRole struct {
	base
}

// NewDocRole creates one of the documentation roles.
func NewDocRole(role string, deps Deps) *DocRole {
	return &DocRole{base: newBase(role, session.SenderAgent, deps)}
}

func (d *DocRole) Act(ctx context.Context, sc *stream.Context, view *agentctx.AgentView) (*RunResult, error) {
	var extra []string
	if researchRoles[d.role] {
		if notes := d.research(ctx, sc, view.CurrentUserMessage); notes != "" {
			extra = append(extra, notes)
		}
	}

	raw, messageID, err := d.generate(ctx, sc, "act",
		systemPromptFor(view, systemPrompts[d.role]), composePrompt(view, extra...))
	if err != nil {
		return nil, err
	}

	final := raw
	if refs := d.resolveReadDirectives(ctx, sc, raw); refs != "" {
		final = refs + "\n\n" + final
	}
	if section := d.writeFileBlocks(ctx, sc, ParseFileBlocks(raw)); section != "" {
		final += "\n\n" + section
	}

	if err := d.finish(ctx, sc, messageID, final); err != nil {
		return nil, err
	}
	return &RunResult{Role: d.role, Sender: d.sender, Content: final, MessageID: messageID}, nil
}

// research runs the web-search pre-step and renders the hits as a prompt
// section. Failures skip the section.
func (d *DocRole) research(ctx context.Context, sc *stream.Context, query string) string {
	result, err := d.runTool(ctx, sc, "web_search", map[string]any{
		"query":       query,
		"max_results": researchResultLimit,
	})
	if err != nil {
		return ""
	}
	hits, ok := result.([]tools.SearchResult)
	if !ok || len(hits) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Research notes\n")
	for _, hit := range hits {
		fmt.Fprintf(&b, "- %s (%s): %s\n", hit.Title, hit.URL, hit.Snippet)
	}
	return strings.TrimRight(b.String(), "\n")
}

// resolveReadDirectives replaces {{read_file:path}} directives with a
// reference section prepended to the final message.
func (d *DocRole) resolveReadDirectives(ctx context.Context, sc *stream.Context, raw string) string {
	matches := readDirectiveRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return ""
	}

	var sections []string
	seen := make(map[string]bool)
	for _, match := range matches {
		path := strings.TrimSpace(match[1])
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true

		result, err := d.runTool(ctx, sc, "file_read", map[string]any{"path": path})
		if err != nil {
			continue
		}
		info, ok := result.(*sandbox.FileInfo)
		if !ok {
			continue
		}
		sections = append(sections, fmt.Sprintf("### Reference: %s\n%s", info.Path, info.Content))
	}
	if len(sections) == 0 {
		return ""
	}
	return strings.Join(sections, "\n\n")
}

// writeFileBlocks writes parsed file blocks through the file_write tool;
// the docs/ coercion happens inside the tool for these roles.
func (d *DocRole) writeFileBlocks(ctx context.Context, sc *stream.Context, blocks []FileBlock) string {
	if len(blocks) == 0 {
		return ""
	}
	var lines []string
	for _, block := range blocks {
		result, err := d.runTool(ctx, sc, "file_write", map[string]any{
			"path":    block.Path,
			"content": block.Body,
			"mode":    block.Mode,
		})
		if err != nil {
			lines = append(lines, fmt.Sprintf("- %s (failed: %v)", block.Path, err))
			continue
		}
		written := block.Path
		if info, ok := result.(*sandbox.FileInfo); ok {
			written = info.Path
		}
		lines = append(lines, "- "+written)
	}
	return writeMarkers[d.role] + "\n" + strings.Join(lines, "\n")
}
