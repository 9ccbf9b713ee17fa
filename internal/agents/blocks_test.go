package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileBlocks(t *testing.T) {
	text := "Here is the code:\n" +
		"```file:src/main.go overwrite\n" +
		"package main\n\nfunc main() {}\n" +
		"```endfile\n" +
		"and the readme:\n" +
		"```file:README.md append\n" +
		"## Notes\n" +
		"```endfile\n"

	blocks := ParseFileBlocks(text)
	require.Len(t, blocks, 2)

	assert.Equal(t, "src/main.go", blocks[0].Path)
	assert.Equal(t, "overwrite", blocks[0].Mode)
	assert.Equal(t, "package main\n\nfunc main() {}", blocks[0].Body)

	assert.Equal(t, "README.md", blocks[1].Path)
	assert.Equal(t, "append", blocks[1].Mode)
	assert.Equal(t, "## Notes", blocks[1].Body)
}

func TestParseFileBlockDefaultsToOverwrite(t *testing.T) {
	blocks := ParseFileBlocks("```file:a.txt\nbody\n```endfile")
	require.Len(t, blocks, 1)
	assert.Equal(t, "overwrite", blocks[0].Mode)
}

func TestParseFileBlockRoundTrip(t *testing.T) {
	block := FileBlock{Path: "src/app.ts", Mode: "overwrite", Body: "const x = 1;"}
	parsed := ParseFileBlocks(block.Render())
	require.Len(t, parsed, 1)
	assert.Equal(t, block, parsed[0])
}

func TestParseFileBlockMissingCloserFallsBackToNextOpener(t *testing.T) {
	text := "```file:one.txt\nfirst body\n" +
		"```file:two.txt\nsecond body\n```endfile"

	blocks := ParseFileBlocks(text)
	require.Len(t, blocks, 2)
	assert.Equal(t, "one.txt", blocks[0].Path)
	assert.Equal(t, "first body", blocks[0].Body)
	assert.Equal(t, "two.txt", blocks[1].Path)
	assert.Equal(t, "second body", blocks[1].Body)
}

func TestParseFileBlockMissingCloserRunsToEnd(t *testing.T) {
	blocks := ParseFileBlocks("```file:only.txt\nbody to the end\n\n")
	require.Len(t, blocks, 1)
	assert.Equal(t, "body to the end", blocks[0].Body)
}

func TestParseFileBlockEmptyHeaderSkipped(t *testing.T) {
	blocks := ParseFileBlocks("```file:\nignored\n```endfile\n```file:kept.txt\nok\n```endfile")
	require.Len(t, blocks, 1)
	assert.Equal(t, "kept.txt", blocks[0].Path)
}

func TestParseShellBlocks(t *testing.T) {
	text := "Run the build:\n" +
		"```shell cwd=app timeout=60 env:CI=1 env:DEBUG=0\n" +
		"go build ./...\n" +
		"```endshell\n"

	blocks := ParseShellBlocks(text)
	require.Len(t, blocks, 1)
	assert.Equal(t, "go build ./...", blocks[0].Command)
	assert.Equal(t, "app", blocks[0].Cwd)
	assert.Equal(t, 60, blocks[0].Timeout)
	assert.Equal(t, map[string]string{"CI": "1", "DEBUG": "0"}, blocks[0].Env)
}

func TestParseShellBlockBareHeader(t *testing.T) {
	blocks := ParseShellBlocks("```shell\nls -la\n```endshell")
	require.Len(t, blocks, 1)
	assert.Equal(t, "ls -la", blocks[0].Command)
	assert.Empty(t, blocks[0].Cwd)
	assert.Zero(t, blocks[0].Timeout)
}

func TestParseShellBlockEmptyBodySkipped(t *testing.T) {
	assert.Empty(t, ParseShellBlocks("```shell cwd=app\n\n```endshell"))
}

func TestParseShellBlockInvalidTimeoutIgnored(t *testing.T) {
	blocks := ParseShellBlocks("```shell timeout=-5\necho hi\n```endshell")
	require.Len(t, blocks, 1)
	assert.Zero(t, blocks[0].Timeout)
}

func TestParsersNeverPanicOnGarbage(t *testing.T) {
	inputs := []string{
		"",
		"```file:",
		"```shell",
		"```file:x",
		"plain text without fences",
		"```endfile before any opener",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			ParseFileBlocks(in)
			ParseShellBlocks(in)
		})
	}
}
