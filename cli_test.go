package testid_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrawn01/testid"
)

const cardContent = "<section>\n  <Card title=\"a\"/>\n  <Card title=\"b\"/>\n</section>\n"

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := testid.RunCmd(append([]string{"testid"}, args...), &testid.RunCmdOptions{
		Stdin:  strings.NewReader(stdin),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	return stdout.String(), err
}

func TestCLIIntegration(t *testing.T) {
	tempDir := t.TempDir()
	writeFiles(t, tempDir, map[string]string{
		"Cards.tsx": cardContent,
		"Done.tsx":  doneContent,
	})
	cards := filepath.Join(tempDir, "Cards.tsx")

	tests := []struct {
		name        string
		args        []string
		expectError bool
	}{
		{
			name: "Help",
			args: []string{"-h"},
		},
		{
			name: "NoCommand",
			args: []string{},
		},
		{
			name: "ScanCommand",
			args: []string{"scan", "--root=" + tempDir, "--json"},
		},
		{
			name: "AnnotateDryRun",
			args: []string{"--dry-run", "annotate", "--root=" + tempDir, "--json"},
		},
		{
			name: "AtDryRun",
			args: []string{"at", "--file=" + cards, "--line=2", "--col=4", "--dry-run"},
		},
		{
			name: "RangeDryRun",
			args: []string{"range", "--file=" + cards, "--start=0", "--end=10", "--dry-run", "--json"},
		},
		{
			name:        "InvalidCommand",
			args:        []string{"invalid"},
			expectError: true,
		},
		{
			name:        "AnnotateMissingArgs",
			args:        []string{"annotate"},
			expectError: true,
		},
		{
			name:        "AtMissingArgs",
			args:        []string{"at", "--file=" + cards},
			expectError: true,
		},
		{
			name:        "InvalidKeyword",
			args:        []string{"--keyword=a b", "scan", "--files=" + cards},
			expectError: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := runCmd(t, "", test.args...)
			if test.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	// None of the commands above may touch the files.
	assert.Equal(t, cardContent, readFile(t, cards))
}

func TestCLIScan(t *testing.T) {
	tempDir := t.TempDir()
	writeFiles(t, tempDir, map[string]string{"Form.tsx": formContent})

	out, err := runCmd(t, "", "scan", "--files="+filepath.Join(tempDir, "Form.tsx"), "--json")
	require.NoError(t, err)

	var results []testid.FileScanInfo
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	require.Len(t, results[0].Tags, 3)
	assert.Equal(t, "form", results[0].Tags[0].TagName)
	assert.True(t, results[0].Tags[1].HasAnnotation)
	assert.Equal(t, "email-input", results[0].Tags[1].AnnotationValue)
	assert.False(t, results[0].Tags[2].HasAnnotation)
}

func TestCLIAnnotate(t *testing.T) {
	t.Run("DeclinedConfirmation", func(t *testing.T) {
		tempDir := t.TempDir()
		writeFiles(t, tempDir, map[string]string{"Cards.tsx": cardContent})

		_, err := runCmd(t, "n\n", "annotate", "--root="+tempDir)
		require.NoError(t, err)
		assert.Equal(t, cardContent, readFile(t, filepath.Join(tempDir, "Cards.tsx")))
	})

	t.Run("AcceptedConfirmation", func(t *testing.T) {
		tempDir := t.TempDir()
		writeFiles(t, tempDir, map[string]string{"Cards.tsx": cardContent})

		out, err := runCmd(t, "y\n", "annotate", "--root="+tempDir)
		require.NoError(t, err)
		assert.Contains(t, out, "Annotated 3 tags in 1 files")
		assert.Equal(t, `<section data-test-id="section-test">
  <Card data-test-id="card-test" title="a"/>
  <Card data-test-id="card-test-1" title="b"/>
</section>
`, readFile(t, filepath.Join(tempDir, "Cards.tsx")))
	})

	t.Run("NonInteractiveStdin", func(t *testing.T) {
		tempDir := t.TempDir()
		writeFiles(t, tempDir, map[string]string{"Cards.tsx": cardContent, "answer.txt": "y\n"})

		stdin, err := os.Open(filepath.Join(tempDir, "answer.txt"))
		require.NoError(t, err)
		defer func() {
			_ = stdin.Close()
		}()

		err = testid.RunCmd([]string{"testid", "annotate", "--root=" + tempDir}, &testid.RunCmdOptions{
			Stdin:  stdin,
			Stdout: &bytes.Buffer{},
			Stderr: &bytes.Buffer{},
		})
		require.ErrorIs(t, err, testid.ErrConfirmationRequired)
		assert.Equal(t, cardContent, readFile(t, filepath.Join(tempDir, "Cards.tsx")))
	})

	t.Run("YesWithOptions", func(t *testing.T) {
		tempDir := t.TempDir()
		writeFiles(t, tempDir, map[string]string{"Cards.tsx": cardContent})

		out, err := runCmd(t, "", "--keyword=data-qa", "--suffix=qa", "--ignore=section",
			"annotate", "--files="+filepath.Join(tempDir, "Cards.tsx"), "--yes", "--json")
		require.NoError(t, err)

		var result testid.AnnotateFilesResult
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, 2, result.TagsChanged)
		assert.Equal(t, `<section>
  <Card data-qa="card-qa" title="a"/>
  <Card data-qa="card-qa-1" title="b"/>
</section>
`, readFile(t, filepath.Join(tempDir, "Cards.tsx")))
	})

	t.Run("ConfigFile", func(t *testing.T) {
		tempDir := t.TempDir()
		writeFiles(t, tempDir, map[string]string{
			"Cards.tsx":     cardContent,
			".testidrc.yml": "attributeKeyword: data-cy\nonlyElements: [section]\n",
		})

		_, err := runCmd(t, "", "--config="+filepath.Join(tempDir, ".testidrc.yml"),
			"annotate", "--root="+tempDir, "--yes")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(readFile(t, filepath.Join(tempDir, "Cards.tsx")),
			`<section data-cy="section-test">`+"\n  <Card title=\"a\"/>"))
	})
}

func TestCLIAtAndRange(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "Cards.tsx")
	writeFiles(t, tempDir, map[string]string{"Cards.tsx": cardContent})

	out, err := runCmd(t, "", "at", "--file="+path, "--line=3", "--col=5")
	require.NoError(t, err)
	assert.Equal(t, "<Card data-test-id=\"card-test\" title=\"b\"/>\n", out)
	assert.Equal(t, "<section>\n  <Card title=\"a\"/>\n  <Card data-test-id=\"card-test\" title=\"b\"/>\n</section>\n", readFile(t, path))

	out, err = runCmd(t, "", "at", "--file="+path, "--line=4", "--col=1")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to do: no tag at position\n", out)

	start := strings.Index(readFile(t, path), "<Card")
	end := start + len(`<Card title="a"/>`)
	out, err = runCmd(t, "", "range", "--file="+path, "--start="+strconv.Itoa(start), "--end="+strconv.Itoa(end))
	require.NoError(t, err)
	assert.Equal(t, "Annotated 1 tags\n", out)
	assert.Equal(t, "<section>\n  <Card data-test-id=\"card-test-1\" title=\"a\"/>\n  <Card data-test-id=\"card-test\" title=\"b\"/>\n</section>\n", readFile(t, path))
}

func TestCLICheck(t *testing.T) {
	tempDir := t.TempDir()
	writeFiles(t, tempDir, map[string]string{"Cards.tsx": cardContent, "Done.tsx": doneContent})

	out, err := runCmd(t, "", "check", "--root="+tempDir)
	require.ErrorIs(t, err, testid.ErrMissingAnnotations)
	assert.Contains(t, err.Error(), "3 tags without annotation found")
	assert.Contains(t, out, `Cards.tsx:2:3: <Card> has no data-test-id (suggested "card-test")`)
	assert.Contains(t, out, `Cards.tsx:3:3: <Card> has no data-test-id (suggested "card-test-1")`)

	_, err = runCmd(t, "", "annotate", "--root="+tempDir, "--yes")
	require.NoError(t, err)

	out, err = runCmd(t, "", "check", "--root="+tempDir, "--json")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestMCPServerCapabilities(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- testid.RunCmd([]string{"testid", "-mcp"}, &testid.RunCmdOptions{
			MCPTransport: serverTransport,
			Stderr:       &bytes.Buffer{},
			Context:      ctx,
		})
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer func() {
		_ = session.Close()
	}()

	require.NoError(t, session.Ping(ctx, nil))

	t.Run("ToolDiscovery", func(t *testing.T) {
		tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
		require.NoError(t, err)

		var names []string
		for _, tool := range tools.Tools {
			names = append(names, tool.Name)
			assert.NotEmpty(t, tool.Description)
		}
		assert.ElementsMatch(t, []string{
			"scan_tags",
			"annotate_text",
			"annotate_tag_at",
			"annotate_selection",
			"annotate_files",
			"find_missing_annotations",
		}, names)
	})

	t.Run("AnnotateText", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "annotate_text",
			Arguments: map[string]any{"text": `<ul><li>a</li><li data-test-id="li-test">b</li></ul>`},
		})
		require.NoError(t, err)
		require.False(t, res.IsError)

		var result testid.RewriteResult
		decodeStructured(t, res, &result)
		assert.Equal(t, `<ul data-test-id="ul-test"><li data-test-id="li-test-1">a</li><li data-test-id="li-test">b</li></ul>`, result.Text)
		assert.Equal(t, 3, result.Processed)
		assert.Equal(t, 2, result.Changed)
	})

	t.Run("AnnotateTagAtLine", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "annotate_tag_at",
			Arguments: map[string]any{"text": "<div>\n  <p>x</p>\n</div>", "line": 2, "column": 4},
		})
		require.NoError(t, err)
		require.False(t, res.IsError)

		var result testid.TagEditResult
		decodeStructured(t, res, &result)
		assert.Equal(t, "p", result.TagName)
		assert.Equal(t, `<p data-test-id="p-test">`, result.Edit.NewText)
		assert.Equal(t, testid.Span{Start: 8, End: 11}, result.Edit.Span)
	})

	t.Run("AnnotateTagAtWithoutPosition", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "annotate_tag_at",
			Arguments: map[string]any{"text": "<div></div>"},
		})
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("FindMissingAnnotations", func(t *testing.T) {
		tempDir := t.TempDir()
		writeFiles(t, tempDir, map[string]string{"Cards.tsx": cardContent})

		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "find_missing_annotations",
			Arguments: map[string]any{"root": tempDir, "max_results": 1},
		})
		require.NoError(t, err)
		require.False(t, res.IsError)

		var result testid.MissingAnnotationsResult
		decodeStructured(t, res, &result)
		assert.Equal(t, 3, result.Total)
		require.Len(t, result.Missing, 1)
		assert.Equal(t, "section-test", result.Missing[0].Suggested)
	})

	t.Run("FindMissingAnnotationsNegativeLimit", func(t *testing.T) {
		tempDir := t.TempDir()
		writeFiles(t, tempDir, map[string]string{"Done.tsx": doneContent})

		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "find_missing_annotations",
			Arguments: map[string]any{"root": tempDir, "max_results": -1},
		})
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("AnnotateFiles", func(t *testing.T) {
		tempDir := t.TempDir()
		writeFiles(t, tempDir, map[string]string{"Cards.tsx": cardContent})

		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "annotate_files",
			Arguments: map[string]any{"root": tempDir, "dry_run": true},
		})
		require.NoError(t, err)
		require.False(t, res.IsError)

		var result testid.AnnotateFilesResult
		decodeStructured(t, res, &result)
		assert.Equal(t, 3, result.TagsChanged)
		assert.Equal(t, cardContent, readFile(t, filepath.Join(tempDir, "Cards.tsx")))
	})
}

func decodeStructured(t *testing.T, res *mcp.CallToolResult, v any) {
	t.Helper()
	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
