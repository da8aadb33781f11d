package testid

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Parameter structures for MCP tools
type ScanTagsParams struct {
	Text string `json:"text" jsonschema:"markup to scan"`
}

type AnnotateTextParams struct {
	Text string `json:"text" jsonschema:"markup whose tags should all be annotated"`
}

type AnnotateTagAtParams struct {
	Text   string `json:"text"`
	Offset *int   `json:"offset,omitempty" jsonschema:"byte offset of the cursor"`
	Line   *int   `json:"line,omitempty" jsonschema:"1-based cursor line, used when offset is not given"`
	Column *int   `json:"column,omitempty" jsonschema:"1-based cursor column, used with line"`
}

type AnnotateSelectionParams struct {
	Text  string `json:"text"`
	Start int    `json:"start" jsonschema:"byte offset where the selection starts"`
	End   int    `json:"end" jsonschema:"byte offset where the selection ends"`
}

type AnnotateFilesParams struct {
	Paths  []string `json:"paths,omitempty"`
	Root   string   `json:"root,omitempty"`
	DryRun bool     `json:"dry_run,omitempty"`
}

type FindMissingAnnotationsParams struct {
	Root       string `json:"root"`
	MaxResults *int   `json:"max_results,omitempty"`
}

type ScanTagsResult struct {
	Tags []TagMatch `json:"tags"`
}

type MissingAnnotationsResult struct {
	Missing []MissingAnnotation `json:"missing"`
	Total   int                 `json:"total"`
}

// Tool handler functions
func ScanTagsTool(ctx context.Context, req *mcp.CallToolRequest, args ScanTagsParams, manager *DefaultManager) (*mcp.CallToolResult, any, error) {
	tags := manager.Annotator().Scan(args.Text)
	if tags == nil {
		tags = []TagMatch{}
	}
	return nil, ScanTagsResult{Tags: tags}, nil
}

func AnnotateTextTool(ctx context.Context, req *mcp.CallToolRequest, args AnnotateTextParams, manager *DefaultManager) (*mcp.CallToolResult, any, error) {
	return nil, manager.Annotator().AnnotateDocument(args.Text), nil
}

func AnnotateTagAtTool(ctx context.Context, req *mcp.CallToolRequest, args AnnotateTagAtParams, manager *DefaultManager) (*mcp.CallToolResult, any, error) {
	var offset int
	switch {
	case args.Offset != nil:
		offset = *args.Offset
	case args.Line != nil:
		column := 1
		if args.Column != nil {
			column = *args.Column
		}
		var err error
		if offset, err = OffsetAt(args.Text, *args.Line, column); err != nil {
			return nil, nil, fmt.Errorf("invalid position: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("either offset or line is required")
	}

	result, err := manager.Annotator().AnnotateAt(args.Text, offset)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to annotate tag: %w", err)
	}
	return nil, result, nil
}

func AnnotateSelectionTool(ctx context.Context, req *mcp.CallToolRequest, args AnnotateSelectionParams, manager *DefaultManager) (*mcp.CallToolResult, any, error) {
	result, err := manager.Annotator().AnnotateSelection(args.Text, args.Start, args.End)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to annotate selection: %w", err)
	}
	return nil, result, nil
}

func AnnotateFilesTool(ctx context.Context, req *mcp.CallToolRequest, args AnnotateFilesParams, manager *DefaultManager) (*mcp.CallToolResult, any, error) {
	var (
		result *AnnotateFilesResult
		err    error
	)

	switch {
	case args.Root != "":
		result, err = manager.AnnotateDirectory(ctx, filepath.Clean(args.Root), args.DryRun)
	case len(args.Paths) > 0:
		result, err = manager.AnnotateFiles(ctx, args.Paths, args.DryRun)
	default:
		return nil, nil, fmt.Errorf("either paths or root is required")
	}

	if err != nil {
		return nil, nil, fmt.Errorf("failed to annotate files: %w", err)
	}
	return nil, result, nil
}

func FindMissingAnnotationsTool(ctx context.Context, req *mcp.CallToolRequest, args FindMissingAnnotationsParams, manager *DefaultManager) (*mcp.CallToolResult, any, error) {
	if args.MaxResults != nil && *args.MaxResults < 0 {
		return nil, nil, fmt.Errorf("max_results must not be negative, got %d", *args.MaxResults)
	}

	missing, err := manager.MissingAnnotations(ctx, args.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find missing annotations: %w", err)
	}

	result := MissingAnnotationsResult{Missing: missing, Total: len(missing)}
	if result.Missing == nil {
		result.Missing = []MissingAnnotation{}
	}
	if args.MaxResults != nil && len(result.Missing) > *args.MaxResults {
		result.Missing = result.Missing[:*args.MaxResults]
	}
	return nil, result, nil
}

// NewMCPServer registers every tool against manager.
func NewMCPServer(manager *DefaultManager) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "testid",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scan_tags",
		Description: "List the element tags found in markup with their test id attribute",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ScanTagsParams) (*mcp.CallToolResult, any, error) {
		return ScanTagsTool(ctx, req, args, manager)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "annotate_text",
		Description: "Add or stabilize test id attributes on every tag in markup",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args AnnotateTextParams) (*mcp.CallToolResult, any, error) {
		return AnnotateTextTool(ctx, req, args, manager)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "annotate_tag_at",
		Description: "Add a test id attribute to the tag under a cursor position",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args AnnotateTagAtParams) (*mcp.CallToolResult, any, error) {
		return AnnotateTagAtTool(ctx, req, args, manager)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "annotate_selection",
		Description: "Add test id attributes to the tags inside a selection",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args AnnotateSelectionParams) (*mcp.CallToolResult, any, error) {
		return AnnotateSelectionTool(ctx, req, args, manager)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "annotate_files",
		Description: "Annotate every tag in a list of files or a directory tree",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args AnnotateFilesParams) (*mcp.CallToolResult, any, error) {
		return AnnotateFilesTool(ctx, req, args, manager)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_missing_annotations",
		Description: "Find in-scope tags that have no test id attribute",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args FindMissingAnnotationsParams) (*mcp.CallToolResult, any, error) {
		return FindMissingAnnotationsTool(ctx, req, args, manager)
	})

	return server
}

// RunMCPServer serves the tools over transport until ctx is cancelled or
// the client disconnects.
func RunMCPServer(ctx context.Context, manager *DefaultManager, transport mcp.Transport) error {
	return NewMCPServer(manager).Run(ctx, transport)
}
