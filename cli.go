package testid

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrMissingAnnotations is returned by the check command when any in-scope
// tag lacks an annotation.
var ErrMissingAnnotations = errors.New("tags without annotation found")

// RunCmdOptions contains options for customizing RunCmd behavior
type RunCmdOptions struct {
	// MCPTransport allows providing a custom transport for MCP server (used for testing)
	MCPTransport mcp.Transport
	// Stdin is read for confirmation prompts (defaults to os.Stdin)
	Stdin io.Reader
	// Stdout writer for normal output (defaults to os.Stdout)
	Stdout io.Writer
	// Stderr writer for error output and logs (defaults to os.Stderr)
	Stderr io.Writer
	// Context bounds long running commands such as watch and -mcp
	Context context.Context
}

// commandContext holds runtime context for command execution
type commandContext struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	manager *DefaultManager
	logger  *slog.Logger
}

type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	*l = append(*l, splitList(value)...)
	return nil
}

func RunCmd(args []string, options *RunCmdOptions) error {
	if options == nil {
		options = &RunCmdOptions{}
	}

	cmdCtx := &commandContext{
		stdin:  options.Stdin,
		stdout: options.Stdout,
		stderr: options.Stderr,
	}
	if cmdCtx.stdin == nil {
		cmdCtx.stdin = os.Stdin
	}
	if cmdCtx.stdout == nil {
		cmdCtx.stdout = os.Stdout
	}
	if cmdCtx.stderr == nil {
		cmdCtx.stderr = os.Stderr
	}

	if len(args) < 1 {
		return ShowHelp(cmdCtx.stdout)
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(cmdCtx.stderr)

	var (
		help       = fs.Bool("h", false, "Show help")
		mcpOption  = fs.Bool("mcp", false, "Run as MCP server")
		verbose    = fs.Bool("v", false, "Verbose output")
		dryRun     = fs.Bool("dry-run", false, "Show what would be changed without making changes")
		configFile = fs.String("config", "", "Path to configuration file")
		keyword    = fs.String("keyword", "", "Annotation attribute name")
		suffix     = fs.String("suffix", "", "Suffix for generated identifiers")
		ignore     stringList
		only       stringList
	)
	fs.Var(&ignore, "ignore", "Comma-separated element names to skip")
	fs.Var(&only, "only", "Comma-separated element names to annotate exclusively")

	if len(args) > 1 {
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
	}

	if *help {
		return ShowHelp(cmdCtx.stdout)
	}

	remaining := fs.Args()
	if !*mcpOption && len(remaining) == 0 {
		return ShowHelp(cmdCtx.stdout)
	}

	config, err := resolveConfig(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *keyword != "" {
		config.AttributeKeyword = *keyword
	}
	if *suffix != "" {
		config.DefaultTestID = *suffix
	}
	if len(ignore) > 0 {
		config.IgnoreElements = ignore
	}
	if len(only) > 0 {
		config.OnlyElements = only
	}

	cmdCtx.logger = NewLogger(cmdCtx.stderr, *verbose)
	manager, err := NewDefaultManager(config, cmdCtx.logger)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	cmdCtx.manager = manager

	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if *mcpOption {
		transport := options.MCPTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return RunMCPServer(ctx, manager, transport)
	}

	switch remaining[0] {
	case "annotate":
		return annotateCommand(ctx, cmdCtx, remaining[1:], *dryRun)
	case "at":
		return annotateAtCommand(ctx, cmdCtx, remaining[1:], *dryRun)
	case "range":
		return annotateRangeCommand(ctx, cmdCtx, remaining[1:], *dryRun)
	case "scan":
		return scanCommand(ctx, cmdCtx, remaining[1:])
	case "check":
		return checkCommand(ctx, cmdCtx, remaining[1:])
	case "watch":
		return watchCommand(ctx, cmdCtx, remaining[1:])
	default:
		return fmt.Errorf("unknown command: %s", remaining[0])
	}
}

// resolveConfig loads path, or the project config file in the current
// directory when path is empty, falling back to defaults.
func resolveConfig(path string) (*Config, error) {
	if path != "" {
		return LoadConfig(path)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadConfig(FindConfigFile(cwd))
}

func ShowHelp(w io.Writer) error {
	help := `Test ID Annotator - Add test identifier attributes to JSX/TSX/HTML tags

Usage:
  testid [OPTIONS] COMMAND [ARGS...]
  testid -mcp                   Run as MCP server

Options:
  -h                   Show this help message
  -v                   Enable verbose output
  --dry-run            Preview changes without modifying files
  --config FILE        Path to configuration file (default: ./.testidrc.json if present)
  --keyword NAME       Annotation attribute (default: data-test-id)
  --suffix TEXT        Suffix for generated identifiers (default: test)
  --ignore LIST        Comma-separated element names to skip
  --only LIST          Comma-separated element names to annotate exclusively
  -mcp                 Run as MCP server

Commands:
  annotate     Annotate every tag in files or a directory
  at           Annotate the tag at a line and column
  range        Annotate the tags inside a byte range
  scan         List tags and their annotations
  check        Report tags without annotations (fails when any are found)
  watch        Annotate files as they are saved

Examples:
  testid annotate --root="/path/to/app" --dry-run
  testid annotate --files="src/App.tsx,src/Form.tsx" --yes
  testid at --file="src/App.tsx" --line=12 --col=8
  testid range --file="src/App.tsx" --start=120 --end=480
  testid scan --files="src/App.tsx" --json
  testid check --root="/path/to/app"
  testid --ignore=span,br watch --root="/path/to/app"
`
	_, _ = fmt.Fprint(w, help)
	return nil
}

func annotateCommand(ctx context.Context, cmdCtx *commandContext, args []string, globalDryRun bool) error {
	fs := flag.NewFlagSet("annotate", flag.ContinueOnError)
	fs.SetOutput(cmdCtx.stderr)

	files := fs.String("files", "", "Comma-separated list of files")
	root := fs.String("root", "", "Root directory to annotate")
	yes := fs.Bool("yes", false, "Do not ask for confirmation")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	localDryRun := fs.Bool("dry-run", false, "Show what would be changed without making changes")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *files == "" && *root == "" {
		return fmt.Errorf("either --files or --root is required")
	}

	run := func(dryRun bool) (*AnnotateFilesResult, error) {
		if *root != "" {
			absRoot, err := filepath.Abs(*root)
			if err != nil {
				return nil, fmt.Errorf("invalid root: %w", err)
			}
			return cmdCtx.manager.AnnotateDirectory(ctx, absRoot, dryRun)
		}
		return cmdCtx.manager.AnnotateFiles(ctx, splitList(*files), dryRun)
	}

	dryRun := globalDryRun || *localDryRun
	if dryRun {
		_, _ = fmt.Fprintln(cmdCtx.stderr, "DRY RUN MODE - No files will be modified")
	}

	if !dryRun && !*yes {
		preview, err := run(true)
		if err != nil {
			return err
		}
		if preview.TagsChanged == 0 {
			return writeAnnotateResult(cmdCtx, preview, *jsonOutput)
		}

		ok, err := confirm(cmdCtx, fmt.Sprintf("Annotate %d tags in %d files?", preview.TagsChanged, len(preview.ModifiedFiles)))
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(cmdCtx.stderr, "Aborted")
			return nil
		}
	}

	result, err := run(dryRun)
	if err != nil {
		return err
	}
	return writeAnnotateResult(cmdCtx, result, *jsonOutput)
}

func writeAnnotateResult(cmdCtx *commandContext, result *AnnotateFilesResult, jsonOutput bool) error {
	if jsonOutput {
		return json.NewEncoder(cmdCtx.stdout).Encode(result)
	}

	_, _ = fmt.Fprintf(cmdCtx.stdout, "\nAnnotated %d tags in %d files\n", result.TagsChanged, len(result.ModifiedFiles))
	for _, file := range result.ModifiedFiles {
		_, _ = fmt.Fprintf(cmdCtx.stdout, "  %s (%d)\n", file.Path, file.Changed)
	}

	if len(result.FailedFiles) > 0 {
		_, _ = fmt.Fprintf(cmdCtx.stdout, "\nFailed files: %d\n", len(result.FailedFiles))
		for _, msg := range result.Errors {
			_, _ = fmt.Fprintf(cmdCtx.stdout, "  %s\n", msg)
		}
	}
	return nil
}

// ErrConfirmationRequired is returned when a prompt is needed but stdin is
// not a terminal.
var ErrConfirmationRequired = errors.New("confirmation required; pass --yes to annotate without a prompt")

func confirm(cmdCtx *commandContext, question string) (bool, error) {
	if f, ok := cmdCtx.stdin.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false, ErrConfirmationRequired
	}

	_, _ = fmt.Fprintf(cmdCtx.stderr, "%s [y/N] ", question)

	answer, err := bufio.NewReader(cmdCtx.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func annotateAtCommand(ctx context.Context, cmdCtx *commandContext, args []string, globalDryRun bool) error {
	fs := flag.NewFlagSet("at", flag.ContinueOnError)
	fs.SetOutput(cmdCtx.stderr)

	file := fs.String("file", "", "File containing the tag")
	line := fs.Int("line", 0, "1-based line of the cursor")
	col := fs.Int("col", 1, "1-based column of the cursor")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	localDryRun := fs.Bool("dry-run", false, "Show what would be changed without making changes")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *file == "" || *line < 1 {
		return fmt.Errorf("--file and --line are required")
	}

	result, err := cmdCtx.manager.AnnotateFileAt(ctx, *file, *line, *col, globalDryRun || *localDryRun)
	if err != nil {
		return err
	}

	if *jsonOutput {
		return json.NewEncoder(cmdCtx.stdout).Encode(result)
	}

	if result.Reason != NoopNone {
		_, _ = fmt.Fprintf(cmdCtx.stdout, "Nothing to do: %s\n", result.Reason)
		return nil
	}
	_, _ = fmt.Fprintf(cmdCtx.stdout, "%s\n", result.Edit.NewText)
	return nil
}

func annotateRangeCommand(ctx context.Context, cmdCtx *commandContext, args []string, globalDryRun bool) error {
	fs := flag.NewFlagSet("range", flag.ContinueOnError)
	fs.SetOutput(cmdCtx.stderr)

	file := fs.String("file", "", "File containing the selection")
	start := fs.Int("start", -1, "Byte offset where the selection starts")
	end := fs.Int("end", -1, "Byte offset where the selection ends")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	localDryRun := fs.Bool("dry-run", false, "Show what would be changed without making changes")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *file == "" || *start < 0 || *end < 0 {
		return fmt.Errorf("--file, --start and --end are required")
	}

	result, err := cmdCtx.manager.AnnotateFileRange(ctx, *file, *start, *end, globalDryRun || *localDryRun)
	if err != nil {
		return err
	}

	if *jsonOutput {
		return json.NewEncoder(cmdCtx.stdout).Encode(result)
	}

	if result.Reason != NoopNone {
		_, _ = fmt.Fprintf(cmdCtx.stdout, "Nothing to do: %s\n", result.Reason)
		return nil
	}
	_, _ = fmt.Fprintf(cmdCtx.stdout, "Annotated %d tags\n", result.Changed)
	return nil
}

func scanCommand(ctx context.Context, cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(cmdCtx.stderr)

	files := fs.String("files", "", "Comma-separated list of files")
	root := fs.String("root", "", "Root directory to scan")
	jsonOutput := fs.Bool("json", false, "Output as JSON")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var results []FileScanInfo
	switch {
	case *files != "":
		for _, path := range splitList(*files) {
			info, err := cmdCtx.manager.ScanFile(ctx, path)
			if err != nil {
				return fmt.Errorf("failed to scan %s: %w", path, err)
			}
			results = append(results, info)
		}
	case *root != "":
		for info, err := range cmdCtx.manager.ScanDirectory(ctx, *root) {
			if err != nil {
				cmdCtx.logger.Warn("scan error", "error", err)
				continue
			}
			results = append(results, info)
		}
	default:
		return fmt.Errorf("either --files or --root is required")
	}

	if *jsonOutput {
		return json.NewEncoder(cmdCtx.stdout).Encode(results)
	}

	for _, file := range results {
		_, _ = fmt.Fprintf(cmdCtx.stdout, "\n%s (%d tags):\n", file.Path, len(file.Tags))
		for _, tag := range file.Tags {
			value := "-"
			if tag.HasAnnotation {
				value = tag.AnnotationValue
			}
			_, _ = fmt.Fprintf(cmdCtx.stdout, "  %6d  %-20s %s\n", tag.Span.Start, tag.TagName, value)
		}
	}
	return nil
}

func checkCommand(ctx context.Context, cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(cmdCtx.stderr)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	root := fs.String("root", cwd, "Root directory to check")
	jsonOutput := fs.Bool("json", false, "Output as JSON")

	if err := fs.Parse(args); err != nil {
		return err
	}

	absRoot, err := filepath.Abs(*root)
	if err != nil {
		return fmt.Errorf("invalid root: %w", err)
	}

	missing, err := cmdCtx.manager.MissingAnnotations(ctx, absRoot)
	if err != nil {
		return err
	}

	if *jsonOutput {
		if missing == nil {
			missing = []MissingAnnotation{}
		}
		if err := json.NewEncoder(cmdCtx.stdout).Encode(missing); err != nil {
			return err
		}
	} else {
		for _, m := range missing {
			_, _ = fmt.Fprintf(cmdCtx.stdout, "%s:%d:%d: <%s> has no %s (suggested %q)\n",
				m.Path, m.Line, m.Column, m.TagName, cmdCtx.manager.config.AttributeKeyword, m.Suggested)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%d %w", len(missing), ErrMissingAnnotations)
	}
	return nil
}

func watchCommand(ctx context.Context, cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(cmdCtx.stderr)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	root := fs.String("root", cwd, "Root directory to watch")
	debounce := fs.Duration("debounce", DefaultDebounce, "Delay after the last write before annotating")

	if err := fs.Parse(args); err != nil {
		return err
	}

	absRoot, err := filepath.Abs(*root)
	if err != nil {
		return fmt.Errorf("invalid root: %w", err)
	}

	watcher, err := NewWatcher(cmdCtx.manager, absRoot, WatcherOptions{Debounce: *debounce})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watcher.Run(ctx)
}

func splitList(value string) []string {
	var items []string
	for _, part := range strings.Split(value, ",") {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	return items
}
