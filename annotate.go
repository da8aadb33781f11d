package testid

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var ErrInvalidRange = errors.New("range is outside the document")

// Apply returns the replacement text for tag with its annotation attribute set
// to an identifier that is unique within ledger. An existing non-blank value
// is reused as the base identifier so annotated tags stay stable.
func Apply(tag TagMatch, config *Config, ledger Ledger) string {
	return renderTag(tag, config.AttributeKeyword, assignID(tag, config, ledger))
}

func assignID(tag TagMatch, config *Config, ledger Ledger) string {
	base := tag.AnnotationValue
	if strings.TrimSpace(base) == "" {
		base = GenerateID(tag.TagName, config.DefaultTestID)
	}
	return ledger.Resolve(base)
}

// renderTag sets the annotation attribute of tag to id. An existing value is
// replaced in place; otherwise the attribute goes right after the tag name.
func renderTag(tag TagMatch, keyword, id string) string {
	if tag.HasAnnotation {
		start := tag.ValueSpan.Start - tag.Span.Start
		end := tag.ValueSpan.End - tag.Span.Start
		return tag.Text[:start] + id + tag.Text[end:]
	}

	attr := keyword + `="` + id + `"`
	closing := "/>"
	if !tag.IsSelfClosing {
		closing = ">"
	}

	var b strings.Builder
	b.Grow(len(tag.Text) + len(attr) + 2)
	b.WriteString("<")
	b.WriteString(tag.TagName)
	if tag.RawAttributes != "" {
		b.WriteString(tag.LeadingSpace)
		b.WriteString(attr)
		b.WriteString(" ")
		b.WriteString(tag.RawAttributes)
	} else {
		b.WriteString(" ")
		b.WriteString(attr)
		b.WriteString(tag.LeadingSpace)
	}
	b.WriteString(tag.TrailingSpace)
	b.WriteString(closing)
	return b.String()
}

// Rewrite annotates every tag accepted by inScope. Replacements are computed
// in document order so sibling identifiers are numbered top to bottom, then
// spliced from the last tag to the first so no splice shifts an offset that
// is still to be applied. Tags that are not rewritten still reserve their
// identifiers through the ledger.
func Rewrite(text string, tags []TagMatch, config *Config, ledger Ledger) RewriteResult {
	result := RewriteResult{Text: text}

	for _, tag := range tags {
		if !config.InScope(tag.TagName) {
			continue
		}

		ledger.Release(tag.AnnotationValue)
		replacement := Apply(tag, config, ledger)

		result.Edits = append(result.Edits, Edit{Span: tag.Span, NewText: replacement})
		result.Processed++
		if replacement != tag.Text {
			result.Changed++
		}
	}

	result.Text = ApplyEdits(text, result.Edits)
	return result
}

// ApplyEdits applies non-overlapping edits expressed in the coordinates of
// text. Edits are applied from the highest offset down.
func ApplyEdits(text string, edits []Edit) string {
	if len(edits) == 0 {
		return text
	}

	sorted := slices.Clone(edits)
	slices.SortFunc(sorted, func(a, b Edit) int {
		return b.Span.Start - a.Span.Start
	})

	buf := []byte(text)
	for _, edit := range sorted {
		buf = slices.Replace(buf, edit.Span.Start, edit.Span.End, []byte(edit.NewText)...)
	}
	return string(buf)
}

// Annotator binds a configuration to a TagScanner and exposes the document,
// selection and single tag operations.
type Annotator struct {
	config  *Config
	scanner *TagScanner
}

func NewAnnotator(config *Config) (*Annotator, error) {
	scanner, err := NewTagScanner(config.AttributeKeyword)
	if err != nil {
		return nil, fmt.Errorf("failed to create tag scanner: %w", err)
	}

	return &Annotator{
		config:  config,
		scanner: scanner,
	}, nil
}

func (a *Annotator) Config() *Config {
	return a.config
}

func (a *Annotator) Scan(text string) []TagMatch {
	return a.scanner.Scan(text)
}

// AnnotateDocument annotates every in-scope tag in text.
func (a *Annotator) AnnotateDocument(text string) RewriteResult {
	tags := a.scanner.Scan(text)
	if len(tags) == 0 {
		return RewriteResult{Text: text, Reason: NoopNoTags}
	}

	if !slices.ContainsFunc(tags, func(t TagMatch) bool { return a.config.InScope(t.TagName) }) {
		return RewriteResult{Text: text, Reason: NoopNoneInScope}
	}

	return Rewrite(text, tags, a.config, NewLedger(tags))
}

// AnnotateAt annotates the tag whose span contains offset.
func (a *Annotator) AnnotateAt(text string, offset int) (TagEditResult, error) {
	if offset < 0 || offset > len(text) {
		return TagEditResult{}, fmt.Errorf("offset %d: %w", offset, ErrInvalidRange)
	}

	tags := a.scanner.Scan(text)
	if len(tags) == 0 {
		return TagEditResult{Reason: NoopNoTags}, nil
	}

	idx := slices.IndexFunc(tags, func(t TagMatch) bool { return t.Span.Contains(offset) })
	if idx < 0 {
		return TagEditResult{Reason: NoopNoTagAt}, nil
	}

	tag := tags[idx]
	if !a.config.InScope(tag.TagName) {
		return TagEditResult{TagName: tag.TagName, Reason: NoopOutOfScope}, nil
	}

	ledger := NewLedger(tags)
	ledger.Release(tag.AnnotationValue)
	replacement := Apply(tag, a.config, ledger)

	return TagEditResult{
		Edit:    Edit{Span: tag.Span, NewText: replacement},
		TagName: tag.TagName,
		Changed: replacement != tag.Text,
	}, nil
}

// AnnotateSelection annotates the in-scope tags lying completely inside
// [start, end). Identifiers are kept unique against the whole document. A
// blank selection falls back to annotating the tag at end, where the cursor
// rests after selecting.
func (a *Annotator) AnnotateSelection(text string, start, end int) (SelectionResult, error) {
	if start < 0 || end > len(text) || start > end {
		return SelectionResult{}, fmt.Errorf("selection [%d, %d): %w", start, end, ErrInvalidRange)
	}

	if strings.TrimSpace(text[start:end]) == "" {
		single, err := a.AnnotateAt(text, end)
		if err != nil {
			return SelectionResult{}, err
		}
		if single.Reason != NoopNone {
			return SelectionResult{Reason: single.Reason}, nil
		}
		result := SelectionResult{Edit: single.Edit, Processed: 1}
		if single.Changed {
			result.Changed = 1
		}
		return result, nil
	}

	tags := a.scanner.Scan(text)
	if len(tags) == 0 {
		return SelectionResult{Reason: NoopNoTags}, nil
	}

	selection := Span{Start: start, End: end}
	var inside []TagMatch
	for _, tag := range tags {
		if tag.Span.Within(selection) {
			inside = append(inside, tag)
		}
	}
	if len(inside) == 0 {
		return SelectionResult{Reason: NoopEmptyRange}, nil
	}
	if !slices.ContainsFunc(inside, func(t TagMatch) bool { return a.config.InScope(t.TagName) }) {
		return SelectionResult{Reason: NoopNoneInScope}, nil
	}

	rewritten := Rewrite(text, inside, a.config, NewLedger(tags))
	delta := len(rewritten.Text) - len(text)

	return SelectionResult{
		Edit: Edit{
			Span:    selection,
			NewText: rewritten.Text[start : end+delta],
		},
		Processed: rewritten.Processed,
		Changed:   rewritten.Changed,
	}, nil
}
