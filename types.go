package testid

// Span is a half-open byte range [Start, End) into a source text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Contains reports whether offset falls inside the span. The end offset is
// inclusive so a cursor resting just after '>' still selects the tag.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start && offset <= s.End
}

// Within reports whether s lies completely inside outer.
func (s Span) Within(outer Span) bool {
	return s.Start >= outer.Start && s.End <= outer.End
}

// TagMatch is one opening or self-closing tag recognized by the TagScanner.
// All spans are absolute offsets into the scanned text.
type TagMatch struct {
	TagName string `json:"tag_name"`
	Span    Span   `json:"span"`
	// Text is the matched tag from '<' through '>'.
	Text string `json:"text"`
	// RawAttributes is the attribute region between the tag name and the
	// closing "/>" or ">", without its surrounding whitespace.
	RawAttributes   string `json:"raw_attributes"`
	LeadingSpace    string `json:"-"`
	TrailingSpace   string `json:"-"`
	IsSelfClosing   bool   `json:"is_self_closing"`
	HasAnnotation   bool   `json:"has_annotation"`
	AnnotationValue string `json:"annotation_value,omitempty"`
	// ValueSpan locates AnnotationValue (between its quotes) when HasAnnotation is set.
	ValueSpan Span `json:"-"`
}

// Edit replaces the text covered by Span with NewText.
type Edit struct {
	Span    Span   `json:"span"`
	NewText string `json:"new_text"`
}

// NoopReason explains why an operation changed nothing.
type NoopReason string

const (
	NoopNone        NoopReason = ""
	NoopNoTags      NoopReason = "no tags found"
	NoopNoneInScope NoopReason = "no in-scope tags"
	NoopNoTagAt     NoopReason = "no tag at position"
	NoopOutOfScope  NoopReason = "tag is out of scope"
	NoopEmptyRange  NoopReason = "nothing in selection"
)

// RewriteResult is the outcome of rewriting a document or a selection.
type RewriteResult struct {
	Text string `json:"text"`
	// Edits holds one entry per in-scope tag, in document order, expressed in
	// the coordinates of the original text.
	Edits []Edit `json:"edits,omitempty"`
	// Processed counts the in-scope tags that were rewritten.
	Processed int `json:"processed"`
	// Changed counts the tags whose text actually differs after rewriting.
	Changed int        `json:"changed"`
	Reason  NoopReason `json:"reason,omitempty"`
}

// TagEditResult is the outcome of annotating the single tag under a cursor.
type TagEditResult struct {
	Edit    Edit       `json:"edit"`
	TagName string     `json:"tag_name,omitempty"`
	Changed bool       `json:"changed"`
	Reason  NoopReason `json:"reason,omitempty"`
}

// SelectionResult is the outcome of annotating the tags inside a selection.
// Edit replaces the whole selection with the rewritten selection text.
type SelectionResult struct {
	Edit      Edit       `json:"edit"`
	Processed int        `json:"processed"`
	Changed   int        `json:"changed"`
	Reason    NoopReason `json:"reason,omitempty"`
}

type FileScanInfo struct {
	Path string     `json:"path"`
	Tags []TagMatch `json:"tags"`
}

type FileAnnotateInfo struct {
	Path      string `json:"path"`
	Processed int    `json:"processed"`
	Changed   int    `json:"changed"`
}

type AnnotateFilesResult struct {
	ModifiedFiles []FileAnnotateInfo `json:"modified_files"`
	FailedFiles   []string           `json:"failed_files,omitempty"`
	Errors        []string           `json:"errors,omitempty"`
	TagsChanged   int                `json:"tags_changed"`
}

// MissingAnnotation is an in-scope tag that carries no annotation value.
type MissingAnnotation struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	TagName string `json:"tag_name"`
	// Suggested is the identifier the tag would receive if annotated now.
	Suggested string `json:"suggested"`
}
