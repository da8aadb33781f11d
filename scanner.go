package testid

import (
	"fmt"
	"regexp"
	"strings"
)

// tagPattern recognizes opening and self-closing tags. Groups:
// 1 tag name, 2 whitespace after the name, 3 attributes, 4 whitespace
// before the close, 5 optional '/'.
//
// This is a single pass over raw text, not a parser. It does not track
// nesting and a '>' inside an attribute expression ends the tag early.
const tagPattern = `<([A-Za-z][A-Za-z0-9]*(?:[-.:][A-Za-z0-9]+)*)(?:(\s+)([^>]*?))?(\s*)(/?)>`

type Scanner interface {
	Scan(text string) []TagMatch
}

// TagScanner finds element tags and their annotation attribute in markup
// such as JSX, TSX, Vue templates or HTML.
type TagScanner struct {
	keyword          string
	tagPattern       *regexp.Regexp
	attributePattern *regexp.Regexp
}

func NewTagScanner(keyword string) (*TagScanner, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, fmt.Errorf("attribute keyword cannot be empty")
	}

	tagRe, err := regexp.Compile(tagPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid tag pattern: %w", err)
	}

	// The keyword is user supplied; QuoteMeta keeps it literal.
	attrRe, err := regexp.Compile(`(?i)(?:^|\s)` + regexp.QuoteMeta(keyword) + `\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	if err != nil {
		return nil, fmt.Errorf("invalid attribute pattern for keyword %q: %w", keyword, err)
	}

	return &TagScanner{
		keyword:          keyword,
		tagPattern:       tagRe,
		attributePattern: attrRe,
	}, nil
}

// Keyword returns the annotation attribute name the scanner looks for.
func (s *TagScanner) Keyword() string {
	return s.keyword
}

// Scan returns every tag in text in document order. Spans never overlap.
// Malformed constructs are skipped silently.
func (s *TagScanner) Scan(text string) []TagMatch {
	var tags []TagMatch

	for _, m := range s.tagPattern.FindAllStringSubmatchIndex(text, -1) {
		tag := TagMatch{
			TagName:       text[m[2]:m[3]],
			Span:          Span{Start: m[0], End: m[1]},
			Text:          text[m[0]:m[1]],
			TrailingSpace: text[m[8]:m[9]],
			IsSelfClosing: m[11] > m[10],
		}

		if m[4] >= 0 {
			tag.LeadingSpace = text[m[4]:m[5]]
			tag.RawAttributes = text[m[6]:m[7]]
			s.extractAnnotation(&tag, m[6])
		}

		tags = append(tags, tag)
	}

	return tags
}

// extractAnnotation fills the annotation fields of tag from its attributes,
// which begin at offset attrStart in the scanned text.
func (s *TagScanner) extractAnnotation(tag *TagMatch, attrStart int) {
	loc := s.attributePattern.FindStringSubmatchIndex(tag.RawAttributes)
	if loc == nil {
		return
	}

	start, end := loc[2], loc[3]
	if start < 0 {
		start, end = loc[4], loc[5]
	}

	tag.HasAnnotation = true
	tag.AnnotationValue = tag.RawAttributes[start:end]
	tag.ValueSpan = Span{Start: attrStart + start, End: attrStart + end}
}
