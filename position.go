package testid

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// OffsetAt converts a 1-based line and column into a byte offset in text.
// Columns count characters, not bytes. A column past the end of the line
// resolves to the end of that line.
func OffsetAt(text string, line, column int) (int, error) {
	if line < 1 || column < 1 {
		return 0, fmt.Errorf("line %d column %d: %w", line, column, ErrInvalidRange)
	}

	offset := 0
	for current := 1; current < line; current++ {
		next := strings.IndexByte(text[offset:], '\n')
		if next < 0 {
			return 0, fmt.Errorf("line %d: %w", line, ErrInvalidRange)
		}
		offset += next + 1
	}

	for col := 1; col < column && offset < len(text) && text[offset] != '\n'; col++ {
		_, size := utf8.DecodeRuneInString(text[offset:])
		offset += size
	}
	return offset, nil
}

// PositionAt converts a byte offset into a 1-based line and column.
func PositionAt(text string, offset int) (line, column int) {
	if offset > len(text) {
		offset = len(text)
	}

	line, column = 1, 1
	for _, r := range text[:offset] {
		if r == '\n' {
			line++
			column = 1
			continue
		}
		column++
	}
	return line, column
}
