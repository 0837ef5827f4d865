package lexer

import "unicode/utf8"

// cursor walks a source string rune by rune, tracking byte offset, line
// and column. Line numbers and columns are 1-based; offset is 0-based.
type cursor struct {
	src    string
	offset int
	line   int
	column int
}

func newCursor(src string) *cursor {
	return &cursor{src: src, offset: 0, line: 1, column: 1}
}

func (c *cursor) atEnd() bool {
	return c.offset >= len(c.src)
}

// peek returns the rune at the cursor without advancing, or 0 at end of
// input.
func (c *cursor) peek() rune {
	if c.atEnd() {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(c.src[c.offset:])
	return r
}

// peekAt returns the rune n bytes-worth of runes ahead (rune-indexed, not
// byte-indexed); used only for small fixed lookahead.
func (c *cursor) peekAt(n int) rune {
	off := c.offset
	var r rune
	var size int
	for i := 0; i <= n; i++ {
		if off >= len(c.src) {
			return 0
		}
		r, size = utf8.DecodeRuneInString(c.src[off:])
		off += size
	}
	return r
}

func (c *cursor) advance() rune {
	if c.atEnd() {
		return 0
	}
	r, size := utf8.DecodeRuneInString(c.src[c.offset:])
	c.offset += size
	if r == '\n' {
		c.line++
		c.column = 1
	} else {
		c.column++
	}
	return r
}

func (c *cursor) match(r rune) bool {
	if c.peek() == r {
		c.advance()
		return true
	}
	return false
}

func (c *cursor) pos() (line, column, offset int) {
	return c.line, c.column, c.offset
}
