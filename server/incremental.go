package server

import (
	"fmt"
	"unicode/utf8"

	"github.com/carn181/lspkit/transport"
)

// ApplyIncrementalChange replaces the span covered by r with newText. The
// range is interpreted in the negotiated position encoding.
func ApplyIncrementalChange(content string, r transport.Range, newText string, encoding transport.PositionEncodingKind) (string, error) {
	start, err := PositionToOffset(content, r.Start, encoding)
	if err != nil {
		return "", err
	}
	end, err := PositionToOffset(content, r.End, encoding)
	if err != nil {
		return "", err
	}
	if end < start {
		return "", fmt.Errorf("range end %d before start %d", end, start)
	}
	return content[:start] + newText + content[end:], nil
}

// LineIndices returns the byte offset of every line start in s.
func LineIndices(s string) []int {
	lines := []int{0}
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, i+1)
		}
	}
	return lines
}

// encodingUnits is the width of r in code units of the given encoding.
func encodingUnits(r rune, encoding transport.PositionEncodingKind) uint32 {
	switch encoding {
	case transport.UTF8:
		return uint32(utf8.RuneLen(r))
	case transport.UTF16:
		if r >= 0x10000 {
			return 2
		}
		return 1
	case transport.UTF32:
		return 1
	}
	return 1
}

// PositionToOffset converts a line/character position into a byte offset.
// Positions past the end of a line clamp to the line end; a line number one
// past the last line means end of document.
func PositionToOffset(s string, pos transport.Position, encoding transport.PositionEncodingKind) (int, error) {
	indices := LineIndices(s)
	if pos.Line > uint32(len(indices)) {
		return 0, fmt.Errorf("line %d beyond document end", pos.Line)
	}
	if pos.Line == uint32(len(indices)) {
		return len(s), nil
	}

	off := indices[pos.Line]
	var col uint32
	for off < len(s) && col < pos.Character {
		r, w := utf8.DecodeRuneInString(s[off:])
		if w == 0 || r == '\n' {
			break
		}
		col += encodingUnits(r, encoding)
		off += w
	}
	return off, nil
}

// OffsetToPosition converts a byte offset into a line/character position in
// the given encoding.
func OffsetToPosition(s string, offset int, encoding transport.PositionEncodingKind) (transport.Position, error) {
	if offset < 0 || offset > len(s) {
		return transport.Position{}, fmt.Errorf("offset %d outside document of %d bytes", offset, len(s))
	}

	indices := LineIndices(s)
	// Last line whose start is at or before offset.
	line := 0
	for line+1 < len(indices) && indices[line+1] <= offset {
		line++
	}

	var char uint32
	for i := indices[line]; i < offset; {
		r, w := utf8.DecodeRuneInString(s[i:])
		if w == 0 {
			break
		}
		char += encodingUnits(r, encoding)
		i += w
	}
	return transport.Position{Line: uint32(line), Character: char}, nil
}

// DocumentEndPosition is the position just past the last character.
func DocumentEndPosition(s string, encoding transport.PositionEncodingKind) transport.Position {
	pos, _ := OffsetToPosition(s, len(s), encoding)
	return pos
}
