package diff

import (
	"strings"

	sgdiff "github.com/sourcegraph/go-diff/diff"
)

// Unified renders a line-granularity edit script as a unified diff, for logs
// and test failure output. Rune-granularity scripts have no line structure to
// render and come out as one replaced block.
func Unified(origName, newName string, ops []Op) string {
	var body strings.Builder
	var origLines, newLines int32

	emit := func(prefix byte, text string) {
		for _, line := range splitLines(text) {
			body.WriteByte(prefix)
			body.WriteString(strings.TrimSuffix(line, "\n"))
			body.WriteByte('\n')
			switch prefix {
			case ' ':
				origLines++
				newLines++
			case '-':
				origLines++
			case '+':
				newLines++
			}
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case Equal:
			emit(' ', op.Text)
		case Delete:
			emit('-', op.Text)
		case Insert:
			emit('+', op.Text)
		}
	}

	fd := &sgdiff.FileDiff{
		OrigName: origName,
		NewName:  newName,
		Hunks: []*sgdiff.Hunk{{
			OrigStartLine: 1,
			OrigLines:     origLines,
			NewStartLine:  1,
			NewLines:      newLines,
			Body:          []byte(body.String()),
		}},
	}

	out, err := sgdiff.PrintFileDiff(fd)
	if err != nil {
		// PrintFileDiff only fails on writer errors, which a Buffer
		// cannot produce; keep logs usable anyway.
		return body.String()
	}
	return string(out)
}
