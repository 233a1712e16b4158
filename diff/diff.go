// Package diff computes a minimal edit script between two text snapshots.
// The session layer uses it to translate full-text updates into incremental
// change notifications instead of retransmitting whole documents.
package diff

import (
	"fmt"
	"strings"
)

type OpKind int

const (
	Equal OpKind = iota
	Delete
	Insert
)

func (k OpKind) String() string {
	switch k {
	case Equal:
		return "equal"
	case Delete:
		return "delete"
	case Insert:
		return "insert"
	}
	return "unknown"
}

// Op is one run of the edit script. Text is the exact byte run: for Equal and
// Delete it is a run of the old text, for Insert a run of the new text.
type Op struct {
	Kind OpKind
	Text string
}

// Edit replaces the byte span [Start, End) of the old text with NewText.
// Edits produced by ToEdits are ordered and non-overlapping, so applying them
// left to right reproduces the new text.
type Edit struct {
	Start   int
	End     int
	NewText string
}

// Lines computes the shortest edit script between old and new at line
// granularity. Line terminators stay attached to their lines so concatenating
// the script reproduces the input byte for byte.
func Lines(old, new string) []Op {
	return script(splitLines(old), splitLines(new))
}

// Runes computes the shortest edit script at character granularity, for
// sub-line precision on small texts.
func Runes(old, new string) []Op {
	a := strings.Split(old, "")
	b := strings.Split(new, "")
	return script(a, b)
}

// Apply replays an edit script against old and returns the new text. The
// script's Equal and Delete runs must match old exactly.
func Apply(old string, ops []Op) (string, error) {
	var b strings.Builder
	off := 0
	for _, op := range ops {
		switch op.Kind {
		case Equal, Delete:
			end := off + len(op.Text)
			if end > len(old) || old[off:end] != op.Text {
				return "", fmt.Errorf("diff: %s run does not match old text at offset %d", op.Kind, off)
			}
			if op.Kind == Equal {
				b.WriteString(op.Text)
			}
			off = end
		case Insert:
			b.WriteString(op.Text)
		}
	}
	if off != len(old) {
		return "", fmt.Errorf("diff: script covers %d of %d old bytes", off, len(old))
	}
	return b.String(), nil
}

// ToEdits converts an edit script into ordered span replacements over the old
// text. A Delete immediately followed by an Insert collapses into a single
// replacement edit.
func ToEdits(ops []Op) []Edit {
	var edits []Edit
	off := 0
	for i := 0; i < len(ops); i++ {
		op := ops[i]
		switch op.Kind {
		case Equal:
			off += len(op.Text)
		case Delete:
			e := Edit{Start: off, End: off + len(op.Text)}
			off = e.End
			if i+1 < len(ops) && ops[i+1].Kind == Insert {
				e.NewText = ops[i+1].Text
				i++
			}
			edits = append(edits, e)
		case Insert:
			edits = append(edits, Edit{Start: off, End: off, NewText: op.Text})
		}
	}
	return edits
}

// ApplyEdits replays ordered, non-overlapping edits against old.
func ApplyEdits(old string, edits []Edit) (string, error) {
	var b strings.Builder
	off := 0
	for _, e := range edits {
		if e.Start < off || e.End < e.Start || e.End > len(old) {
			return "", fmt.Errorf("diff: edit [%d,%d) out of order or out of bounds", e.Start, e.End)
		}
		b.WriteString(old[off:e.Start])
		b.WriteString(e.NewText)
		off = e.End
	}
	b.WriteString(old[off:])
	return b.String(), nil
}

// script runs Myers on the two sequences after trimming the common prefix and
// suffix, then reassembles the full op list.
func script(a, b []string) []Op {
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	var ops []Op
	ops = appendRun(ops, Equal, a[:prefix])
	ops = append(ops, myers(a[prefix:len(a)-suffix], b[prefix:len(b)-suffix])...)
	ops = appendRun(ops, Equal, a[len(a)-suffix:])
	return ops
}

// myers is the classic O(ND) greedy shortest-edit-script search. Ties at
// equal cost prefer Delete before Insert so output is reproducible.
func myers(a, b []string) []Op {
	n, m := len(a), len(b)
	if n == 0 {
		return appendRun(nil, Insert, b)
	}
	if m == 0 {
		return appendRun(nil, Delete, a)
	}

	max := n + m
	v := make([]int, 2*max+1) // furthest x per diagonal k, offset by max
	var trace [][]int

outer:
	for d := 0; d <= max; d++ {
		// Snapshot the d-1 frontier; backtrack reads predecessors from it.
		trace = append(trace, append([]int(nil), v...))
		for k := -d; k <= d; k += 2 {
			var x int
			// Move down (insert) only when forced or strictly better;
			// otherwise move right (delete). This is the tie break.
			if k == -d || (k != d && v[max+k-1] < v[max+k+1]) {
				x = v[max+k+1]
			} else {
				x = v[max+k-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[max+k] = x
			if x >= n && y >= m {
				break outer
			}
		}
	}

	return backtrack(a, b, trace)
}

// backtrack walks the Myers trace from the end to the start, emitting ops in
// reverse and flipping them at the end.
func backtrack(a, b []string, trace [][]int) []Op {
	n, m := len(a), len(b)
	max := n + m
	x, y := n, m

	type step struct {
		kind OpKind
		text string
	}
	var rev []step

	for d := len(trace) - 1; d >= 0 && (x > 0 || y > 0); d-- {
		v := trace[d]
		k := x - y

		var prevK int
		if k == -d || (k != d && v[max+k-1] < v[max+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := v[max+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			rev = append(rev, step{Equal, a[x-1]})
			x--
			y--
		}
		if d == 0 {
			break
		}
		if prevK == k+1 {
			rev = append(rev, step{Insert, b[y-1]})
			y--
		} else {
			rev = append(rev, step{Delete, a[x-1]})
			x--
		}
	}

	var ops []Op
	for i := len(rev) - 1; i >= 0; i-- {
		ops = appendText(ops, rev[i].kind, rev[i].text)
	}
	return ops
}

// appendRun appends one op covering a run of sequence elements, merging into
// a trailing op of the same kind.
func appendRun(ops []Op, kind OpKind, run []string) []Op {
	if len(run) == 0 {
		return ops
	}
	return appendText(ops, kind, strings.Join(run, ""))
}

func appendText(ops []Op, kind OpKind, text string) []Op {
	if text == "" {
		return ops
	}
	if len(ops) > 0 && ops[len(ops)-1].Kind == kind {
		ops[len(ops)-1].Text += text
		return ops
	}
	return append(ops, Op{Kind: kind, Text: text})
}

// splitLines cuts text into lines with terminators attached, so that a join
// of all lines is the original text.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}
