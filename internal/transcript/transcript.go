// Package transcript implements the row-oriented transcript wire format:
// one segment per line, four tab-separated fields in the order
// speaker, gender, mood, text. The format carries no escaping, so a tab
// or newline inside the text field is not representable.
package transcript

import (
	"fmt"
	"strings"
)

// NarratorSpeaker is the reserved identity for non-dialogue narration.
const NarratorSpeaker = "narrator"

// Recognized gender labels. Anything else resolves as GenderUnknown.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderUnknown = "unknown"
)

const fieldCount = 4

// Segment is one attributable span of text, in source order.
type Segment struct {
	Speaker string
	Gender  string
	Mood    string
	Text    string
}

// RowError reports a malformed transcript row. It is row-local: the
// remaining rows still decode.
type RowError struct {
	Line   int
	Fields int
}

func (e *RowError) Error() string {
	return fmt.Sprintf("transcript row %d: expected %d tab-separated fields, got %d", e.Line, fieldCount, e.Fields)
}

// Decode parses raw transcript text into ordered segments. Rows with a
// wrong field count are skipped and reported in the returned error list;
// rows whose text is empty after trimming are silently dropped. Decode is
// a pure function of its input.
func Decode(raw string) ([]Segment, []*RowError) {
	var segments []Segment
	var rowErrs []*RowError

	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != fieldCount {
			rowErrs = append(rowErrs, &RowError{Line: i + 1, Fields: len(fields)})
			continue
		}
		text := strings.TrimSpace(fields[3])
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Speaker: fields[0],
			Gender:  fields[1],
			Mood:    fields[2],
			Text:    text,
		})
	}
	return segments, rowErrs
}

// Encode renders segments back into the wire format. Segments whose text
// contains a tab or newline are rejected because the format cannot carry
// them.
func Encode(segments []Segment) (string, error) {
	var b strings.Builder
	for i, seg := range segments {
		for _, field := range []string{seg.Speaker, seg.Gender, seg.Mood, seg.Text} {
			if strings.ContainsAny(field, "\t\n") {
				return "", fmt.Errorf("segment %d: field contains tab or newline, not representable", i)
			}
		}
		b.WriteString(seg.Speaker)
		b.WriteByte('\t')
		b.WriteString(seg.Gender)
		b.WriteByte('\t')
		b.WriteString(seg.Mood)
		b.WriteByte('\t')
		b.WriteString(seg.Text)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// NormalizeGender maps arbitrary gender labels onto the recognized set.
func NormalizeGender(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case GenderMale:
		return GenderMale
	case GenderFemale:
		return GenderFemale
	default:
		return GenderUnknown
	}
}
