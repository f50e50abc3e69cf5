package searchit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// citationMarker matches inline citation markers of the form
// [chunk:<chunk_id>:<start>..<end>].
var citationMarker = regexp.MustCompile(`\[chunk:([^:\]\s]+):(\d+)\.\.(\d+)\]`)

// ExtractCitations pulls citation markers out of generated text, in order of
// appearance. Markers with malformed spans are skipped.
func ExtractCitations(text string) []Citation {
	var cits []Citation
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		start, err1 := strconv.Atoi(m[2])
		end, err2 := strconv.Atoi(m[3])
		if err1 != nil || err2 != nil {
			continue
		}
		cits = append(cits, Citation{ChunkID: m[1], Span: Span{Start: start, End: end}})
	}
	return cits
}

// StripCitationMarkers removes inline markers, leaving the prose.
func StripCitationMarkers(text string) string {
	return strings.TrimSpace(citationMarker.ReplaceAllString(text, ""))
}

// DedupCitations removes exact duplicates, preserving first-seen order.
func DedupCitations(cits []Citation) []Citation {
	seen := make(map[Citation]struct{}, len(cits))
	out := cits[:0:0]
	for _, c := range cits {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// FormatCitations renders citations for display: "[1] id:0-200; [2] ...".
func FormatCitations(cits []Citation) string {
	if len(cits) == 0 {
		return ""
	}
	parts := make([]string, len(cits))
	for i, c := range cits {
		parts[i] = fmt.Sprintf("[%d] %s:%d-%d", i+1, c.ChunkID, c.Span.Start, c.Span.End)
	}
	return strings.Join(parts, "; ")
}

// ValidateCitations checks that every citation references a chunk present in
// contexts and that its span lies within that chunk's text
// (0 <= start < end <= len(text)). When requireOne is set, an empty citation
// list is itself a violation. Returns the first violation found.
func ValidateCitations(cits []Citation, contexts []RetrievedChunk, requireOne bool) error {
	if requireOne && len(cits) == 0 {
		return fmt.Errorf("no citations present")
	}
	byID := make(map[string]string, len(contexts))
	for _, c := range contexts {
		byID[c.ChunkID] = c.Text
	}
	for _, cit := range cits {
		text, ok := byID[cit.ChunkID]
		if !ok {
			return fmt.Errorf("citation references unknown chunk %q", cit.ChunkID)
		}
		if cit.Span.Start < 0 || cit.Span.Start >= cit.Span.End || cit.Span.End > len(text) {
			return fmt.Errorf("citation %s span [%d,%d) out of bounds for text of length %d",
				cit.ChunkID, cit.Span.Start, cit.Span.End, len(text))
		}
	}
	return nil
}
