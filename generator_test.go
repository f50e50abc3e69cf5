package searchit

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeSynth returns canned output, used to exercise the generator's gates.
type fakeSynth struct {
	answer    string
	citations []Citation
	err       error
}

func (f fakeSynth) Synthesize(context.Context, string, []RetrievedChunk) (string, []Citation, error) {
	return f.answer, f.citations, f.err
}

func rc(chunkID, text string, rerank float64) RetrievedChunk {
	return RetrievedChunk{
		Chunk:       Chunk{DocID: "d", ChunkID: chunkID, Text: text},
		RerankScore: rerank,
	}
}

func TestGenerateNoResults(t *testing.T) {
	g := NewGenerator(StubSynthesizer{})
	resp := g.Generate(context.Background(), "what is X?", nil, true)

	if !resp.Abstained || resp.Reason != AbstainNoResults {
		t.Fatalf("got %+v, want abstention with no_results", resp)
	}
	if resp.Answer != "" || len(resp.Citations) != 0 {
		t.Errorf("abstention carries answer fields: %+v", resp)
	}
}

func TestGenerateLowCoverage(t *testing.T) {
	g := NewGenerator(StubSynthesizer{})
	contexts := []RetrievedChunk{rc("c1", "unrelated", 0.1)}

	resp := g.Generate(context.Background(), "what is X?", contexts, true)
	if !resp.Abstained || resp.Reason != AbstainLowCoverage {
		t.Fatalf("got %+v, want abstention with low_coverage", resp)
	}
}

func TestGenerateValidationFail(t *testing.T) {
	// The synthesizer cites a chunk absent from the contexts.
	synth := fakeSynth{
		answer:    "made up",
		citations: []Citation{{ChunkID: "chunk_99", Span: Span{0, 5}}},
	}
	g := NewGenerator(synth)
	contexts := []RetrievedChunk{
		rc("chunk_1", "relevant text one", 0.9),
		rc("chunk_2", "relevant text two", 0.8),
		rc("chunk_3", "relevant text three", 0.7),
	}

	resp := g.Generate(context.Background(), "what is X?", contexts, true)
	if !resp.Abstained || resp.Reason != AbstainValidationFail {
		t.Fatalf("got %+v, want abstention with validation_fail", resp)
	}
}

func TestGenerateUnvalidatedWhenGroundingOff(t *testing.T) {
	synth := fakeSynth{
		answer:    "unchecked",
		citations: []Citation{{ChunkID: "chunk_99", Span: Span{0, 5}}},
	}
	g := NewGenerator(synth)
	contexts := []RetrievedChunk{rc("chunk_1", "relevant", 0.9)}

	resp := g.Generate(context.Background(), "q", contexts, false)
	if resp.Abstained {
		t.Fatalf("got abstention %v, want answer with validation off", resp.Reason)
	}
}

func TestGenerateSynthesisErrorAbstains(t *testing.T) {
	g := NewGenerator(fakeSynth{err: errors.New("model down")})
	contexts := []RetrievedChunk{rc("c1", "relevant", 0.9)}

	resp := g.Generate(context.Background(), "q", contexts, true)
	if !resp.Abstained || resp.Reason != AbstainNoContext {
		t.Fatalf("got %+v, want abstention with no_context", resp)
	}
}

func TestGenerateBlankAnswerAbstains(t *testing.T) {
	g := NewGenerator(fakeSynth{answer: "   "})
	contexts := []RetrievedChunk{rc("c1", "relevant", 0.9)}

	resp := g.Generate(context.Background(), "q", contexts, true)
	if !resp.Abstained || resp.Reason != AbstainNoContext {
		t.Fatalf("got %+v, want abstention with no_context", resp)
	}
}

func TestGenerateEvidenceCoverage(t *testing.T) {
	tests := []struct {
		contexts int
		want     float64
	}{
		{1, 0.2},
		{3, 0.6},
		{5, 1.0},
		{8, 1.0}, // saturates
	}

	for _, tt := range tests {
		var contexts []RetrievedChunk
		for range tt.contexts {
			contexts = append(contexts, rc("c1", "some relevant text", 0.9))
		}
		g := NewGenerator(StubSynthesizer{})
		resp := g.Generate(context.Background(), "q", contexts, true)
		if resp.Abstained {
			t.Fatalf("contexts=%d: unexpected abstention %v", tt.contexts, resp.Reason)
		}
		if resp.EvidenceCoverage != tt.want {
			t.Errorf("contexts=%d: coverage = %v, want %v", tt.contexts, resp.EvidenceCoverage, tt.want)
		}
	}
}

func TestStubSynthesizerCitesRealChunks(t *testing.T) {
	contexts := []RetrievedChunk{
		rc("c1", strings.Repeat("a", 300), 0.9),
		rc("c2", "short", 0.8),
		rc("c3", "also short", 0.7),
		rc("c4", "never used", 0.6),
	}

	answer, citations, err := StubSynthesizer{}.Synthesize(context.Background(), "q", contexts)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(answer, "Based on the available information:") {
		t.Errorf("unexpected answer shape: %q", answer)
	}
	if len(citations) != 3 {
		t.Fatalf("citations = %d, want 3", len(citations))
	}
	// Every citation must validate against the contexts it came from.
	if err := ValidateCitations(citations, contexts, true); err != nil {
		t.Errorf("stub citations invalid: %v", err)
	}
	if citations[0] != (Citation{ChunkID: "c1", Span: Span{0, 200}}) {
		t.Errorf("long text citation = %+v", citations[0])
	}
	if citations[1] != (Citation{ChunkID: "c2", Span: Span{0, 5}}) {
		t.Errorf("short text citation = %+v", citations[1])
	}
}

func TestStubSynthesizerDeterministic(t *testing.T) {
	contexts := []RetrievedChunk{rc("c1", "stable text", 0.9)}

	a1, c1, _ := StubSynthesizer{}.Synthesize(context.Background(), "q", contexts)
	a2, c2, _ := StubSynthesizer{}.Synthesize(context.Background(), "q", contexts)
	if a1 != a2 || len(c1) != len(c2) {
		t.Error("stub output varies between identical calls")
	}
}

func TestStubSynthesizerSkipsEmptyText(t *testing.T) {
	contexts := []RetrievedChunk{
		rc("empty", "", 0.9),
		rc("c1", "real text", 0.8),
	}
	_, citations, err := StubSynthesizer{}.Synthesize(context.Background(), "q", contexts)
	if err != nil {
		t.Fatal(err)
	}
	if len(citations) != 1 || citations[0].ChunkID != "c1" {
		t.Errorf("citations = %+v, want only c1", citations)
	}
}
