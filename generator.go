package searchit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/searchit/searchit/metrics"
)

// DefaultCoverageThreshold is the minimum top rerank score required before
// the generator attempts synthesis.
const DefaultCoverageThreshold = 0.3

// DefaultEvidenceK is the context count at which evidence_coverage saturates
// at 1.0.
const DefaultEvidenceK = 5

// stubPrefixLen bounds the per-context excerpt used by the stub synthesizer.
const stubPrefixLen = 200

// Synthesizer produces an answer from the supplied contexts only. The
// answer's assertions must be backed by citations into those contexts.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, contexts []RetrievedChunk) (answer string, citations []Citation, err error)
}

// Generator gates a Synthesizer with a pre-generation coverage check and a
// post-generation citation-validity check, abstaining instead of answering
// when evidence is insufficient. Abstentions are first-class responses, not
// errors. The abstain counter is incremented exactly once per request.
type Generator struct {
	synth             Synthesizer
	coverageThreshold float64
	evidenceK         int
	logger            *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithCoverageThreshold overrides the coverage gate threshold (default 0.3).
func WithCoverageThreshold(t float64) GeneratorOption {
	return func(g *Generator) { g.coverageThreshold = t }
}

// WithEvidenceK overrides the evidence_coverage saturation count (default 5).
func WithEvidenceK(k int) GeneratorOption {
	return func(g *Generator) {
		if k > 0 {
			g.evidenceK = k
		}
	}
}

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGenerator wraps synth with the coverage and citation gates.
func NewGenerator(synth Synthesizer, opts ...GeneratorOption) *Generator {
	g := &Generator{
		synth:             synth,
		coverageThreshold: DefaultCoverageThreshold,
		evidenceK:         DefaultEvidenceK,
		logger:            slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate produces a grounded AskResponse from contexts, or an abstention
// with one of the reasons no_results, low_coverage, no_context,
// validation_fail.
func (g *Generator) Generate(ctx context.Context, question string, contexts []RetrievedChunk, forceCitations bool) AskResponse {
	if len(contexts) == 0 {
		return g.abstain(AbstainNoResults)
	}

	maxScore := 0.0
	for _, c := range contexts {
		if c.RerankScore > maxScore {
			maxScore = c.RerankScore
		}
	}
	if maxScore < g.coverageThreshold {
		g.logger.Info("coverage below threshold, abstaining",
			"max_rerank", maxScore, "threshold", g.coverageThreshold)
		return g.abstain(AbstainLowCoverage)
	}

	start := time.Now()
	answer, citations, err := g.synth.Synthesize(ctx, question, contexts)
	metrics.StageLatency.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		g.logger.Warn("synthesis failed, abstaining", "error", err)
		return g.abstain(AbstainNoContext)
	}
	if strings.TrimSpace(answer) == "" {
		return g.abstain(AbstainNoContext)
	}

	citations = DedupCitations(citations)
	if forceCitations {
		if err := ValidateCitations(citations, contexts, true); err != nil {
			g.logger.Warn("citation validation failed, abstaining", "error", err)
			return g.abstain(AbstainValidationFail)
		}
	}

	coverage := float64(len(contexts)) / float64(g.evidenceK)
	if coverage > 1 {
		coverage = 1
	}
	return Answered(answer, citations, coverage)
}

func (g *Generator) abstain(reason AbstainReason) AskResponse {
	metrics.AbstainTotal.WithLabelValues(string(reason)).Inc()
	return Abstained(reason)
}

// --- StubSynthesizer ---

// StubSynthesizer is the deterministic dev/test synthesizer: it concatenates
// truncated prefixes of the top three contexts and cites each prefix with
// the context's real chunk id. No clocks, no randomness.
type StubSynthesizer struct{}

var _ Synthesizer = (*StubSynthesizer)(nil)

// Synthesize builds the templated answer and one citation per used context.
func (StubSynthesizer) Synthesize(_ context.Context, _ string, contexts []RetrievedChunk) (string, []Citation, error) {
	var parts []string
	var citations []Citation

	for _, c := range contexts {
		if len(parts) == 3 {
			break
		}
		if c.Text == "" {
			continue
		}
		excerpt := c.Text
		if len(excerpt) > stubPrefixLen {
			excerpt = excerpt[:stubPrefixLen] + "..."
		}
		parts = append(parts, fmt.Sprintf("Based on the available information: %s", excerpt))
		citations = append(citations, Citation{
			ChunkID: c.ChunkID,
			Span:    Span{Start: 0, End: min(len(c.Text), stubPrefixLen)},
		})
	}

	if len(parts) == 0 {
		return "", nil, nil
	}
	return strings.Join(parts, " "), citations, nil
}
