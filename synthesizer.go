package searchit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// synthPrompt renders the grounding prompt shared by the model-backed
// synthesizers. Contexts are labeled by chunk id so the model can emit
// [chunk:<id>:<start>..<end>] markers.
func synthPrompt(question string, contexts []RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("Answer the question using ONLY the context passages below. ")
	b.WriteString("After every assertion, add a citation marker of the form [chunk:<id>:<start>..<end>] ")
	b.WriteString("referencing the passage and character span that supports it. ")
	b.WriteString("If the passages do not contain the answer, reply with an empty string.\n\n")
	for _, c := range contexts {
		fmt.Fprintf(&b, "Passage %s:\n%s\n\n", c.ChunkID, c.Text)
	}
	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}

// --- APISynthesizer ---

// APISynthesizer calls an OpenAI-compatible chat completions endpoint.
type APISynthesizer struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ Synthesizer = (*APISynthesizer)(nil)

// NewAPISynthesizer creates a synthesizer for an OpenAI-compatible API.
// endpoint is the base URL (without /chat/completions).
func NewAPISynthesizer(endpoint, apiKey, model string) *APISynthesizer {
	return &APISynthesizer{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Synthesize sends the grounding prompt and extracts citation markers from
// the completion.
func (s *APISynthesizer) Synthesize(ctx context.Context, question string, contexts []RetrievedChunk) (string, []Citation, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    s.model,
		Messages: []chatMessage{{Role: "user", Content: synthPrompt(question, contexts)}},
	})
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", nil, &ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", nil, fmt.Errorf("completion returned no choices")
	}

	answer := out.Choices[0].Message.Content
	return answer, ExtractCitations(answer), nil
}

// --- HFSynthesizer ---

// HFSynthesizer calls the Hugging Face Inference API for a hosted text
// generation model.
type HFSynthesizer struct {
	model      string
	token      string
	endpoint   string
	httpClient *http.Client
}

var _ Synthesizer = (*HFSynthesizer)(nil)

// NewHFSynthesizer creates a synthesizer for the given HF model. The token
// is required; callers should fall back to the stub when it is absent.
func NewHFSynthesizer(model, token string) *HFSynthesizer {
	return &HFSynthesizer{
		model:      model,
		token:      token,
		endpoint:   "https://api-inference.huggingface.co/models",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type hfRequest struct {
	Inputs string `json:"inputs"`
}

type hfResult struct {
	GeneratedText string `json:"generated_text"`
}

// Synthesize sends the grounding prompt to the hosted model.
func (s *HFSynthesizer) Synthesize(ctx context.Context, question string, contexts []RetrievedChunk) (string, []Citation, error) {
	payload, err := json.Marshal(hfRequest{Inputs: synthPrompt(question, contexts)})
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/"+s.model, bytes.NewReader(payload))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", nil, &ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var results []hfResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return "", nil, fmt.Errorf("decode generation: %w", err)
	}
	if len(results) == 0 {
		return "", nil, fmt.Errorf("generation returned no results")
	}

	answer := results[0].GeneratedText
	return answer, ExtractCitations(answer), nil
}
