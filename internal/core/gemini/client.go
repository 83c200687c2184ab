package gemini

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

// Bounded knowledge-text prefixes included in prompts. Screen analysis
// carries the larger grounding window; typed queries stay cheap.
const (
	screenKnowledgeLimit = 30000
	queryKnowledgeLimit  = 10000
	historyWindow        = 5
)

// Client runs one-shot analysis calls (screen stills and typed questions)
// against the hosted model.
type Client struct {
	c     *genai.Client
	model string
}

func New(apiKey, model string) (*Client, error) {
	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2: false,
		MaxIdleConns:      100,
		IdleConnTimeout:   90 * time.Second,
	}
	hc := &http.Client{Transport: tr, Timeout: 30 * time.Second}
	reqTimeout := 15 * time.Second
	cl, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: "v1",
			Timeout:    &reqTimeout,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Client{c: cl, model: model}, nil
}

// AnalyzeScreen extracts a question/answer pair from a screen still. An
// empty Question in the result means nothing interesting was found.
func (g *Client) AnalyzeScreen(ctx context.Context, jpegImage []byte, guidelines, knowledge string) (*types.ScreenResult, error) {
	var kb strings.Builder
	if knowledge != "" {
		kb.WriteString("(Use the following file content to ground your answers)\n")
		kb.WriteString(truncate(knowledge, screenKnowledgeLimit))
	} else {
		kb.WriteString("No additional context provided.")
	}
	prompt := fmt.Sprintf(`System Instruction: %s

Additional Context / Knowledge Base:
%s

Task:
Extract any question or problem visible in this image.
Provide a clear, concise answer.
Tailor the answer to the instruction and context provided above.
Return in JSON format.

IMPORTANT: ALL RESPONSES MUST BE IN ENGLISH.`, guidelines, kb.String())

	parts := []*genai.Part{
		{InlineData: &genai.Blob{Data: jpegImage, MIMEType: "image/jpeg"}},
		{Text: prompt},
	}

	temp := float32(0.2)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"question": {Type: genai.TypeString},
				"answer":   {Type: genai.TypeString},
			},
			Required: []string{"question", "answer"},
		},
		Temperature: &temp,
	}

	resp, err := g.callOnce(ctx, parts, cfg)
	if err != nil {
		return nil, err
	}
	res, ok := parseScreenResult(resp)
	if !ok {
		return nil, errors.New("gemini: unparseable analysis response")
	}
	return res, nil
}

// AnswerQuery answers a typed question using recent conversation history
// and the mode's knowledge text.
func (g *Client) AnswerQuery(ctx context.Context, question string, history []string, guidelines, knowledge string) (string, error) {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	contextHistory := strings.Join(history, "\n")
	if contextHistory == "" {
		contextHistory = "None"
	}
	kb := "None"
	if knowledge != "" {
		kb = truncate(knowledge, queryKnowledgeLimit)
	}
	prompt := fmt.Sprintf(`Mode: %s

Conversation History:
%s

Knowledge Base:
%s

User Query: %s

Task: Answer the query concisely based on the history and knowledge base provided.
Focus on being direct and extremely helpful.

IMPORTANT: ANSWER EXCLUSIVELY IN ENGLISH.`, guidelines, contextHistory, kb, question)

	resp, err := g.callOnce(ctx, []*genai.Part{{Text: prompt}}, nil)
	if err != nil {
		return "", err
	}
	if t := resp.Text(); t != "" {
		return strings.TrimSpace(t), nil
	}
	return "", errors.New("gemini: empty response")
}

func (g *Client) callOnce(ctx context.Context, parts []*genai.Part, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for i := 0; i < 3; i++ {
		resp, err := g.c.Models.GenerateContent(ctx, g.model, []*genai.Content{{Parts: parts}}, cfg)
		if err != nil {
			lastErr = err
			if retriable(err) {
				time.Sleep(time.Duration(300*(i+1)) * time.Millisecond)
				continue
			}
			return nil, err
		}
		return resp, nil
	}
	return nil, lastErr
}

func parseScreenResult(resp *genai.GenerateContentResponse) (*types.ScreenResult, bool) {
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.MIMEType == "application/json" {
				var out types.ScreenResult
				if json.Unmarshal(p.InlineData.Data, &out) == nil {
					return &out, true
				}
			}
			if p.Text != "" {
				var out types.ScreenResult
				if json.Unmarshal([]byte(p.Text), &out) == nil {
					return &out, true
				}
			}
		}
	}
	return nil, false
}

// truncate bounds s to a prefix of at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func retriable(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected EOF") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "RST_STREAM") ||
		strings.Contains(s, "connection reset")
}
