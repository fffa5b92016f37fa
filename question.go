package main

import (
	"bytes"
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

const (
	questionKindChoice   = "choice"
	questionKindFreeText = "free-text"
)

// errNoQuestion signals that no question matches the requested filters.
// Callers must treat it as a stall condition, never as fatal.
var errNoQuestion = errors.New("no question matches the requested filters")

// Question is the canonical record handed out by a QuestionSource. Choices
// keep their canonical order; display shuffling happens on a copy, so answer
// checks always compare against the unshuffled Answer string.
type Question struct {
	Text        string   `json:"text"`
	Kind        string   `json:"kind"`
	Choices     []string `json:"choices,omitempty"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
	SourceRef   string   `json:"source,omitempty"`
	Language    string   `json:"language"`
	Category    string   `json:"category"`
	Difficulty  string   `json:"difficulty"`
}

// shuffledChoices returns a fresh random permutation of the display copy.
// The canonical answer is always one of the returned elements.
func (q *Question) shuffledChoices() []string {
	if len(q.Choices) == 0 {
		return nil
	}

	out := make([]string, len(q.Choices))
	copy(out, q.Choices)

	// Fisher-Yates shuffle using crypto/rand
	for i := len(out) - 1; i > 0; i-- {
		j := randomIndex(i + 1)
		out[i], out[j] = out[j], out[i]
	}

	return out
}

func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return int(binary.BigEndian.Uint16(b[:])) % n
}

// QuestionSource supplies one question matching a language, a category set,
// and a difficulty set, or errNoQuestion when nothing matches.
type QuestionSource interface {
	Next(ctx context.Context, language string, categories, difficulties []string) (*Question, error)
}

//go:embed assets/questions.json
var bankData []byte

// questionBank serves questions from the embedded static dataset.
type questionBank struct {
	questions []Question
}

func newQuestionBank() (*questionBank, error) {
	var questions []Question
	if err := json.Unmarshal(bankData, &questions); err != nil {
		return nil, fmt.Errorf("parsing embedded question bank: %w", err)
	}

	for i := range questions {
		q := &questions[i]
		if q.Text == "" || q.Answer == "" {
			return nil, fmt.Errorf("embedded question %d is missing text or answer", i)
		}
		if q.Kind == questionKindChoice && !slices.Contains(q.Choices, q.Answer) {
			return nil, fmt.Errorf("embedded question %d does not list its own answer", i)
		}
	}

	return &questionBank{questions: questions}, nil
}

func (b *questionBank) Next(_ context.Context, language string, categories, difficulties []string) (*Question, error) {
	matches := make([]*Question, 0, len(b.questions))

	for i := range b.questions {
		q := &b.questions[i]
		if !strings.EqualFold(q.Language, language) {
			continue
		}
		if !containsFold(categories, q.Category) {
			continue
		}
		if !containsFold(difficulties, q.Difficulty) {
			continue
		}
		matches = append(matches, q)
	}

	if len(matches) == 0 {
		return nil, errNoQuestion
	}

	picked := *matches[randomIndex(len(matches))]
	return &picked, nil
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// lmSource generates questions through an OpenAI-compatible chat completions
// endpoint, such as a local LM Studio instance.
type lmSource struct {
	cfg    *Config
	url    string
	model  string
	client *http.Client
}

func newLMSource(cfg *Config) *lmSource {
	return &lmSource{
		cfg:   cfg,
		url:   cfg.llmURL,
		model: cfg.llmModel,
		client: &http.Client{
			Timeout: cfg.llmTimeout,
		},
	}
}

const lmPrompt = `Tu es un générateur de questions pour un jeu.

Catégorie : %s
Difficulté : %s

Règles :
- Une seule question
- Langue : %s
- Si difficulté = Facile ou Moyen → QCM
- Si difficulté = Difficile → réponse libre
- Pas d'explications
- Pas de texte autour du JSON

Réponds STRICTEMENT au format JSON suivant :

{
  "question": "string",
  "type": "qcm" ou "text",
  "choices": ["string"],
  "answer": "string"
}`

type lmRequest struct {
	Model       string      `json:"model"`
	Messages    []lmMessage `json:"messages"`
	Temperature float64     `json:"temperature"`
}

type lmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type lmResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type lmQuestion struct {
	Question string   `json:"question"`
	Type     string   `json:"type"`
	Choices  []string `json:"choices"`
	Answer   string   `json:"answer"`
}

func (s *lmSource) Next(ctx context.Context, language string, categories, difficulties []string) (*Question, error) {
	if len(categories) == 0 || len(difficulties) == 0 {
		return nil, errNoQuestion
	}

	category := categories[randomIndex(len(categories))]
	difficulty := difficulties[randomIndex(len(difficulties))]

	payload, err := json.Marshal(lmRequest{
		Model: s.model,
		Messages: []lmMessage{
			{Role: "system", Content: "Tu es un assistant de jeu qui génère des questions."},
			{Role: "user", Content: fmt.Sprintf(lmPrompt, category, difficulty, language)},
		},
		Temperature: 0.8,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("question generation returned status %d", resp.StatusCode)
	}

	var decoded lmResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("question generation returned no completion")
	}

	// Models occasionally wrap the JSON in code fences; strip them.
	content := decoded.Choices[0].Message.Content
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	content = strings.TrimSpace(content)

	var parsed lmQuestion
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("question generation returned malformed JSON: %w", err)
	}
	if parsed.Question == "" || parsed.Answer == "" {
		return nil, errors.New("question generation returned an incomplete question")
	}

	q := &Question{
		Text:       parsed.Question,
		Kind:       questionKindFreeText,
		Answer:     parsed.Answer,
		Language:   language,
		Category:   category,
		Difficulty: difficulty,
	}

	if parsed.Type == "qcm" {
		q.Kind = questionKindChoice
		q.Choices = parsed.Choices
		if !slices.Contains(q.Choices, q.Answer) {
			q.Choices = append(q.Choices, q.Answer)
		}
		if len(q.Choices) < 2 {
			return nil, errors.New("question generation returned too few choices")
		}
	}

	return q, nil
}

// fallbackSource tries a primary source and falls back to a secondary one
// when the primary fails or comes up empty.
type fallbackSource struct {
	cfg       *Config
	primary   QuestionSource
	secondary QuestionSource
}

func (f *fallbackSource) Next(ctx context.Context, language string, categories, difficulties []string) (*Question, error) {
	q, err := f.primary.Next(ctx, language, categories, difficulties)
	if err == nil {
		return q, nil
	}

	logf(f.cfg, "QUESTIONS: generation failed, falling back to question bank: %v", err)

	return f.secondary.Next(ctx, language, categories, difficulties)
}

func newQuestionSource(cfg *Config) (QuestionSource, error) {
	bank, err := newQuestionBank()
	if err != nil {
		return nil, err
	}

	if cfg.llmURL == "" {
		return bank, nil
	}

	return &fallbackSource{
		cfg:       cfg,
		primary:   newLMSource(cfg),
		secondary: bank,
	}, nil
}

// questionDeadline bounds a single QuestionSource call so a hung upstream
// can never pin a room's fetch goroutine forever.
func questionDeadline(cfg *Config) time.Duration {
	if cfg.llmURL != "" {
		return cfg.llmTimeout + 5*time.Second
	}
	return 5 * time.Second
}
