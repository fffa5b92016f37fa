package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBank(t *testing.T) *questionBank {
	t.Helper()

	bank, err := newQuestionBank()
	require.NoError(t, err)
	require.NotEmpty(t, bank.questions)

	return bank
}

func TestQuestionBankFiltering(t *testing.T) {
	bank := testBank(t)
	ctx := context.Background()

	q, err := bank.Next(ctx, "fr", []string{"Géographie"}, []string{"Facile"})
	require.NoError(t, err)
	assert.Equal(t, "Géographie", q.Category)
	assert.Equal(t, "Facile", q.Difficulty)
	assert.Equal(t, "fr", q.Language)

	// Filters are case-insensitive.
	_, err = bank.Next(ctx, "FR", []string{"géographie"}, []string{"facile"})
	assert.NoError(t, err)

	// An empty match set is reported, never fabricated.
	_, err = bank.Next(ctx, "fr", []string{"Astrologie"}, []string{"Facile"})
	assert.ErrorIs(t, err, errNoQuestion)

	_, err = bank.Next(ctx, "de", []string{"Science"}, []string{"Facile"})
	assert.ErrorIs(t, err, errNoQuestion)
}

func TestQuestionBankChoiceQuestionsListTheirAnswer(t *testing.T) {
	bank := testBank(t)

	for _, q := range bank.questions {
		if q.Kind != questionKindChoice {
			continue
		}
		assert.Contains(t, q.Choices, q.Answer, "question %q", q.Text)
	}
}

func TestShuffledChoicesKeepCanonicalAnswer(t *testing.T) {
	q := &Question{
		Text:    "Quelle est la capitale de la France ?",
		Kind:    questionKindChoice,
		Choices: []string{"Paris", "Lyon", "Marseille", "Bordeaux"},
		Answer:  "Paris",
	}

	for i := 0; i < 20; i++ {
		shuffled := q.shuffledChoices()
		assert.Len(t, shuffled, len(q.Choices))
		assert.Contains(t, shuffled, q.Answer)
	}

	// The canonical order never moves, no matter how often we shuffle.
	assert.Equal(t, []string{"Paris", "Lyon", "Marseille", "Bordeaux"}, q.Choices)
}

func TestShuffledChoicesEmptyForFreeText(t *testing.T) {
	q := &Question{Text: "Qui ?", Kind: questionKindFreeText, Answer: "Canberra"}
	assert.Nil(t, q.shuffledChoices())
}

func lmTestServer(t *testing.T, content string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestLMSourceParsesFencedJSON(t *testing.T) {
	srv := lmTestServer(t, "```json\n"+
		`{"question":"Quelle est la capitale de la France ?","type":"qcm","choices":["Paris","Lyon"],"answer":"Paris"}`+
		"\n```")

	cfg := &Config{llmURL: srv.URL, llmModel: "test-model", llmTimeout: 5 * time.Second}
	source := newLMSource(cfg)

	q, err := source.Next(context.Background(), "fr", []string{"Géographie"}, []string{"Facile"})
	require.NoError(t, err)
	assert.Equal(t, questionKindChoice, q.Kind)
	assert.Equal(t, "Paris", q.Answer)
	assert.Contains(t, q.Choices, "Paris")
	assert.Equal(t, "Géographie", q.Category)
	assert.Equal(t, "Facile", q.Difficulty)
}

func TestLMSourceAppendsMissingAnswerChoice(t *testing.T) {
	srv := lmTestServer(t, `{"question":"2+2 ?","type":"qcm","choices":["3","5"],"answer":"4"}`)

	cfg := &Config{llmURL: srv.URL, llmModel: "test-model", llmTimeout: 5 * time.Second}
	source := newLMSource(cfg)

	q, err := source.Next(context.Background(), "fr", []string{"Général"}, []string{"Facile"})
	require.NoError(t, err)
	assert.Contains(t, q.Choices, "4")
}

func TestLMSourceFreeTextQuestion(t *testing.T) {
	srv := lmTestServer(t, `{"question":"Capitale de l'Australie ?","type":"text","choices":[],"answer":"Canberra"}`)

	cfg := &Config{llmURL: srv.URL, llmModel: "test-model", llmTimeout: 5 * time.Second}
	source := newLMSource(cfg)

	q, err := source.Next(context.Background(), "fr", []string{"Géographie"}, []string{"Difficile"})
	require.NoError(t, err)
	assert.Equal(t, questionKindFreeText, q.Kind)
	assert.Empty(t, q.Choices)
}

func TestLMSourceRejectsIncompleteQuestion(t *testing.T) {
	srv := lmTestServer(t, `{"question":"","type":"text","answer":""}`)

	cfg := &Config{llmURL: srv.URL, llmModel: "test-model", llmTimeout: 5 * time.Second}
	source := newLMSource(cfg)

	_, err := source.Next(context.Background(), "fr", []string{"Général"}, []string{"Facile"})
	assert.Error(t, err)
}

func TestFallbackSourceUsesBankOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cfg := &Config{llmURL: srv.URL, llmModel: "test-model", llmTimeout: 5 * time.Second}
	source, err := newQuestionSource(cfg)
	require.NoError(t, err)

	q, err := source.Next(context.Background(), "fr", []string{"Science"}, []string{"Facile"})
	require.NoError(t, err)
	assert.Equal(t, "Science", q.Category)
}

func TestNewQuestionSourceWithoutLLMIsBankOnly(t *testing.T) {
	source, err := newQuestionSource(&Config{})
	require.NoError(t, err)

	_, ok := source.(*questionBank)
	assert.True(t, ok)
}
