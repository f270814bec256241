package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/bdobrica/luna/internal/luna/journal"
)

const (
	defaultInferenceBase  = "https://api-inference.huggingface.co/models"
	defaultSentimentModel = "cardiffnlp/twitter-roberta-base-sentiment-latest"
	defaultThemeModel     = "facebook/bart-large-mnli"
	defaultTimeout        = 30 * time.Second

	// themeScoreFloor drops zero-shot labels the model is not confident about.
	themeScoreFloor = 0.3

	// maxThemesPerTurn bounds the ranked theme list for a single exchange.
	maxThemesPerTurn = 3
)

// DefaultThemeLabels are the candidate labels handed to the zero-shot model.
var DefaultThemeLabels = []string{
	"Work & Career",
	"Relationships & Social",
	"Health & Wellness",
	"Personal Growth",
	"Creativity & Hobbies",
	"Emotions & Mental Health",
	"Daily Life & Routine",
	"Nature & Outdoors",
}

// HuggingFaceConfig configures the hosted-inference classifier.
type HuggingFaceConfig struct {
	// APIKey is the bearer token for the inference API.
	APIKey string

	// BaseURL overrides the inference endpoint. Defaults to the hosted
	// Hugging Face inference API.
	BaseURL string

	// SentimentModel overrides the sentiment model ID.
	SentimentModel string

	// ThemeModel overrides the zero-shot classification model ID.
	ThemeModel string

	// ThemeLabels are the candidate theme labels. Defaults to the eight
	// journaling themes.
	ThemeLabels []string

	// Timeout is the per-request HTTP timeout. Defaults to 30 s.
	Timeout time.Duration
}

// HuggingFace implements Classifier on top of two hosted models: a sentiment
// classifier and a multi-label zero-shot theme classifier. It is safe for
// concurrent use.
type HuggingFace struct {
	cfg    HuggingFaceConfig
	client *http.Client
}

// NewHuggingFace creates a classifier backed by the hosted inference API.
func NewHuggingFace(cfg HuggingFaceConfig) *HuggingFace {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultInferenceBase
	}
	if cfg.SentimentModel == "" {
		cfg.SentimentModel = defaultSentimentModel
	}
	if cfg.ThemeModel == "" {
		cfg.ThemeModel = defaultThemeModel
	}
	if len(cfg.ThemeLabels) == 0 {
		cfg.ThemeLabels = DefaultThemeLabels
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &HuggingFace{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- wire types (subset of the inference API) ---

type sentimentRequest struct {
	Inputs string `json:"inputs"`
}

type sentimentScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type zeroShotRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters zeroShotParameters `json:"parameters"`
}

type zeroShotParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
	MultiLabel      bool     `json:"multi_label"`
}

type zeroShotResponse struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

type inferenceError struct {
	Error string `json:"error"`
}

// Classify runs sentiment analysis and zero-shot theme classification on the
// text and combines both into a Classification. The sentiment call is
// authoritative: if it fails the whole classification fails. A theme-model
// failure only drops the theme list; sentiment alone is still worth merging.
func (h *HuggingFace) Classify(ctx context.Context, text string) (*journal.Classification, error) {
	label, score, err := h.sentiment(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("classify: sentiment: %w", err)
	}

	themes, err := h.themes(ctx, text)
	if err != nil {
		// Degrade to sentiment-only rather than losing the classification.
		themes = nil
	}

	return &journal.Classification{
		Sentiment: journal.ParseSentiment(label),
		Score:     score,
		Themes:    themes,
	}, nil
}

// sentiment returns the top-scoring sentiment label for the text.
func (h *HuggingFace) sentiment(ctx context.Context, text string) (string, float64, error) {
	body, err := h.post(ctx, h.cfg.SentimentModel, sentimentRequest{Inputs: text})
	if err != nil {
		return "", 0, err
	}

	// The API nests results one level per input; a single input yields [[...]].
	var nested [][]sentimentScore
	if err := json.Unmarshal(body, &nested); err != nil {
		var flat []sentimentScore
		if err2 := json.Unmarshal(body, &flat); err2 != nil {
			return "", 0, fmt.Errorf("decode sentiment response: %w", err)
		}
		nested = [][]sentimentScore{flat}
	}
	if len(nested) == 0 || len(nested[0]) == 0 {
		return "", 0, fmt.Errorf("empty sentiment response")
	}

	scores := nested[0]
	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	return scores[0].Label, scores[0].Score, nil
}

// themes runs multi-label zero-shot classification and keeps the labels
// scoring above the confidence floor, at most maxThemesPerTurn of them.
func (h *HuggingFace) themes(ctx context.Context, text string) ([]journal.Theme, error) {
	body, err := h.post(ctx, h.cfg.ThemeModel, zeroShotRequest{
		Inputs: text,
		Parameters: zeroShotParameters{
			CandidateLabels: h.cfg.ThemeLabels,
			MultiLabel:      true,
		},
	})
	if err != nil {
		return nil, err
	}

	var resp zeroShotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode zero-shot response: %w", err)
	}
	if len(resp.Labels) != len(resp.Scores) {
		return nil, fmt.Errorf("zero-shot response has %d labels but %d scores",
			len(resp.Labels), len(resp.Scores))
	}

	// Labels arrive ranked by score already.
	var themes []journal.Theme
	for i, label := range resp.Labels {
		if resp.Scores[i] <= themeScoreFloor {
			continue
		}
		themes = append(themes, journal.Theme{Label: label, Score: resp.Scores[i]})
		if len(themes) == maxThemesPerTurn {
			break
		}
	}
	return themes, nil
}

// post sends one inference request and returns the raw response body.
func (h *HuggingFace) post(ctx context.Context, model string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.cfg.BaseURL+"/"+model,
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var ie inferenceError
		if json.Unmarshal(body, &ie) == nil && ie.Error != "" {
			return nil, fmt.Errorf("inference API %s: HTTP %d: %s", model, resp.StatusCode, ie.Error)
		}
		return nil, fmt.Errorf("inference API %s: HTTP %d", model, resp.StatusCode)
	}

	return body, nil
}

// Compile-time interface satisfaction check.
var _ Classifier = (*HuggingFace)(nil)
