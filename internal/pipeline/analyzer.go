// Package pipeline implements the two-stage moderation pipeline (C8):
// an inbound handler that calls the external analyzer and produces a
// moderated verdict, and a moderated handler that persists the verdict
// and signals the gateway to fan it out.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"chatroom/internal/metrics"
)

const analyzerTimeout = 5 * time.Second

// DefaultVerdict is produced whenever the analyzer is unavailable or
// errors, per §4.8's failure policy: the pipeline always advances.
var DefaultVerdict = Verdict{
	Sentiment:  "neutral",
	Flagged:    false,
	Reasons:    []string{},
	Confidence: ConfidenceScores{Sentiment: 0.5, Flagged: 0.5},
}

type ConfidenceScores struct {
	Sentiment float64 `json:"sentiment"`
	Flagged   float64 `json:"flagged"`
}

type Verdict struct {
	Sentiment  string           `json:"sentiment"`
	Flagged    bool             `json:"flagged"`
	Reasons    []string         `json:"reasons"`
	Confidence ConfidenceScores `json:"confidence"`
}

type moderateResponse struct {
	Flagged    bool     `json:"flagged"`
	Reasons    []string `json:"reasons"`
	Confidence float64  `json:"confidence"`
}

type sentimentResponse struct {
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

// Analyzer calls the external FastAPI-shaped moderation/sentiment
// service, wrapped in a circuit breaker grounded on
// ncobase-ncore/extension/manager/http.go's registerExtensionRoutes
// Settings (trip after ≥3 requests with ≥60% failure in the rolling
// window; a 3s open-state timeout before probing half-open again).
type Analyzer struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewAnalyzer(baseURL string) *Analyzer {
	return &Analyzer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: analyzerTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "analyzer",
			MaxRequests: 5,
			Interval:    10 * time.Second,
			Timeout:     3 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}),
	}
}

// Analyze calls /moderate then /sentiment for text/messageID, falling
// back to DefaultVerdict on any failure (breaker-open, timeout, or
// non-2xx response) so the pipeline never stalls on an analyzer outage.
func (a *Analyzer) Analyze(ctx context.Context, messageID, text string) Verdict {
	ctx, cancel := context.WithTimeout(ctx, analyzerTimeout)
	defer cancel()

	mod, err := a.moderate(ctx, messageID, text)
	if err != nil {
		metrics.AnalyzerFailuresTotal.Inc()
		return DefaultVerdict
	}
	sent, err := a.sentiment(ctx, messageID, text)
	if err != nil {
		metrics.AnalyzerFailuresTotal.Inc()
		return DefaultVerdict
	}

	return Verdict{
		Sentiment: sent.Sentiment,
		Flagged:   mod.Flagged,
		Reasons:   mod.Reasons,
		Confidence: ConfidenceScores{
			Sentiment: sent.Confidence,
			Flagged:   mod.Confidence,
		},
	}
}

func (a *Analyzer) moderate(ctx context.Context, messageID, text string) (moderateResponse, error) {
	var out moderateResponse
	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.post(ctx, "/moderate", map[string]string{"text": text, "messageId": messageID})
	})
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(result.([]byte), &out)
}

func (a *Analyzer) sentiment(ctx context.Context, messageID, text string) (sentimentResponse, error) {
	var out sentimentResponse
	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.post(ctx, "/sentiment", map[string]string{"text": text, "messageId": messageID})
	})
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(result.([]byte), &out)
}

func (a *Analyzer) post(ctx context.Context, path string, body map[string]string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pipeline: analyzer %s returned %d", path, resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
