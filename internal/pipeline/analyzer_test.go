package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnalyzer_Analyze_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/moderate":
			json.NewEncoder(w).Encode(moderateResponse{Flagged: true, Reasons: []string{"spam"}, Confidence: 0.9})
		case "/sentiment":
			json.NewEncoder(w).Encode(sentimentResponse{Sentiment: "negative", Confidence: 0.8})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := NewAnalyzer(srv.URL)
	got := a.Analyze(context.Background(), "m1", "some text")

	if got.Sentiment != "negative" || !got.Flagged {
		t.Errorf("Analyze() = %+v, want sentiment=negative flagged=true", got)
	}
	if len(got.Reasons) != 1 || got.Reasons[0] != "spam" {
		t.Errorf("Analyze().Reasons = %v, want [spam]", got.Reasons)
	}
}

func TestAnalyzer_Analyze_FailureFallsBackToDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewAnalyzer(srv.URL)
	got := a.Analyze(context.Background(), "m1", "some text")

	if got.Sentiment != DefaultVerdict.Sentiment || got.Flagged != DefaultVerdict.Flagged {
		t.Errorf("Analyze() on failure = %+v, want %+v", got, DefaultVerdict)
	}
}

func TestAnalyzer_Analyze_SentimentFailureFallsBackToDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moderate" {
			json.NewEncoder(w).Encode(moderateResponse{Flagged: false})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAnalyzer(srv.URL)
	got := a.Analyze(context.Background(), "m1", "text")
	if got.Sentiment != DefaultVerdict.Sentiment {
		t.Errorf("Analyze() = %+v, want default verdict on partial failure", got)
	}
}
