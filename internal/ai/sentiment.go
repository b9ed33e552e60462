package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const sentimentInstruction = `You are a financial news analyst for the Pakistan Stock Exchange (PSX).
All prices are in Pakistani Rupees (PKR).
Rate the current news and market sentiment for the requested topic.
Respond with JSON only: {"score": <number between -1 and 1>, "summary": "<one sentence>"}.
Use 0 when there is no meaningful news.`

// Reading is a bounded sentiment score with a short explanation.
type Reading struct {
	Score   float64 `json:"score"`
	Summary string  `json:"summary"`
}

// Neutral is returned whenever no usable data exists.
var Neutral = Reading{Score: 0, Summary: "no data"}

// SentimentOracle scores topics through the Generator and caches readings.
type SentimentOracle struct {
	gen   Generator
	cache *cache.Cache
}

// NewSentimentOracle accepts a nil Generator, in which case every reading is neutral.
func NewSentimentOracle(gen Generator, ttl time.Duration) *SentimentOracle {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SentimentOracle{gen: gen, cache: cache.New(ttl, 2*ttl)}
}

// Score returns a reading in [-1, 1]. Missing or unparsable data is neutral.
// Only a failed call to the model is reported as an error, so callers can
// exclude the affected candidate.
func (o *SentimentOracle) Score(ctx context.Context, topic string) (Reading, error) {
	key := strings.ToUpper(strings.TrimSpace(topic))
	if key == "" || o == nil || o.gen == nil {
		return Neutral, nil
	}
	if v, ok := o.cache.Get(key); ok {
		return v.(Reading), nil
	}

	text, err := o.gen.Generate(ctx, sentimentInstruction, fmt.Sprintf("Topic: %s\nDate: %s", topic, time.Now().Format("2006-01-02")))
	if errors.Is(err, ErrNotConfigured) {
		return Neutral, nil
	}
	if err != nil {
		return Neutral, fmt.Errorf("sentiment for %s: %w", topic, err)
	}

	r, ok := parseReading(text)
	if !ok {
		log.Printf("WARN: unparsable sentiment for %s, treating as neutral: %.120s", topic, text)
		r = Neutral
	}
	o.cache.Set(key, r, cache.DefaultExpiration)
	return r, nil
}

func parseReading(text string) (Reading, bool) {
	var raw struct {
		Score   *float64 `json:"score"`
		Summary string   `json:"summary"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &raw); err != nil || raw.Score == nil {
		return Reading{}, false
	}
	s := *raw.Score
	if s < -1 {
		s = -1
	}
	if s > 1 {
		s = 1
	}
	return Reading{Score: s, Summary: raw.Summary}, true
}
