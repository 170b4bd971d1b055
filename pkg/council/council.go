package council

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/gateway"
	"github.com/zen-systems/quorum/pkg/structured"
)

// Review is one reviewer's anonymized verdict. When the reviewer's
// output cannot be parsed, Raw holds the text and Ranking stays empty.
type Review struct {
	Ranking   []string `json:"ranking"`
	Rationale string   `json:"rationale"`
	Raw       string   `json:"raw,omitempty"`
}

// AggregateRank is the average rank position of one label across all
// parsed reviews (1 is best).
type AggregateRank struct {
	Label       string  `json:"label"`
	AverageRank float64 `json:"average_rank"`
	Rankings    int     `json:"rankings"`
}

// Response is the consensus answer with traceable provenance.
type Response struct {
	FinalAnswer       string
	Confidence        float64
	Opinions          map[string]string // model id -> opinion text
	Rankings          map[string]Review // reviewer model id -> review
	AggregateRankings []AggregateRank
	LabelToModel      map[string]string
	SynthesisSource   string // "chairman:<model>", "fallback:<model>" or "none"
}

// Rejected reports an explicit council rejection of the proposed trade.
func (r *Response) Rejected() bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(r.FinalAnswer)), "REJECT")
}

// Config tunes one council.
type Config struct {
	Members              []string
	Chairman             string
	OpinionTemperature   float64
	ReviewTemperature    float64
	SynthesisTemperature float64
	StaggerDelay         time.Duration
	MaxTokens            int
	Timeout              time.Duration
}

// Council runs the three-stage opinion, anonymized peer review and
// chairman synthesis protocol. It never raises on partial failure; only
// an empty Stage 1 produces the fixed no-responses result.
type Council struct {
	gw  *gateway.Gateway
	cfg Config
	log zerolog.Logger
}

// New creates a Council. The chairman defaults to the first member.
func New(gw *gateway.Gateway, cfg Config, log zerolog.Logger) *Council {
	if cfg.Chairman == "" && len(cfg.Members) > 0 {
		cfg.Chairman = cfg.Members[0]
	}
	return &Council{gw: gw, cfg: cfg, log: log}
}

// Run executes the full protocol for one question.
func (c *Council) Run(ctx context.Context, question string) *Response {
	opinions, order := c.firstOpinions(ctx, question)
	if len(opinions) == 0 {
		c.log.Warn().Int("members", len(c.cfg.Members)).Msg("no council members responded")
		return &Response{
			FinalAnswer:     "no council responses",
			Confidence:      0,
			Opinions:        map[string]string{},
			Rankings:        map[string]Review{},
			LabelToModel:    map[string]string{},
			SynthesisSource: "none",
		}
	}

	anon := anonymize(order)
	reviews := c.anonymizedReview(ctx, question, opinions, anon)

	finalAnswer, source := c.synthesize(ctx, question, opinions, order, reviews, anon)

	return &Response{
		FinalAnswer:       finalAnswer,
		Confidence:        float64(len(opinions)) / float64(len(c.cfg.Members)),
		Opinions:          opinions,
		Rankings:          reviews,
		AggregateRankings: aggregateRankings(reviews, anon),
		LabelToModel:      anon.LabelToModel(),
		SynthesisSource:   source,
	}
}

// firstOpinions queries every member concurrently with staggered starts
// and collects the successful responses in member order.
func (c *Council) firstOpinions(ctx context.Context, question string) (map[string]string, []string) {
	prompt := fmt.Sprintf(`You are one voice on a trading council. Give your independent opinion on the question below. State your recommendation and the reasoning behind it. Be direct; if the trade should not happen, start your answer with REJECT.

Question:
%s`, question)

	responses := make([]gateway.ModelResponse, len(c.cfg.Members))
	var wg sync.WaitGroup
	for i, member := range c.cfg.Members {
		wg.Add(1)
		go func(idx int, modelID string) {
			defer wg.Done()
			if delay := time.Duration(idx) * c.cfg.StaggerDelay; delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
			responses[idx] = c.gw.Complete(ctx, gateway.Call{
				ModelID:     modelID,
				Messages:    adapter.UserMessage(prompt),
				Temperature: c.cfg.OpinionTemperature,
				MaxTokens:   c.cfg.MaxTokens,
				Timeout:     c.cfg.Timeout,
			})
		}(i, member)
	}
	wg.Wait()

	opinions := make(map[string]string)
	var order []string
	for i, member := range c.cfg.Members {
		resp := responses[i]
		if !resp.Success {
			c.log.Warn().Str("model", member).Str("error", resp.Error).Msg("council member gave no opinion")
			continue
		}
		opinions[member] = resp.Content
		order = append(order, member)
	}
	return opinions, order
}

// anonymizedReview asks every opining member to rank the labeled opinion
// set. The prompt carries labels only; reviewers cannot tell which
// opinion is their own.
func (c *Council) anonymizedReview(ctx context.Context, question string, opinions map[string]string, anon *Anonymization) map[string]Review {
	digest := labeledDigest(opinions, anon)
	prompt := fmt.Sprintf(`Several anonymous analysts answered a trading question. Rank their answers from best to worst and explain your ranking.

Question:
%s

Answers:
%s

Respond with ONLY a JSON object: {"ranking": ["<label>", ...], "rationale": "<why>"} using the labels exactly as shown.`, question, digest)

	reviewers := make([]string, 0, len(opinions))
	for _, member := range c.cfg.Members {
		if _, ok := opinions[member]; ok {
			reviewers = append(reviewers, member)
		}
	}

	responses := make([]gateway.ModelResponse, len(reviewers))
	var wg sync.WaitGroup
	for i, reviewer := range reviewers {
		wg.Add(1)
		go func(idx int, modelID string) {
			defer wg.Done()
			if delay := time.Duration(idx) * c.cfg.StaggerDelay; delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
			responses[idx] = c.gw.Complete(ctx, gateway.Call{
				ModelID:     modelID,
				Messages:    adapter.UserMessage(prompt),
				Temperature: c.cfg.ReviewTemperature,
				MaxTokens:   c.cfg.MaxTokens,
				Timeout:     c.cfg.Timeout,
			})
		}(i, reviewer)
	}
	wg.Wait()

	reviews := make(map[string]Review)
	for i, reviewer := range reviewers {
		resp := responses[i]
		if !resp.Success {
			c.log.Warn().Str("model", reviewer).Str("error", resp.Error).Msg("reviewer gave no ranking")
			continue
		}
		reviews[reviewer] = parseReview(resp.Content, anon)
	}
	return reviews
}

// parseReview extracts a ranking from reviewer output, falling back to
// the raw text with an empty ranking rather than discarding the review.
func parseReview(content string, anon *Anonymization) Review {
	extracted, ok := structured.ExtractJSON(content)
	if !ok {
		return Review{Raw: content}
	}

	var parsed struct {
		Ranking   []string `json:"ranking"`
		Rationale string   `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(extracted), &parsed); err != nil {
		return Review{Raw: content}
	}

	var ranking []string
	seen := make(map[string]bool)
	for _, label := range parsed.Ranking {
		label = strings.ToUpper(strings.TrimSpace(label))
		if _, known := anon.Model(label); known && !seen[label] {
			ranking = append(ranking, label)
			seen[label] = true
		}
	}
	if len(ranking) == 0 {
		return Review{Raw: content, Rationale: parsed.Rationale}
	}
	return Review{Ranking: ranking, Rationale: parsed.Rationale}
}

// synthesize runs the chairman stage, falling back to the first
// successful opinion when the chairman call fails.
func (c *Council) synthesize(ctx context.Context, question string, opinions map[string]string, order []string, reviews map[string]Review, anon *Anonymization) (string, string) {
	prompt := chairmanPrompt(question, opinions, reviews, anon)
	resp := c.gw.Complete(ctx, gateway.Call{
		ModelID:     c.cfg.Chairman,
		Messages:    adapter.UserMessage(prompt),
		Temperature: c.cfg.SynthesisTemperature,
		MaxTokens:   c.cfg.MaxTokens,
		Timeout:     c.cfg.Timeout,
	})
	if resp.Success {
		return resp.Content, "chairman:" + c.cfg.Chairman
	}

	fallback := order[0]
	c.log.Warn().
		Str("chairman", c.cfg.Chairman).
		Str("error", resp.Error).
		Str("fallback", fallback).
		Msg("chairman synthesis failed, degrading to first opinion")
	return opinions[fallback], "fallback:" + fallback
}

func chairmanPrompt(question string, opinions map[string]string, reviews map[string]Review, anon *Anonymization) string {
	var sb strings.Builder
	sb.WriteString("You chair a trading council. Synthesize the opinions and peer reviews below into one final answer to the question. If the council leans against the trade, start your answer with REJECT.\n\n")
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nOpinions:\n")
	sb.WriteString(labeledDigest(opinions, anon))
	sb.WriteString("\nPeer reviews:\n")

	i := 1
	for _, member := range sortedKeys(reviews) {
		review := reviews[member]
		if len(review.Ranking) > 0 {
			sb.WriteString(fmt.Sprintf("Reviewer %d ranked: %s", i, strings.Join(review.Ranking, " > ")))
			if review.Rationale != "" {
				sb.WriteString(" - " + review.Rationale)
			}
			sb.WriteString("\n")
		} else {
			sb.WriteString(fmt.Sprintf("Reviewer %d (unparsed): %s\n", i, review.Raw))
		}
		i++
	}
	return sb.String()
}

// labeledDigest renders the opinion set in label order. Model ids never
// appear here; this text is shown to reviewers.
func labeledDigest(opinions map[string]string, anon *Anonymization) string {
	var sb strings.Builder
	for _, label := range anon.Labels() {
		model, _ := anon.Model(label)
		sb.WriteString(fmt.Sprintf("[%s]\n%s\n\n", label, opinions[model]))
	}
	return sb.String()
}

// aggregateRankings averages each label's rank position across parsed reviews.
func aggregateRankings(reviews map[string]Review, anon *Anonymization) []AggregateRank {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, review := range reviews {
		for pos, label := range review.Ranking {
			sums[label] += float64(pos + 1)
			counts[label]++
		}
	}

	out := make([]AggregateRank, 0, len(sums))
	for _, label := range anon.Labels() {
		if counts[label] == 0 {
			continue
		}
		out = append(out, AggregateRank{
			Label:       label,
			AverageRank: sums[label] / float64(counts[label]),
			Rankings:    counts[label],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AverageRank < out[j].AverageRank })
	return out
}

func sortedKeys(reviews map[string]Review) []string {
	keys := make([]string, 0, len(reviews))
	for k := range reviews {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
