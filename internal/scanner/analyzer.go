package scanner

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// Analyzer produces one bounded CategoryResult for an artifact. Category and
// MaxScore are fixed at construction. Implementations must be safe for
// concurrent use and report upstream unavailability as a degraded result, not
// as an error; a returned error is treated as a broken analyzer.
type Analyzer interface {
	Category() string
	MaxScore() int
	Accepts(a *Artifact) bool
	Analyze(ctx context.Context, a *Artifact) (*CategoryResult, error)
}

// Extractor turns file bytes into text. It never fails: unreadable content
// yields empty text and zero confidence.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, float64)
}

// ConversationParser splits extracted text into a message chain.
type ConversationParser interface {
	Parse(text string) Conversation
}

// Synthesizer writes the narrative verdict for a finished scan.
type Synthesizer interface {
	Synthesize(ctx context.Context, a *Artifact, result *ScanResult) *Verdict
	FromGate(a *Artifact, result *ScanResult) *Verdict
}

type limitedAnalyzer struct {
	Analyzer
	limiter *rate.Limiter
}

// RateLimited puts a token bucket in front of an analyzer. When no token can
// be obtained before ctx expires the analyzer reports itself unavailable.
func RateLimited(a Analyzer, limiter *rate.Limiter) Analyzer {
	if limiter == nil {
		return a
	}
	return &limitedAnalyzer{Analyzer: a, limiter: limiter}
}

func (l *limitedAnalyzer) Analyze(ctx context.Context, a *Artifact) (*CategoryResult, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return NewBuilder(l.Category(), l.MaxScore()).Unavailable("rate limited").Result(), nil
	}
	return l.Analyzer.Analyze(ctx, a)
}

// PlainTextExtractor handles text/* and UTF-8 payloads without a MIME type.
// Images and PDFs need an external extractor.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(_ context.Context, data []byte, mimeType string) (string, float64) {
	mt := strings.ToLower(mimeType)
	textual := strings.HasPrefix(mt, "text/") || mt == "application/json" || mt == "" || mt == "application/octet-stream"
	if !textual || !utf8.Valid(data) {
		return "", 0
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", 0
	}
	return text, 1
}

// LineParser reads "Sender: message" lines. Lines without a sender prefix
// continue the previous message.
type LineParser struct{}

func (LineParser) Parse(text string) Conversation {
	conv := Conversation{Metadata: map[string]string{}}
	senders := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sender, body, ok := splitSender(line)
		if !ok {
			if n := len(conv.Messages); n > 0 {
				conv.Messages[n-1].Text += " " + line
			}
			continue
		}
		senders[sender] = true
		conv.Messages = append(conv.Messages, Message{Sender: sender, Text: body})
	}
	if len(senders) > 0 {
		conv.Metadata["participants"] = strconv.Itoa(len(senders))
	}
	return conv
}

func splitSender(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 || idx > 32 {
		return "", "", false
	}
	sender := strings.TrimSpace(line[:idx])
	body := strings.TrimSpace(line[idx+1:])
	if sender == "" || body == "" || strings.HasPrefix(body, "//") {
		return "", "", false
	}
	for _, r := range sender {
		if r == '.' || r == '/' {
			return "", "", false
		}
	}
	return sender, body, true
}
