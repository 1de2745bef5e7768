package analyzers

import (
	"context"
	"strings"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/policy"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

// SocialEngineering looks for pressure, credential and payment language in
// text extracted from an upload.
type SocialEngineering struct {
	base
	rules policy.SocialEngineering
}

func NewSocialEngineering(p *policy.Policy) *SocialEngineering {
	return &SocialEngineering{base: base{category: CategorySocialEngineering, max: 30}, rules: p.SocialEngineering}
}

func (s *SocialEngineering) Accepts(a *scanner.Artifact) bool {
	return strings.TrimSpace(a.Text) != ""
}

func (s *SocialEngineering) Analyze(_ context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := s.builder()
	text := strings.ToLower(a.Text)
	if hits := matchPhrases(text, s.rules.Urgency); len(hits) > 0 {
		b.Add(scanner.SeverityMedium, 10, "urgency pressure", map[string]interface{}{"phrases": limit(hits, 5)})
	}
	if hits := matchPhrases(text, s.rules.Credential); len(hits) > 0 {
		b.Add(scanner.SeverityHigh, 12, "asks for credentials or codes", map[string]interface{}{"phrases": limit(hits, 5)})
	}
	if hits := matchPhrases(text, s.rules.Payment); len(hits) > 0 {
		b.Add(scanner.SeverityHigh, 10, "payment or prize language", map[string]interface{}{"phrases": limit(hits, 5)})
	}
	if a.TextConfidence > 0 && a.TextConfidence < 0.5 {
		b.Info("text extraction confidence is low", map[string]interface{}{"confidence": a.TextConfidence})
	}
	return b.Result(), nil
}

// ConversationPatterns scores scam tactics across a parsed message chain.
type ConversationPatterns struct {
	base
	rules policy.ConversationRules
}

func NewConversationPatterns(p *policy.Policy) *ConversationPatterns {
	return &ConversationPatterns{base: base{category: CategoryConversation, max: 30}, rules: p.Conversation}
}

func (c *ConversationPatterns) Accepts(a *scanner.Artifact) bool { return a.HasConversation() }

func (c *ConversationPatterns) Analyze(_ context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := c.builder()
	checks := []struct {
		phrases  []string
		severity scanner.Severity
		points   int
		message  string
	}{
		{c.rules.GiftCard, scanner.SeverityHigh, 15, "asks for gift cards"},
		{c.rules.MoneyRequest, scanner.SeverityHigh, 12, "asks for money"},
		{c.rules.Impersonation, scanner.SeverityMedium, 10, "claims an identity that cannot be checked"},
		{c.rules.PlatformSwitch, scanner.SeverityMedium, 8, "pushes the chat to another platform"},
	}
	for _, check := range checks {
		var senders []string
		var phrases []string
		seen := map[string]bool{}
		for _, m := range a.Conversation.Messages {
			hits := matchPhrases(strings.ToLower(m.Text), check.phrases)
			if len(hits) == 0 {
				continue
			}
			if !seen[m.Sender] {
				seen[m.Sender] = true
				senders = append(senders, m.Sender)
			}
			phrases = append(phrases, hits...)
		}
		if len(phrases) > 0 {
			b.Add(check.severity, check.points, check.message, map[string]interface{}{
				"senders": senders, "phrases": limit(phrases, 5),
			})
		}
	}
	b.Info("conversation parsed", map[string]interface{}{"messages": len(a.Conversation.Messages)})
	return b.Result(), nil
}
