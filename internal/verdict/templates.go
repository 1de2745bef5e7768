package verdict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

type templateKey struct {
	level scoring.RiskLevel
	kind  scanner.ArtifactKind
}

type fallback struct {
	summary        string
	recommendation string
}

var fallbacks = map[templateKey]fallback{
	{scoring.LevelSafe, scanner.KindURL}: {
		"No warning signs were found for this link.",
		"It looks fine to open. Still check the address bar before you type a password.",
	},
	{scoring.LevelLow, scanner.KindURL}: {
		"This link shows a few minor warning signs but nothing clearly dangerous.",
		"Open it only if you expected it, and do not enter sensitive details unless you are sure of the site.",
	},
	{scoring.LevelMedium, scanner.KindURL}: {
		"This link has several traits common to scam or phishing sites.",
		"Avoid entering passwords or payment details. Reach the organisation through its official website instead.",
	},
	{scoring.LevelHigh, scanner.KindURL}: {
		"This link is very likely a phishing or scam site.",
		"Do not open it or enter any information. If you already did, change the affected passwords now.",
	},
	{scoring.LevelCritical, scanner.KindURL}: {
		"This link is dangerous. It matches strong signs of an active phishing or scam page.",
		"Do not visit it. Delete the message that contained it and report it. Change any password you entered there.",
	},

	{scoring.LevelSafe, scanner.KindConversation}: {
		"Nothing in this conversation looks like a known scam pattern.",
		"Carry on as normal, but stay cautious with requests for money or codes.",
	},
	{scoring.LevelLow, scanner.KindConversation}: {
		"This conversation has a few unusual requests but no clear scam pattern.",
		"Confirm who you are talking to before acting on any request.",
	},
	{scoring.LevelMedium, scanner.KindConversation}: {
		"This conversation follows patterns often used by scammers.",
		"Do not send money, gift cards or codes. Call the person on a number you already know.",
	},
	{scoring.LevelHigh, scanner.KindConversation}: {
		"This conversation is very likely a scam.",
		"Stop replying and do not send anything. Block the sender and report the account.",
	},
	{scoring.LevelCritical, scanner.KindConversation}: {
		"This conversation is a scam attempt with several strong warning signs.",
		"Stop all contact now. If you sent money, contact your bank immediately and report the fraud.",
	},

	{scoring.LevelSafe, scanner.KindFile}: {
		"No warning signs were found in this file.",
		"It looks safe to open. Keep your device and antivirus up to date.",
	},
	{scoring.LevelLow, scanner.KindFile}: {
		"This file shows minor warning signs.",
		"Open it only if you expected it from someone you trust.",
	},
	{scoring.LevelMedium, scanner.KindFile}: {
		"This file has traits often seen in malicious attachments or scam documents.",
		"Do not enable macros or follow links inside it. Confirm with the sender through another channel.",
	},
	{scoring.LevelHigh, scanner.KindFile}: {
		"This file is very likely malicious or part of a scam.",
		"Do not open it. Delete it and report the message it came with.",
	},
	{scoring.LevelCritical, scanner.KindFile}: {
		"This file is dangerous. It looks designed to trick you into running or trusting it.",
		"Do not open it. Delete it now, and run a security scan if it was already opened.",
	},
}

var tipsByKind = map[scanner.ArtifactKind][]string{
	scanner.KindURL: {
		"Type the address of important sites yourself instead of following links.",
		"Check the exact spelling of the domain before entering a password.",
		"Turn on two-factor authentication for email and banking.",
	},
	scanner.KindConversation: {
		"Real banks, agencies and support teams never ask for gift cards or codes.",
		"Verify surprising requests by calling the person on a known number.",
		"Be wary of anyone pushing you to move the chat to another app.",
	},
	scanner.KindFile: {
		"Never enable macros in documents you did not expect.",
		"Check the full file name: invoice.pdf.exe is a program, not a PDF.",
		"Keep your operating system and antivirus updated.",
	},
}

type gateTemplate struct {
	summary        string
	recommendation string
}

var gateTemplates = map[scanner.Severity]gateTemplate{
	scanner.SeverityCritical: {
		"This is a confirmed threat. It appears on a curated list of active malicious sites or files.",
		"Do not open or interact with it. Delete it and report where it came from.",
	},
	scanner.SeverityHigh: {
		"This matches a known threat from a trusted threat intelligence source.",
		"Do not open it or enter any information.",
	},
	scanner.SeverityMedium: {
		"This matches an entry on a threat list used to track suspicious activity.",
		"Avoid it unless you can confirm it is legitimate through another channel.",
	},
	scanner.SeverityLow: {
		"This appears on a low-confidence threat list.",
		"Be careful and verify the source before trusting it.",
	},
}

func fallbackFor(level scoring.RiskLevel, kind scanner.ArtifactKind) fallback {
	if f, ok := fallbacks[templateKey{level, kind}]; ok {
		return f
	}
	if f, ok := fallbacks[templateKey{level, scanner.KindURL}]; ok {
		return f
	}
	return fallbacks[templateKey{scoring.LevelMedium, scanner.KindURL}]
}

func tipsFor(level scoring.RiskLevel, kind scanner.ArtifactKind) []string {
	tips := append([]string{}, tipsByKind[kind]...)
	if len(tips) == 0 {
		tips = append(tips, tipsByKind[scanner.KindURL]...)
	}
	if level.AtLeast(scoring.LevelHigh) {
		tips = append(tips, "If you already shared a password or payment detail, change it and alert your bank.")
	}
	return tips
}

// technicalSummary describes the strongest findings and anything that did
// not report. Output is deterministic for a given result.
func technicalSummary(r *scanner.ScanResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk %s: %d of %d points on the %s scale", r.RiskLevel, r.TotalScore, r.MaxScore, r.Scale)
	if r.MaxScore > 0 {
		fmt.Fprintf(&sb, " (%.0f%%)", r.Percentage)
	}
	sb.WriteString(".")

	findings := make([]scanner.Finding, 0, r.FindingCount())
	for _, c := range r.Categories {
		for _, f := range c.Findings {
			if f.Points > 0 {
				findings = append(findings, f)
			}
		}
	}
	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Points > findings[j].Points })
	if len(findings) > 0 {
		sb.WriteString(" Main findings:")
		for i, f := range findings {
			if i == 5 {
				fmt.Fprintf(&sb, " and %d more.", len(findings)-5)
				break
			}
			sep := ";"
			if i == len(findings)-1 {
				sep = "."
			}
			fmt.Fprintf(&sb, " %s (%s, +%d)%s", f.Message, f.Category, f.Points, sep)
		}
	} else {
		sb.WriteString(" No check reported a risk signal.")
	}
	if len(r.Failures) > 0 {
		names := make([]string, 0, len(r.Failures))
		for _, f := range r.Failures {
			names = append(names, f.Category)
		}
		fmt.Fprintf(&sb, " Not assessed: %s.", strings.Join(names, ", "))
	}
	if r.TimedOut {
		sb.WriteString(" The scan hit its time limit.")
	}
	return sb.String()
}
