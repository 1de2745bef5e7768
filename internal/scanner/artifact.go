package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

var ErrInvalidArtifact = errors.New("invalid artifact")

type ArtifactKind string

const (
	KindURL          ArtifactKind = "url"
	KindConversation ArtifactKind = "conversation"
	KindFile         ArtifactKind = "file"
)

// Artifact is the thing being assessed. It is owned by a single scan; the
// engine fills Text and Conversation during preparation, before any analyzer
// runs, and analyzers only read it.
type Artifact struct {
	Kind             ArtifactKind
	Raw              string
	URL              *url.URL
	Host             string
	RegisteredDomain string
	File             *File

	Text           string
	TextConfidence float64
	Conversation   *Conversation
}

type File struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
	Data     []byte `json:"-"`
}

type Message struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type Conversation struct {
	Messages []Message        `json:"messages"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ArtifactRef is the serialisable descriptor carried in a ScanResult.
type ArtifactRef struct {
	Kind     ArtifactKind `json:"kind"`
	Target   string       `json:"target"`
	Host     string       `json:"host,omitempty"`
	MIMEType string       `json:"mime_type,omitempty"`
	Size     int64        `json:"size,omitempty"`
	SHA256   string       `json:"sha256,omitempty"`
}

// NewURLArtifact normalises and validates a URL. A missing scheme defaults to
// https; only http and https are accepted.
func NewURLArtifact(raw string) (*Artifact, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: url is empty", ErrInvalidArtifact)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrInvalidArtifact, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidArtifact, parsed.Scheme)
	}
	parsed.Scheme = scheme
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return nil, fmt.Errorf("%w: url has no host", ErrInvalidArtifact)
	}
	if !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("%w: host %q: %v", ErrInvalidArtifact, host, err)
		}
		host = ascii
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	a := &Artifact{
		Kind: KindURL,
		Raw:  parsed.String(),
		URL:  parsed,
		Host: host,
	}
	a.RegisteredDomain = registeredDomain(host)
	return a, nil
}

// NewFileArtifact wraps uploaded bytes. Text extraction and conversation
// parsing happen later in the engine.
func NewFileArtifact(name, mimeType string, data []byte) (*Artifact, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidArtifact)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidArtifact)
	}
	sum := sha256.Sum256(data)
	return &Artifact{
		Kind: KindFile,
		Raw:  name,
		File: &File{
			Name:     name,
			MIMEType: strings.ToLower(strings.TrimSpace(mimeType)),
			Size:     int64(len(data)),
			SHA256:   hex.EncodeToString(sum[:]),
			Data:     data,
		},
	}, nil
}

func (a *Artifact) Validate() error {
	switch a.Kind {
	case KindURL:
		if a.URL == nil || a.Host == "" {
			return fmt.Errorf("%w: url artifact without host", ErrInvalidArtifact)
		}
	case KindFile, KindConversation:
		if a.File == nil || len(a.File.Data) == 0 {
			return fmt.Errorf("%w: file artifact without content", ErrInvalidArtifact)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidArtifact, a.Kind)
	}
	return nil
}

// Presentation is the kind used to pick verdict templates: a file whose text
// parsed into a conversation is presented as a conversation.
func (a *Artifact) Presentation() ArtifactKind {
	if a.Kind == KindFile && a.HasConversation() {
		return KindConversation
	}
	return a.Kind
}

func (a *Artifact) HasConversation() bool {
	return a.Conversation != nil && len(a.Conversation.Messages) >= 2
}

func (a *Artifact) IsURL() bool { return a.Kind == KindURL }

// IsIPHost reports whether the URL host is an IP literal.
func (a *Artifact) IsIPHost() bool {
	return a.Host != "" && net.ParseIP(a.Host) != nil
}

func (a *Artifact) Ref() ArtifactRef {
	ref := ArtifactRef{Kind: a.Presentation(), Target: a.Raw, Host: a.Host}
	if a.File != nil {
		ref.MIMEType = a.File.MIMEType
		ref.Size = a.File.Size
		ref.SHA256 = a.File.SHA256
	}
	return ref
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func registeredDomain(host string) string {
	if net.ParseIP(host) != nil {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
