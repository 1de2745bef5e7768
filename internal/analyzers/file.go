package analyzers

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/policy"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

var executableMIME = []string{
	"application/vnd.microsoft.portable-executable",
	"application/x-msdownload",
	"application/x-executable",
	"application/x-elf",
	"application/x-mach-binary",
	"application/x-sharedlib",
}

// FileCharacteristics inspects the name and magic bytes of an upload.
type FileCharacteristics struct {
	base
	executable policy.Set
	macro      policy.Set
	document   policy.Set
}

func NewFileCharacteristics(p *policy.Policy) *FileCharacteristics {
	return &FileCharacteristics{
		base:       base{category: CategoryFile, max: 25},
		executable: policy.NewSet(p.Files.ExecutableExtensions),
		macro:      policy.NewSet(p.Files.MacroExtensions),
		document:   policy.NewSet(p.Files.DocumentExtensions),
	}
}

func (f *FileCharacteristics) Accepts(a *scanner.Artifact) bool { return a.File != nil }

func (f *FileCharacteristics) Analyze(_ context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := f.builder()
	name := strings.ToLower(a.File.Name)
	exts := extensions(name)
	last := ""
	if len(exts) > 0 {
		last = exts[len(exts)-1]
	}
	ev := map[string]interface{}{"name": a.File.Name}

	if len(exts) >= 2 && f.document.Has(exts[len(exts)-2]) && (f.executable.Has(last) || f.macro.Has(last)) {
		b.Add(scanner.SeverityCritical, 15, "double extension hides the real file type", ev)
	}
	switch {
	case f.executable.Has(last):
		b.Add(scanner.SeverityHigh, 10, "executable file type ."+last, ev)
	case f.macro.Has(last):
		b.Add(scanner.SeverityMedium, 10, "macro-enabled document ."+last, ev)
	}

	detected := mimetype.Detect(a.File.Data)
	ev = map[string]interface{}{"name": a.File.Name, "detected": detected.String(), "declared": a.File.MIMEType}
	if isExecutable(detected) && !f.executable.Has(last) {
		b.Add(scanner.SeverityCritical, 20, "executable content disguised as ."+last, ev)
	} else if last != "" && f.document.Has(last) && !matchesExtension(detected, last) && !detected.Is("application/octet-stream") {
		b.Add(scanner.SeverityMedium, 5, "content does not match the file extension", ev)
	}
	if declared := a.File.MIMEType; declared != "" && declared != "application/octet-stream" && !conforms(detected, declared) && !strings.HasPrefix(declared, "text/") {
		b.Add(scanner.SeverityLow, 3, "declared MIME type differs from content", ev)
	}
	return b.Result(), nil
}

func extensions(name string) []string {
	parts := strings.Split(filepath.Base(name), ".")
	if len(parts) < 2 {
		return nil
	}
	return parts[1:]
}

func isExecutable(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		for _, e := range executableMIME {
			if m.Is(e) {
				return true
			}
		}
	}
	return false
}

func matchesExtension(m *mimetype.MIME, ext string) bool {
	if ext == "jpeg" {
		ext = "jpg"
	}
	for ; m != nil; m = m.Parent() {
		if strings.TrimPrefix(m.Extension(), ".") == ext {
			return true
		}
	}
	return false
}

// conforms reports whether m or one of its parents is the declared type.
func conforms(m *mimetype.MIME, declared string) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(declared) {
			return true
		}
	}
	return false
}
