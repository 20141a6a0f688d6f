package chat

import (
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// Attachment limits.
const (
	DefaultMaxTextBytes  = 5 * 1024 * 1024
	DefaultMaxImageBytes = 10 * 1024 * 1024
	DefaultMaxTextChars  = 10000
)

var textExtensions = map[string]bool{
	".txt": true, ".log": true, ".md": true, ".json": true, ".xml": true,
	".yaml": true, ".yml": true, ".py": true, ".js": true, ".ts": true,
	".tsx": true, ".java": true, ".groovy": true, ".sh": true, ".bash": true,
	".zsh": true, ".ps1": true, ".bat": true, ".cmd": true, ".csv": true,
	".html": true, ".css": true, ".scss": true, ".less": true, ".sql": true,
	".rb": true, ".go": true, ".rs": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true, ".cs": true, ".swift": true, ".kt": true,
	".jenkinsfile": true, ".dockerfile": true, ".properties": true,
	".ini": true, ".cfg": true, ".conf": true, ".toml": true, ".gradle": true,
	".pom": true, ".env": true,
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true,
}

var knownTextFiles = map[string]bool{
	"jenkinsfile": true, "dockerfile": true, "makefile": true, "readme": true,
	"license": true, ".gitignore": true, ".dockerignore": true,
	".editorconfig": true, ".eslintrc": true, ".prettierrc": true,
	".babelrc": true, ".npmrc": true,
}

// IsTextFile reports whether filename is an accepted text upload.
func IsTextFile(filename string) bool {
	base := strings.ToLower(path.Base(filename))
	ext := path.Ext(base)
	if textExtensions[ext] || knownTextFiles[base] {
		return true
	}
	return strings.HasPrefix(base, ".") && ext == base
}

// IsImageFile reports whether filename is an accepted image upload.
func IsImageFile(filename string) bool {
	return imageExtensions[strings.ToLower(path.Ext(filename))]
}

// AttachmentError reports an upload that cannot be used.
type AttachmentError struct {
	Filename string
	Reason   string
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %q: %s", e.Filename, e.Reason)
}

// prepareAttachments checks kinds and sizes and truncates long text.
// It returns copies; the input is not modified.
func (s *Service) prepareAttachments(atts []models.Attachment) ([]models.Attachment, error) {
	out := make([]models.Attachment, 0, len(atts))
	for _, att := range atts {
		name := strings.TrimSpace(att.Filename)
		if name == "" {
			name = "unknown"
		}
		att.Filename = name

		switch att.Kind {
		case models.AttachmentText:
			if !IsTextFile(name) {
				return nil, &AttachmentError{Filename: name, Reason: "unsupported text file type"}
			}
			if len(att.Payload) > s.cfg.MaxTextBytes {
				return nil, &AttachmentError{Filename: name, Reason: fmt.Sprintf("exceeds maximum size of %.1f MB", mb(s.cfg.MaxTextBytes))}
			}
			if runes := []rune(att.Payload); len(runes) > s.cfg.MaxTextChars {
				s.logger.Warn("attachment truncated", "filename", name, "chars", len(runes), "limit", s.cfg.MaxTextChars)
				att.Payload = string(runes[:s.cfg.MaxTextChars]) + "\n... [truncated]"
			}
			if att.MimeType == "" {
				att.MimeType = "text/plain"
			}
		case models.AttachmentImage:
			if !IsImageFile(name) {
				return nil, &AttachmentError{Filename: name, Reason: "unsupported image type"}
			}
			if base64.StdEncoding.DecodedLen(len(att.Payload)) > s.cfg.MaxImageBytes {
				return nil, &AttachmentError{Filename: name, Reason: fmt.Sprintf("exceeds maximum size of %.1f MB", mb(s.cfg.MaxImageBytes))}
			}
		default:
			return nil, &AttachmentError{Filename: name, Reason: fmt.Sprintf("unknown kind %q", att.Kind)}
		}
		out = append(out, att)
	}
	return out, nil
}

// FormatFileContext renders uploads for the prompt. Text files are wrapped
// in tags rather than fences so file content with backticks stays intact.
func FormatFileContext(atts []models.Attachment) string {
	parts := make([]string, 0, len(atts))
	for _, att := range atts {
		switch att.Kind {
		case models.AttachmentText:
			parts = append(parts, fmt.Sprintf("<uploaded_file name=%q>\n%s\n</uploaded_file>", att.Filename, att.Payload))
		case models.AttachmentImage:
			parts = append(parts, fmt.Sprintf("<uploaded_image name=%q>\n(Image content available for vision-capable models)\n</uploaded_image>", att.Filename))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "[User Uploaded Files]\n" + strings.Join(parts, "\n\n")
}

// storedAttachments drops payloads so history stays small.
func storedAttachments(atts []models.Attachment) []models.Attachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]models.Attachment, len(atts))
	for i, att := range atts {
		out[i] = models.Attachment{Filename: att.Filename, Kind: att.Kind, MimeType: att.MimeType}
	}
	return out
}

func userTurnContent(text string, atts []models.Attachment) string {
	if len(atts) == 0 {
		return text
	}
	names := make([]string, len(atts))
	for i, att := range atts {
		names[i] = att.Filename
	}
	return fmt.Sprintf("%s\n[Attached files: %s]", text, strings.Join(names, ", "))
}

func mb(n int) float64 {
	return float64(n) / (1024 * 1024)
}
