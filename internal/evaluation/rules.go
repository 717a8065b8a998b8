package evaluation

import (
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// DefaultMaxFileSize is the upload ceiling when none is configured.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// MaxFileNameLength bounds the submitted file name.
const MaxFileNameLength = 255

// FileInfo describes a file offered for evaluation.
type FileInfo struct {
	Name     string
	Size     int64
	MimeType string
}

// Rules validates answer-sheet uploads. The same rules run in the client
// before upload and again at the server intake.
type Rules struct {
	MaxSize int64
	// Types maps an allowed MIME type to its accepted file extensions.
	Types map[string][]string
}

// DefaultRules accepts PDF, JPEG and PNG files up to 10 MB.
func DefaultRules() Rules {
	return Rules{
		MaxSize: DefaultMaxFileSize,
		Types: map[string][]string{
			"application/pdf": {".pdf"},
			"image/jpeg":      {".jpg", ".jpeg"},
			"image/png":       {".png"},
		},
	}
}

// Restrict keeps only the listed MIME types. Unknown types are ignored.
func (r Rules) Restrict(mimeTypes []string) Rules {
	if len(mimeTypes) == 0 {
		return r
	}
	kept := make(map[string][]string, len(mimeTypes))
	for _, mt := range mimeTypes {
		mt = normalizeMime(mt)
		if exts, ok := r.Types[mt]; ok {
			kept[mt] = exts
		}
	}
	r.Types = kept
	return r
}

// AllowedTypes lists the accepted MIME types in a stable order.
func (r Rules) AllowedTypes() []string {
	out := make([]string, 0, len(r.Types))
	for mt := range r.Types {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}

// Check returns a validation error whose message is the rejection reason.
func (r Rules) Check(f FileInfo) error {
	if f.Size <= 0 {
		return reject("file is empty")
	}
	maxSize := r.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if f.Size > maxSize {
		return reject(fmt.Sprintf("file is larger than %s", humanSize(maxSize)))
	}
	name := f.Name
	if strings.TrimSpace(name) == "" {
		return reject("file name is required")
	}
	if len(name) > MaxFileNameLength {
		return reject(fmt.Sprintf("file name is longer than %d characters", MaxFileNameLength))
	}
	if strings.ContainsRune(name, 0) {
		return reject("file name contains a NUL byte")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return reject("file name must not contain path separators or \"..\"")
	}
	mimeType := normalizeMime(f.MimeType)
	exts, ok := r.Types[mimeType]
	if !ok {
		return reject(fmt.Sprintf("file type %q is not allowed; use %s", f.MimeType, strings.Join(r.AllowedTypes(), ", ")))
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range exts {
		if ext == allowed {
			return nil
		}
	}
	return reject(fmt.Sprintf("file extension %q does not match type %s", ext, mimeType))
}

// Extension returns the canonical extension for an allowed MIME type.
func (r Rules) Extension(mimeType string) string {
	exts := r.Types[normalizeMime(mimeType)]
	if len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// SniffLen is how many leading bytes MatchContent inspects.
const SniffLen = 512

// MatchContent checks that the leading bytes of a file agree with its
// declared MIME type.
func (r Rules) MatchContent(head []byte, declared string) error {
	if len(head) > SniffLen {
		head = head[:SniffLen]
	}
	detected := normalizeMime(http.DetectContentType(head))
	if detected != normalizeMime(declared) {
		return reject(fmt.Sprintf("file content does not look like %s", normalizeMime(declared)))
	}
	return nil
}

func normalizeMime(mt string) string {
	mt, _, _ = strings.Cut(mt, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func reject(reason string) error {
	return appErrors.Clone(appErrors.ErrValidation, reason)
}

func humanSize(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
