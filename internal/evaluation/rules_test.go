package evaluation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

func TestRulesCheck(t *testing.T) {
	rules := DefaultRules()
	cases := []struct {
		name   string
		file   FileInfo
		reason string
	}{
		{"valid pdf", FileInfo{Name: "sheet.pdf", Size: 1024, MimeType: "application/pdf"}, ""},
		{"valid jpeg alias", FileInfo{Name: "scan.JPG", Size: 1024, MimeType: "image/jpeg"}, ""},
		{"mime parameters", FileInfo{Name: "scan.png", Size: 10, MimeType: "image/png; charset=binary"}, ""},
		{"empty", FileInfo{Name: "sheet.pdf", Size: 0, MimeType: "application/pdf"}, "file is empty"},
		{"too large", FileInfo{Name: "sheet.pdf", Size: DefaultMaxFileSize + 1, MimeType: "application/pdf"}, "file is larger than 10 MB"},
		{"traversal", FileInfo{Name: "../sheet.pdf", Size: 10, MimeType: "application/pdf"}, "path separators"},
		{"backslash", FileInfo{Name: `a\sheet.pdf`, Size: 10, MimeType: "application/pdf"}, "path separators"},
		{"nul byte", FileInfo{Name: "sheet\x00.pdf", Size: 10, MimeType: "application/pdf"}, "NUL byte"},
		{"long name", FileInfo{Name: strings.Repeat("a", 252) + ".pdf", Size: 10, MimeType: "application/pdf"}, "longer than 255"},
		{"blank name", FileInfo{Name: " ", Size: 10, MimeType: "application/pdf"}, "file name is required"},
		{"mime not allowed", FileInfo{Name: "sheet.docx", Size: 10, MimeType: "application/msword"}, `file type "application/msword" is not allowed`},
		{"extension mismatch", FileInfo{Name: "sheet.png", Size: 10, MimeType: "application/pdf"}, `file extension ".png" does not match type application/pdf`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := rules.Check(tc.file)
			if tc.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
			assert.Contains(t, err.Error(), tc.reason)
		})
	}
}

func TestRulesRestrict(t *testing.T) {
	rules := DefaultRules().Restrict([]string{"application/pdf", "text/plain"})
	assert.Equal(t, []string{"application/pdf"}, rules.AllowedTypes())
	assert.Equal(t, ".pdf", rules.Extension("application/pdf"))
	assert.Error(t, rules.Check(FileInfo{Name: "a.png", Size: 1, MimeType: "image/png"}))
}

func TestRulesMatchContent(t *testing.T) {
	rules := DefaultRules()
	pngHead := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	pdfHead := []byte("%PDF-1.7\n%âãÏÓ")

	assert.NoError(t, rules.MatchContent(pngHead, "image/png"))
	assert.NoError(t, rules.MatchContent(pdfHead, "application/pdf; charset=binary"))

	err := rules.MatchContent([]byte("MZ\x90\x00 definitely not an image"), "image/png")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Contains(t, err.Error(), "does not look like image/png")

	assert.Error(t, rules.MatchContent(pdfHead, "image/jpeg"))
}
