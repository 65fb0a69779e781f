package extraction

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// showTextOperator matches PDF content-stream text-showing operators:
// "(literal string) Tj" and the array form "[(a)(b)] TJ". pdfcpu's content
// extraction dumps raw content streams rather than reflowed text, so the
// extraction engine recovers readable text itself by pulling the string
// operands out of these operators, in document order.
var showTextOperator = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*(?:Tj|TJ)?`)

// ExtractPDFText renders pdfBytes down to its visible text content, page
// by page, using pdfcpu's content-stream extraction plus a text-operator
// scan. It is deterministic: the same bytes always produce the same
// string, which the upstream record_hash dedup depends on.
func ExtractPDFText(pdfBytes []byte) (string, error) {
	tmpDir, err := os.MkdirTemp("", "surplustrust-pdf-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	srcPath := filepath.Join(tmpDir, "doc.pdf")
	if err := os.WriteFile(srcPath, pdfBytes, 0o600); err != nil {
		return "", fmt.Errorf("write temp pdf: %w", err)
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open temp pdf: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContent(f, tmpDir, "doc", nil, conf); err != nil {
		return "", fmt.Errorf("extract pdf content: %w", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return "", fmt.Errorf("read content dir: %w", err)
	}

	var contentFiles []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "doc") && strings.Contains(e.Name(), "Content") {
			contentFiles = append(contentFiles, e.Name())
		}
	}
	sort.Strings(contentFiles)

	var sb strings.Builder
	for _, name := range contentFiles {
		raw, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			return "", fmt.Errorf("read content file %s: %w", name, err)
		}
		for _, m := range showTextOperator.FindAllSubmatch(raw, -1) {
			sb.Write(m[1])
			sb.WriteByte(' ')
		}
		sb.WriteByte('\n')
	}

	return sb.String(), nil
}
