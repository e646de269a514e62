package extract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// pdfText extracts plain text from an in-memory PDF attachment.
func pdfText(data []byte) (text string, err error) {
	// the parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	content, err := io.ReadAll(rd)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(content), nil
}
