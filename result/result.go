package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Status is the outcome of one page
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// PageRecord is the extraction outcome for a single page or image
type PageRecord struct {
	Page   int    `json:"page"`
	Text   string `json:"text"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Success builds a successful record
func Success(page int, text string) PageRecord {
	return PageRecord{Page: page, Text: text, Status: StatusSuccess}
}

// Failure builds an error record with empty text
func Failure(page int, err error) PageRecord {
	return PageRecord{Page: page, Text: "", Status: StatusError, Error: err.Error()}
}

// Save writes the records as an indented JSON array, creating parent folders as needed
func Save(records []PageRecord, outputPath string) error {
	if records == nil {
		records = []PageRecord{}
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false) // tables come back as HTML
	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return file.Close()
}

// Summary counts successes and failures
func Summary(records []PageRecord) (succeeded, failed int) {
	for _, r := range records {
		if r.Status == StatusSuccess {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
