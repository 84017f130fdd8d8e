package output

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// WriteJSON writes the summary to a JSON file.
func WriteJSON(filename string, s Summary) error {
	if s.Timestamp == "" {
		s.Timestamp = time.Now().Format(time.RFC3339)
	}

	f, err := os.Create(filename) //nolint:gosec // output path supplied by the operator
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	defer f.Close() //nolint:errcheck // write errors surface through Encode

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
