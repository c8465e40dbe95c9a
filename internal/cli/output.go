package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/KamdynS/sfnresume/history"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// readHistoryFile decodes a saved history; "-" reads standard input.
func readHistoryFile(path string, stdin io.Reader) (*history.History, error) {
	if path == "-" {
		return history.DecodeHistory(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()
	return history.DecodeHistory(f)
}

// fileSource serves one saved history regardless of the ARN asked for.
type fileSource struct {
	h *history.History
}
