package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/questflow/types"
)

const transcriptFile = "transcript.jsonl"

// TranscriptEntry is one line of the append-only session transcript.
// Turn numbers are 1-indexed; timestamps are UTC.
type TranscriptEntry struct {
	Turn      int              `json:"turn"`
	Timestamp time.Time        `json:"timestamp"`
	Agent     string           `json:"agent"`
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// ToolCallRecord preserves a structured tool invocation alongside the
// narrative text.
type ToolCallRecord struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// TranscriptWriter appends JSON Lines transcript entries next to a
// timeline's checkpoints. The transcript is an audit artifact, not
// gameplay-critical: callers log and swallow append errors rather than
// failing a round on them.
type TranscriptWriter struct {
	store  *FileStore
	logger *zap.Logger
}

// NewTranscriptWriter creates a transcript writer sharing the file
// store's directory layout.
func NewTranscriptWriter(store *FileStore, logger *zap.Logger) *TranscriptWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptWriter{
		store:  store,
		logger: logger.With(zap.String("component", "transcript")),
	}
}

// Append writes the entries to the timeline's transcript file, one JSON
// object per line. Entries without a timestamp are stamped now.
func (w *TranscriptWriter) Append(sessionID, forkID string, entries []TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	dir, err := w.store.timelineDir(sessionID, forkID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create transcript directory: %w", err)
	}

	path := filepath.Join(dir, transcriptFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i := range entries {
		if entries[i].Timestamp.IsZero() {
			entries[i].Timestamp = time.Now().UTC()
		} else {
			entries[i].Timestamp = entries[i].Timestamp.UTC()
		}
		if err := enc.Encode(entries[i]); err != nil {
			return fmt.Errorf("failed to append transcript entry: %w", err)
		}
	}
	return nil
}

// AppendLogLines converts raw ground-truth log lines into transcript
// entries, parsing the speaker prefix from each. firstTurn numbers the
// first line; subsequent lines increment from it.
func (w *TranscriptWriter) AppendLogLines(sessionID, forkID string, firstTurn int, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	now := time.Now().UTC()
	entries := make([]TranscriptEntry, 0, len(lines))
	for i, line := range lines {
		agent, content := types.ParseLogLine(line)
		entries = append(entries, TranscriptEntry{
			Turn:      firstTurn + i,
			Timestamp: now,
			Agent:     agent,
			Content:   content,
		})
	}
	return w.Append(sessionID, forkID, entries)
}

// Read returns every transcript entry of a timeline, oldest first.
// Used by tooling; gameplay never reads the transcript back.
func (w *TranscriptWriter) Read(sessionID, forkID string) ([]TranscriptEntry, error) {
	dir, err := w.store.timelineDir(sessionID, forkID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, transcriptFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	var entries []TranscriptEntry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e TranscriptEntry
		if err := dec.Decode(&e); err != nil {
			w.logger.Warn("truncated transcript tail ignored", zap.Error(err))
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}
