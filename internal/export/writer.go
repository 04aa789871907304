package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spapperi/configurator/internal/store"
)

// Format selects a report rendering.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned for a format other than txt or yaml.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatTXT, FormatYAML:
		return Format(s), nil
	case "":
		return FormatTXT, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Writer builds reports from the store and writes them to a directory.
type Writer struct {
	st  store.Store
	dir string
	now func() time.Time
}

// NewWriter creates a Writer that writes reports under dir.
func NewWriter(st store.Store, dir string) *Writer {
	return &Writer{st: st, dir: dir, now: time.Now}
}

// Snapshot loads everything needed to render a report for one conversation.
func (w *Writer) Snapshot(ctx context.Context, conversationID string) (Snapshot, error) {
	conv, err := w.st.GetConversation(ctx, conversationID)
	if err != nil {
		return Snapshot{}, err
	}
	if conv == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", store.ErrConversationNotFound, conversationID)
	}
	msgs, err := w.st.GetMessages(ctx, conversationID)
	if err != nil {
		return Snapshot{}, err
	}
	data, err := w.st.GetConfigurationData(ctx, conversationID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Conversation:  *conv,
		Configuration: data,
		Messages:      msgs,
		GeneratedAt:   w.now(),
	}, nil
}

// Render renders one conversation in the given format.
func (w *Writer) Render(ctx context.Context, conversationID string, format Format) ([]byte, error) {
	snap, err := w.Snapshot(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return render(snap, format)
}

// WriteAll writes <id>.txt and <id>.yaml and returns their paths.
func (w *Writer) WriteAll(ctx context.Context, conversationID string) ([]string, error) {
	snap, err := w.Snapshot(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	var paths []string
	for _, format := range []Format{FormatTXT, FormatYAML} {
		body, err := render(snap, format)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(w.dir, conversationID+"."+string(format))
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	slog.Info("Export reports written", "conversationID", conversationID, "files", paths)
	return paths, nil
}

// OnConversationComplete writes both reports once a conversation completes.
func (w *Writer) OnConversationComplete(ctx context.Context, conversationID string) ([]string, error) {
	return w.WriteAll(ctx, conversationID)
}

func render(snap Snapshot, format Format) ([]byte, error) {
	switch format {
	case FormatTXT:
		return []byte(RenderTXT(snap)), nil
	case FormatYAML:
		return RenderYAML(snap)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
