package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/anatolykoptev/go_iwara/internal/engine"
	"github.com/anatolykoptev/go_iwara/internal/engine/publish"
)

// Author tag report layout.
const (
	authorTagsHeader  = "作者:\n"
	authorTagsLineMax = 120
	authorTagSpacing  = "    "
)

// AuthorRegistry is the persisted set of publishers seen so far plus the one
// channel message listing them as hashtags.
type AuthorRegistry struct {
	path   string
	idPath string
	pub    publish.Publisher

	names     map[string]struct{}
	messageID int // 0 = no report yet
}

// LoadAuthorRegistry reads the author set and report handle. Missing or
// unreadable files start empty.
func LoadAuthorRegistry(path, idPath string, pub publish.Publisher) *AuthorRegistry {
	r := &AuthorRegistry{path: path, idPath: idPath, pub: pub, names: make(map[string]struct{})}

	if data, err := os.ReadFile(path); err == nil {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			slog.Warn("authors: unreadable file, starting empty", slog.String("path", path), slog.Any("error", err))
		}
		for _, n := range list {
			r.names[n] = struct{}{}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("authors: read failed, starting empty", slog.String("path", path), slog.Any("error", err))
	}

	if data, err := os.ReadFile(idPath); err == nil {
		if id, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && id > 0 {
			r.messageID = id
		}
	}
	slog.Debug("authors: loaded", slog.Int("count", len(r.names)), slog.Int("message_id", r.messageID))
	return r
}

// Names returns the author set sorted.
func (r *AuthorRegistry) Names() []string {
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Has reports whether name is registered.
func (r *AuthorRegistry) Has(name string) bool {
	_, ok := r.names[name]
	return ok
}

// MessageID is the handle of the live report, 0 if none.
func (r *AuthorRegistry) MessageID() int { return r.messageID }

// RegisterIfNew adds name, persists the set and refreshes the report.
// Known or empty names are a no-op.
func (r *AuthorRegistry) RegisterIfNew(ctx context.Context, name string) error {
	if name == "" || r.Has(name) {
		return nil
	}
	r.names[name] = struct{}{}
	if err := r.save(); err != nil {
		return err
	}
	slog.Info("authors: new author", slog.String("name", name), slog.Int("count", len(r.names)))
	return r.publishReport(ctx)
}

func (r *AuthorRegistry) save() error {
	data, err := json.MarshalIndent(r.Names(), "", "    ")
	if err != nil {
		return err
	}
	if err := engine.WriteFileAtomic(r.path, data); err != nil {
		return fmt.Errorf("authors: save: %w", err)
	}
	return nil
}

func (r *AuthorRegistry) saveMessageID() error {
	if err := engine.WriteFileAtomic(r.idPath, []byte(strconv.Itoa(r.messageID))); err != nil {
		return fmt.Errorf("authors: save message id: %w", err)
	}
	return nil
}

// publishReport edits the live report in place, or posts a new one when
// there is none or it was deleted from the channel.
func (r *AuthorRegistry) publishReport(ctx context.Context) error {
	text := RenderAuthorTags(r.Names())
	if n := engine.RuneLen(text); n > engine.MessageLimit {
		slog.Warn("authors: report exceeds message limit, tail will be cut",
			slog.Int("length", n),
			slog.Int("limit", engine.MessageLimit),
		)
	}

	if r.messageID != 0 {
		err := r.pub.EditMessage(ctx, r.messageID, text)
		switch {
		case err == nil:
			return nil
		case publish.IsNotModified(err):
			slog.Debug("authors: report not modified")
			return nil
		case publish.IsMessageNotFound(err):
			slog.Warn("authors: report message gone, posting a new one", slog.Int("message_id", r.messageID))
		default:
			return fmt.Errorf("authors: edit report: %w", err)
		}
	}

	id, err := r.pub.PublishMessage(ctx, publish.Message{Text: text})
	if err != nil {
		return fmt.Errorf("authors: post report: %w", err)
	}
	r.messageID = id
	return r.saveMessageID()
}

// RenderAuthorTags lays out names as hashtags, each followed by four spaces,
// breaking the line before a tag that would push it past 120 characters.
func RenderAuthorTags(names []string) string {
	var b strings.Builder
	b.WriteString(authorTagsHeader)
	lineLen := 0
	for _, n := range names {
		tag := engine.Hashtag(n) + authorTagSpacing
		tagLen := engine.RuneLen(tag)
		if lineLen+tagLen > authorTagsLineMax {
			b.WriteString("\n")
			lineLen = 0
		}
		b.WriteString(tag)
		lineLen += tagLen
	}
	return b.String()
}
