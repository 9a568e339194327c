package feed

import (
	"fmt"
	"strings"

	"github.com/anatolykoptev/go_iwara/internal/engine"
	"github.com/anatolykoptev/go_iwara/internal/engine/media"
)

// Captions renders channel posts for a video.
type Captions struct {
	SiteURL   string
	ChatAd    string
	Blacklist []string
}

func (c Captions) site() string {
	if c.SiteURL == "" {
		return "https://iwara.tv"
	}
	return strings.TrimRight(c.SiteURL, "/")
}

// VideoURL is the public page of a video.
func (c Captions) VideoURL(id string) string { return c.site() + "/video/" + id + "/" }

// ProfileURL is the public page of a publisher.
func (c Captions) ProfileURL(user string) string { return c.site() + "/profile/" + user + "/" }

// Description returns the video body, or "" when it is blank or hits the
// blacklist.
func (c Captions) Description(v *engine.Video) string {
	d := strings.TrimSpace(v.Body)
	if d == "" {
		return ""
	}
	if engine.ContainsAny(d, c.Blacklist) {
		return ""
	}
	return d
}

func (c Captions) header(v *engine.Video) string {
	return fmt.Sprintf("<a href=\"%s\">%s</a>\nby: <a href=\"%s\">%s</a>",
		c.VideoURL(v.ID), engine.EscapeHTML(v.Title),
		c.ProfileURL(v.User.Username), engine.EscapeHTML(v.User.Name))
}

func tagLine(v *engine.Video) string {
	ids := v.TagIDs()
	if len(ids) == 0 {
		return ""
	}
	tags := make([]string, len(ids))
	for i, id := range ids {
		tags[i] = engine.Hashtag(id)
	}
	return strings.Join(tags, " ")
}

// VideoCaption is the HTML caption of an uploaded video. info may be nil
// when probing failed; the size tags are then omitted. Telegram counts the
// limit on the parsed text, so the description budget is measured on what
// the reader sees and the description is escaped only after cutting.
func (c Captions) VideoCaption(v *engine.Video, info *media.Info) string {
	var tail []string
	if ad := strings.TrimSpace(c.ChatAd); ad != "" {
		tail = append(tail, ad)
	}
	var tags []string
	if v.User.Name != "" {
		tags = append(tags, engine.Hashtag(v.User.Name))
	}
	if info != nil {
		if rt := info.ResolutionTag(); rt != "" {
			tags = append(tags, "#"+rt)
		}
		if info.Portrait() {
			tags = append(tags, "#PortraitScreen")
		}
	}
	if tl := tagLine(v); tl != "" {
		tags = append(tags, tl)
	}
	if len(tags) > 0 {
		tail = append(tail, strings.Join(tags, "\n"))
	}

	head := c.header(v)
	rest := strings.Join(tail, "\n\n")

	desc := c.Description(v)
	if desc != "" {
		budget := engine.CaptionLimit - headerTextLen(v) - engine.RuneLen(rest) - 4
		if budget < 16 {
			desc = ""
		} else {
			desc = engine.TruncateRunes(desc, budget-1, "…")
		}
	}

	parts := []string{head}
	if desc != "" {
		parts = append(parts, engine.EscapeHTML(desc))
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return strings.Join(parts, "\n\n")
}

// headerTextLen is the visible length of header(v) once the links are parsed.
func headerTextLen(v *engine.Video) int {
	return engine.RuneLen(v.Title) + engine.RuneLen("\nby: ") + engine.RuneLen(v.User.Name)
}

// LinkMessage is the HTML post for a video hosted elsewhere: the embed link
// first so Telegram renders its preview.
func (c Captions) LinkMessage(embed string, v *engine.Video) string {
	var b strings.Builder
	b.WriteString(embed)
	b.WriteString("\n")
	b.WriteString(c.header(v))
	if ad := strings.TrimSpace(c.ChatAd); ad != "" {
		b.WriteString("\n")
		b.WriteString(ad)
	}
	if v.User.Name != "" {
		b.WriteString("\n")
		b.WriteString(engine.Hashtag(v.User.Name))
	}
	if tl := tagLine(v); tl != "" {
		b.WriteString("\n")
		b.WriteString(tl)
	}
	return b.String()
}

// DiscussionMessage attributes the full description to its author in the
// discussion group.
func (c Captions) DiscussionMessage(v *engine.Video) string {
	return fmt.Sprintf("<a href=\"%s\">%s</a> said:\n%s",
		c.ProfileURL(v.User.Username), engine.EscapeHTML(v.User.Name),
		engine.EscapeHTML(strings.TrimSpace(v.Body)))
}
