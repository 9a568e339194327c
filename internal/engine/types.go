package engine

// --- Feed selection ---

// FeedKind selects the source listing and its ledger table.
type FeedKind string

const (
	FeedSubscribed FeedKind = "subscribed"
	FeedDiscovery  FeedKind = "discovery"
)

// Rating is the content rating filter passed to the listing endpoint.
type Rating string

const (
	RatingAll     Rating = "all"
	RatingGeneral Rating = "general"
	RatingEcchi   Rating = "ecchi"
)

// --- iwara API types ---

type VideoUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type VideoTag struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

type VideoFile struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// Video is the full metadata document returned by /video/<id>.
// Listing results share the same shape with some fields left empty.
type Video struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Rating    string     `json:"rating,omitempty"`
	User      VideoUser  `json:"user"`
	Tags      []VideoTag `json:"tags"`
	EmbedURL  *string    `json:"embedUrl"`
	NumLikes  int64      `json:"numLikes"`
	NumViews  int64      `json:"numViews"`
	File      *VideoFile `json:"file"`
	Thumbnail int        `json:"thumbnail"`
	FileURL   string     `json:"fileUrl"`
	CreatedAt string     `json:"createdAt,omitempty"`
}

// Embed returns the external embed link, or "" when the video is hosted.
func (v *Video) Embed() string {
	if v == nil || v.EmbedURL == nil {
		return ""
	}
	return *v.EmbedURL
}

// FileID returns the hosted file id, or "" for embed-only videos.
func (v *Video) FileID() string {
	if v == nil || v.File == nil {
		return ""
	}
	return v.File.ID
}

// TagIDs returns the tag identifiers in listing order.
func (v *Video) TagIDs() []string {
	out := make([]string, 0, len(v.Tags))
	for _, t := range v.Tags {
		if t.ID != "" {
			out = append(out, t.ID)
		}
	}
	return out
}

// VideoPage is one page of /videos.
type VideoPage struct {
	Count   int     `json:"count"`
	Limit   int     `json:"limit"`
	Page    int     `json:"page"`
	Results []Video `json:"results"`
}

// FileVariant is one quality entry returned when resolving a signed file URL.
type FileVariant struct {
	ID   string `json:"id"`
	Name string `json:"name"` // "Source", "540", "360", "preview"
	Type string `json:"type"` // MIME type, e.g. "video/mp4"
	Src  struct {
		View     string `json:"view"`
		Download string `json:"download"`
	} `json:"src"`
}

// SourceQuality is the only variant this bot publishes.
const SourceQuality = "Source"

// HeatLikeWeight is how many views one like is worth in ranking heat.
const HeatLikeWeight = 20
