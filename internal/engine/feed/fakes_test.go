package feed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/anatolykoptev/go_iwara/internal/engine"
	"github.com/anatolykoptev/go_iwara/internal/engine/download"
	"github.com/anatolykoptev/go_iwara/internal/engine/ledger"
	"github.com/anatolykoptev/go_iwara/internal/engine/media"
	"github.com/anatolykoptev/go_iwara/internal/engine/publish"
	"github.com/anatolykoptev/go_iwara/internal/engine/sources"
	"github.com/stretchr/testify/require"
)

// --- gateway ---

type fakeGateway struct {
	mu sync.Mutex

	loginErr  error
	pages     map[int][]engine.Video
	pageErrs  map[int]error
	videos    map[string]engine.Video
	metaErrs  map[string]error
	sources   map[string]sources.SourceFile
	sourceErr map[string]error
	// resolveFails makes ResolveSource answer 503 this many times first
	resolveFails map[string]int

	listCalls    []sources.ListOptions
	getCalls     []string
	refreshCalls []string
	resolveCalls []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		pages:     map[int][]engine.Video{},
		pageErrs:  map[int]error{},
		videos:    map[string]engine.Video{},
		metaErrs:  map[string]error{},
		sources:   map[string]sources.SourceFile{},
		sourceErr: map[string]error{},

		resolveFails: map[string]int{},
	}
}

// addHosted registers a hosted video on a listing page.
func (g *fakeGateway) addHosted(page int, id, author string, likes, views int64) {
	v := engine.Video{
		ID:       id,
		Title:    "title " + id,
		Body:     "description of " + id,
		User:     engine.VideoUser{Username: "u_" + author, Name: author},
		File:     &engine.VideoFile{ID: "file-" + id},
		FileURL:  "https://files.test/file/file-" + id + "?expires=1",
		NumLikes: likes,
		NumViews: views,
	}
	g.pages[page] = append(g.pages[page], engine.Video{ID: id, Title: v.Title})
	g.videos[id] = v
	g.sources[id] = sources.SourceFile{URL: "https://cdn.test/" + id + ".mp4", Mime: "video/mp4", Ext: "mp4"}
}

func (g *fakeGateway) Login(context.Context) error { return g.loginErr }

func (g *fakeGateway) ListVideos(_ context.Context, opts sources.ListOptions) (*engine.VideoPage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls = append(g.listCalls, opts)
	if err := g.pageErrs[opts.Page]; err != nil {
		return nil, err
	}
	return &engine.VideoPage{Page: opts.Page, Results: g.pages[opts.Page]}, nil
}

func (g *fakeGateway) GetVideo(_ context.Context, id string) (*engine.Video, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls = append(g.getCalls, id)
	return g.lookup(id)
}

func (g *fakeGateway) RefreshVideo(_ context.Context, id string) (*engine.Video, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshCalls = append(g.refreshCalls, id)
	return g.lookup(id)
}

func (g *fakeGateway) lookup(id string) (*engine.Video, error) {
	if err := g.metaErrs[id]; err != nil {
		return nil, err
	}
	v, ok := g.videos[id]
	if !ok {
		return nil, &sources.StatusError{Endpoint: "video", Code: 404}
	}
	return &v, nil
}

func (g *fakeGateway) ResolveSource(_ context.Context, v *engine.Video) (sources.SourceFile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolveCalls = append(g.resolveCalls, v.ID)
	if g.resolveFails[v.ID] > 0 {
		g.resolveFails[v.ID]--
		return sources.SourceFile{}, &sources.StatusError{Endpoint: "file", Code: 503}
	}
	if err := g.sourceErr[v.ID]; err != nil {
		return sources.SourceFile{}, err
	}
	sf, ok := g.sources[v.ID]
	if !ok {
		return sources.SourceFile{}, sources.ErrNoSourceVariant
	}
	return sf, nil
}

func (g *fakeGateway) countResolves(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.resolveCalls {
		if c == id {
			n++
		}
	}
	return n
}

func (g *fakeGateway) FileURL() string { return "https://files.test" }

// --- fetcher ---

type fakeFetcher struct {
	mu    sync.Mutex
	fail  map[string]error // by URL
	calls []download.Resource
}

func (f *fakeFetcher) Fetch(ctx context.Context, res download.Resource) (download.Outcome, error) {
	return f.FetchWithRetry(ctx, res)
}

func (f *fakeFetcher) FetchWithRetry(_ context.Context, res download.Resource) (download.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, res)
	if err := f.fail[res.URL]; err != nil {
		return download.Outcome{}, err
	}
	if _, err := os.Stat(res.Path); err == nil {
		return download.Outcome{Path: res.Path, Skipped: true}, nil
	}
	if err := os.WriteFile(res.Path, []byte(res.URL), 0o644); err != nil {
		return download.Outcome{}, err
	}
	return download.Outcome{Path: res.Path}, nil
}

// --- prober ---

type fakeProber struct {
	info media.Info
	err  error
}

func (p fakeProber) Probe(context.Context, string) (media.Info, error) { return p.info, p.err }

// --- publisher ---

type sent struct {
	kind    string // video, message, edit, delete
	id      int
	text    string
	html    bool
	replyTo int
	path    string
	thumb   string
	width   int
	height  int
}

type fakePublisher struct {
	mu      sync.Mutex
	nextID  int
	log     []sent
	failOn  func(s sent) error
	present map[int]string // message id -> current text
	// files seen at upload time
	uploaded []string
}

func newFakePublisher(firstID int) *fakePublisher {
	return &fakePublisher{nextID: firstID, present: map[int]string{}}
}

func (p *fakePublisher) record(s sent) (sent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn != nil {
		if err := p.failOn(s); err != nil {
			p.log = append(p.log, s)
			return s, err
		}
	}
	p.log = append(p.log, s)
	return s, nil
}

func (p *fakePublisher) PublishVideo(_ context.Context, post publish.VideoPost) (int, error) {
	for _, f := range []string{post.Path, post.ThumbPath} {
		if _, err := os.Stat(f); err != nil {
			return 0, fmt.Errorf("upload: %w", err)
		}
	}
	s, err := p.record(sent{kind: "video", text: post.Caption, html: true, path: post.Path, thumb: post.ThumbPath,
		width: post.Width, height: post.Height})
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploaded = append(p.uploaded, filepath.Base(post.Path))
	return p.assign(s), nil
}

func (p *fakePublisher) PublishMessage(_ context.Context, msg publish.Message) (int, error) {
	s, err := p.record(sent{kind: "message", text: msg.Text, html: msg.HTML, replyTo: msg.ReplyTo})
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assign(s), nil
}

// assign gives the last logged entry a message id. Caller holds mu.
func (p *fakePublisher) assign(s sent) int {
	p.nextID++
	id := p.nextID
	p.log[len(p.log)-1].id = id
	p.present[id] = s.text
	return id
}

func (p *fakePublisher) EditMessage(_ context.Context, id int, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, sent{kind: "edit", id: id, text: text})
	cur, ok := p.present[id]
	switch {
	case !ok:
		return errors.New("Bad Request: message to edit not found")
	case cur == text:
		return errors.New("Bad Request: message is not modified: specified new message content and reply markup are exactly the same")
	}
	p.present[id] = text
	return nil
}

func (p *fakePublisher) DeleteMessage(_ context.Context, id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, sent{kind: "delete", id: id})
	delete(p.present, id)
	return nil
}

func (p *fakePublisher) sentOf(kind string) []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sent
	for _, s := range p.log {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// --- fixtures ---

type fixture struct {
	gw         *fakeGateway
	fetcher    *fakeFetcher
	channel    *fakePublisher
	discussion *fakePublisher
	ledger     *ledger.SQLite
	authors    *AuthorRegistry
	dir        string
	pipeline   *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	l, err := ledger.OpenSQLite(context.Background(), filepath.Join(dir, "IwaraTgDB.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	mediaDir := filepath.Join(dir, "media")
	require.NoError(t, os.MkdirAll(mediaDir, 0o755))

	f := &fixture{
		gw:      newFakeGateway(),
		fetcher: &fakeFetcher{fail: map[string]error{}},
		channel: newFakePublisher(100),
		ledger:  l,
		dir:     mediaDir,
	}
	f.authors = LoadAuthorRegistry(filepath.Join(dir, "authors.json"), filepath.Join(dir, "author_tags_message_id.txt"), f.channel)
	f.pipeline = &Pipeline{
		Gateway:     f.gw,
		Ledger:      l,
		Fetcher:     f.fetcher,
		Prober:      fakeProber{info: media.Info{Width: 1920, Height: 1080}},
		Channel:     f.channel,
		Authors:     f.authors,
		Captions:    Captions{SiteURL: "https://iwara.tv", Blacklist: engine.DefaultDescriptionBlacklist},
		Rating:      engine.RatingEcchi,
		Pages:       2,
		PageSize:    32,
		DownloadDir: mediaDir,
		Retry:       engine.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		Now:         func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.Local) },
	}
	return f
}
