package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discogs-crawler/internal/checkpoint"
	"github.com/JakeFAU/discogs-crawler/internal/crawler"
	"github.com/JakeFAU/discogs-crawler/internal/extract"
	"github.com/JakeFAU/discogs-crawler/internal/fetcher/replay"
	"github.com/JakeFAU/discogs-crawler/internal/fetcher/retry"
	"github.com/JakeFAU/discogs-crawler/internal/id/uuid"
	"github.com/JakeFAU/discogs-crawler/internal/paginate"
	"github.com/JakeFAU/discogs-crawler/internal/sink"
	"github.com/JakeFAU/discogs-crawler/internal/storage/local"
)

const base = "https://www.discogs.com"

type noLimiter struct{}

func (noLimiter) Wait(ctx context.Context) error { return ctx.Err() }

type fakeSleeper struct{ delays []time.Duration }

func (s *fakeSleeper) Pause(_ context.Context, d time.Duration) {
	s.delays = append(s.delays, d)
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

// site builds a replayed catalog.
type site struct {
	mem *replay.Memory
}

func newSite() *site {
	return &site{mem: replay.NewMemory()}
}

func (s *site) listing(page int, artistIDs ...string) *site {
	var b strings.Builder
	b.WriteString(`<html><body><ul id="most_collected">`)
	for _, id := range artistIDs {
		fmt.Fprintf(&b, `<li><a href="/artist/%s">%s</a></li>`, id, id)
	}
	b.WriteString(`</ul></body></html>`)
	s.mem.AddHTML(listingURL(page), b.String())
	return s
}

func (s *site) artist(id, name string, albumIDs ...string) *site {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><h1>%s</h1><table>`, name)
	for _, a := range albumIDs {
		fmt.Fprintf(&b, `<tr><td><a href="/release/%s">%s</a></td></tr>`, a, a)
	}
	b.WriteString(`</table><p>profile</p></body></html>`)
	s.mem.AddHTML(base+"/artist/"+id, b.String())
	return s
}

func (s *site) album(id, title string) *site {
	s.mem.AddHTML(base+"/release/"+id, albumHTML(title))
	return s
}

func albumHTML(title string) string {
	return fmt.Sprintf(`<html><body><h1>%s</h1><table><tr><th>Year:</th><td>1999</td></tr></table></body></html>`, title)
}

func listingURL(page int) string {
	if page == 1 {
		return base + "/genre/rock"
	}
	return fmt.Sprintf("%s/genre/rock?page=%d", base, page)
}

type env struct {
	t       *testing.T
	site    *site
	output  string
	cursors string
	sleeper *fakeSleeper
	policy  retry.Policy
}

func newEnv(t *testing.T, s *site) *env {
	dir := t.TempDir()
	return &env{
		t:       t,
		site:    s,
		output:  filepath.Join(dir, "rock.jsonl"),
		cursors: filepath.Join(dir, "rock.jsonl.cursor.json"),
		sleeper: &fakeSleeper{},
		policy: retry.Policy{
			MaxRetries:    3,
			BackoffBase:   10 * time.Millisecond,
			BackoffCap:    time.Second,
			BlockCooldown: time.Second,
			BlockCeiling:  2,
		},
	}
}

// run executes one pipeline run against the shared output and cursor file.
// wrap, when set, decorates the JSONL sink.
func (e *env) run(ctx context.Context, cfg Config, wrap func(crawler.RecordSink) crawler.RecordSink) (crawler.RunSummary, error) {
	t := e.t
	t.Helper()

	cp := checkpoint.New(nil)
	_, err := cp.LoadFile(e.output)
	require.NoError(t, err)
	jsonl, err := sink.OpenJSONL(e.output)
	require.NoError(t, err)
	var out crawler.RecordSink = jsonl
	if wrap != nil {
		out = wrap(jsonl)
	}
	cursors, err := local.NewCursorStore(e.cursors)
	require.NoError(t, err)

	fetcher := retry.New(retry.Config{Policy: e.policy}, e.site.mem, noLimiter{}, e.sleeper, nil)
	if cfg.Genre.GenreID == "" {
		cfg.Genre = crawler.GenreRef{GenreID: "rock", GenreName: "Rock", ListingMode: crawler.ListingMostCollected}
	}
	runner, err := New(cfg, Deps{
		Paginator:  paginate.New(paginate.Config{BaseURL: base}, fetcher, nil),
		Fetcher:    fetcher,
		Artists:    extract.NewArtistExtractor(base, 0, fixedClock{}),
		Albums:     extract.NewAlbumExtractor(fixedClock{}),
		Checkpoint: cp,
		Sink:       out,
		Cursors:    cursors,
		Clock:      fixedClock{},
		IDs:        uuid.New(),
	})
	require.NoError(t, err)

	sum, runErr := runner.Run(ctx)
	require.NoError(t, out.Close())
	require.Equal(t, string(sum.State), runner.Phase())
	return sum, runErr
}

type line struct {
	RecordType string `json:"record_type"`
	ArtistID   string `json:"artist_id"`
	AlbumID    string `json:"album_id"`
}

func (e *env) lines() []line {
	e.t.Helper()
	f, err := os.Open(e.output)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(e.t, err)
	defer func() { _ = f.Close() }()

	var out []line
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l line
		require.NoError(e.t, json.Unmarshal(sc.Bytes(), &l))
		out = append(out, l)
	}
	return out
}

func (e *env) ids() []string {
	var out []string
	for _, l := range e.lines() {
		if l.RecordType == "artist" {
			out = append(out, "artist:"+l.ArtistID)
		} else {
			out = append(out, "album:"+l.AlbumID)
		}
	}
	return out
}

func (e *env) cursor() crawler.CrawlCursor {
	store, err := local.NewCursorStore(e.cursors)
	require.NoError(e.t, err)
	cur, ok, err := store.LoadCursor(context.Background(), "rock")
	require.NoError(e.t, err)
	require.True(e.t, ok)
	return cur
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// failingSink passes writes through until failAt writes happened.
type failingSink struct {
	crawler.RecordSink
	failAt int
	n      int
}

func (s *failingSink) next() error {
	s.n++
	if s.n >= s.failAt {
		return errors.New("disk full")
	}
	return nil
}

func (s *failingSink) WriteArtist(ctx context.Context, rec crawler.ArtistRecord) error {
	if err := s.next(); err != nil {
		return err
	}
	return s.RecordSink.WriteArtist(ctx, rec)
}

func (s *failingSink) WriteAlbum(ctx context.Context, rec crawler.AlbumRecord) error {
	if err := s.next(); err != nil {
		return err
	}
	return s.RecordSink.WriteAlbum(ctx, rec)
}

// cancelingSink requests a stop right after the named artist is written.
type cancelingSink struct {
	crawler.RecordSink
	artistID string
	cancel   context.CancelFunc
}

func (s *cancelingSink) WriteArtist(ctx context.Context, rec crawler.ArtistRecord) error {
	err := s.RecordSink.WriteArtist(ctx, rec)
	if rec.ArtistID == s.artistID {
		s.cancel()
	}
	return err
}

func TestRockScenario(t *testing.T) {
	s := newSite().
		listing(1, "a1", "a2").
		listing(2).
		artist("a2", "A2", "b1").
		album("b1", "B1")
	s.mem.AddHTML(base+"/artist/a1", `<html><body><h1></h1><p>no name</p></body></html>`)
	e := newEnv(t, s)

	sum, err := e.run(context.Background(), Config{}, nil)
	require.NoError(t, err)

	assert.Equal(t, crawler.StateDone, sum.State)
	assert.Equal(t, []line{
		{RecordType: "artist", ArtistID: "a2"},
		{RecordType: "album", ArtistID: "a2", AlbumID: "b1"},
	}, e.lines())
	assert.Equal(t, 1, sum.ArtistsPersisted)
	assert.Equal(t, 1, sum.ArtistsSkipped)
	assert.Equal(t, 1, sum.AlbumsPersisted)
	assert.Equal(t, 1, sum.PagesCrawled)
	assert.Equal(t, "rock", sum.GenreID)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 2, e.cursor().PageIndex)
}

func TestAlbumTimeoutsThenSuccess(t *testing.T) {
	s := newSite().listing(1, "a2").listing(2).artist("a2", "A2", "b2")
	s.mem.Add(base+"/release/b2",
		replay.Response{Err: context.DeadlineExceeded},
		replay.Response{Err: context.DeadlineExceeded},
		replay.Response{Status: http.StatusOK, HTML: albumHTML("B2")},
	)
	e := newEnv(t, s)

	sum, err := e.run(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.AlbumsPersisted)
	assert.Contains(t, e.ids(), "album:b2")
	assert.Equal(t, 3, s.mem.Calls(base+"/release/b2"))
	require.Len(t, e.sleeper.delays, 2)
	assert.Less(t, e.sleeper.delays[0], e.sleeper.delays[1])
}

func TestEmptyListingIsDone(t *testing.T) {
	e := newEnv(t, newSite().listing(1))

	sum, err := e.run(context.Background(), Config{RunID: "run-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, crawler.StateDone, sum.State)
	assert.Zero(t, sum.PagesCrawled)
	assert.Empty(t, e.lines())
}

func TestRepeatedRunsNeverDuplicate(t *testing.T) {
	s := newSite().
		listing(1, "a1", "a2").
		listing(2, "a3").
		listing(3).
		artist("a1", "A1", "b1", "b2").
		artist("a2", "A2", "b1").
		artist("a3", "A3").
		album("b1", "B1").
		album("b2", "B2")
	e := newEnv(t, s)

	for i := 0; i < 3; i++ {
		_, err := e.run(context.Background(), Config{Resume: i%2 == 1}, nil)
		require.NoError(t, err)
	}

	ids := e.ids()
	assert.Equal(t, []string{"album:b1", "album:b2", "artist:a1", "artist:a2", "artist:a3"}, sorted(ids))
}

func TestPlainRerunSkipsKnownArtistsWithoutFetch(t *testing.T) {
	s := newSite().
		listing(1, "a1", "a2").
		listing(2).
		artist("a1", "A1", "b1").
		artist("a2", "A2").
		album("b1", "B1")
	e := newEnv(t, s)

	_, err := e.run(context.Background(), Config{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, s.mem.Calls(base+"/artist/a1"))

	sum, err := e.run(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, crawler.StateDone, sum.State)
	assert.Equal(t, 2, sum.ArtistsSeen)
	assert.Equal(t, 1, s.mem.Calls(base+"/artist/a1"))
	assert.Equal(t, 1, s.mem.Calls(base+"/artist/a2"))
	assert.Equal(t, 1, s.mem.Calls(base+"/release/b1"))
	assert.Len(t, e.ids(), 3)
}

func TestResumeAfterCrashMatchesUninterruptedRun(t *testing.T) {
	build := func() *site {
		return newSite().
			listing(1, "a1", "a2").
			listing(2, "a3").
			listing(3).
			artist("a1", "A1", "c1", "c2").
			artist("a2", "A2", "d1").
			artist("a3", "A3", "e1").
			album("c1", "C1").
			album("c2", "C2").
			album("d1", "D1").
			album("e1", "E1")
	}

	reference := newEnv(t, build())
	_, err := reference.run(context.Background(), Config{}, nil)
	require.NoError(t, err)
	want := reference.ids()

	e := newEnv(t, build())
	sum, err := e.run(context.Background(), Config{Resume: true}, func(s crawler.RecordSink) crawler.RecordSink {
		return &failingSink{RecordSink: s, failAt: 3}
	})
	require.Error(t, err)
	assert.Equal(t, crawler.StateFailed, sum.State)
	assert.Equal(t, crawler.FailSink, sum.Reason)
	assert.Equal(t, []string{"artist:a1", "album:c1"}, e.ids())

	sum, err = e.run(context.Background(), Config{Resume: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, crawler.StateDone, sum.State)
	assert.Equal(t, sorted(want), sorted(e.ids()))
	assert.Len(t, e.ids(), len(want))
}

func TestCooperativeStopAndResume(t *testing.T) {
	s := newSite().
		listing(1, "a1", "a2", "a3").
		listing(2).
		artist("a1", "A1").
		artist("a2", "A2", "b1", "b2").
		artist("a3", "A3").
		album("b1", "B1").
		album("b2", "B2")
	e := newEnv(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sum, err := e.run(ctx, Config{Resume: true}, func(rs crawler.RecordSink) crawler.RecordSink {
		return &cancelingSink{RecordSink: rs, artistID: "a2", cancel: cancel}
	})
	require.NoError(t, err)
	assert.Equal(t, crawler.StateStopped, sum.State)
	assert.Equal(t, []string{"artist:a1", "artist:a2"}, e.ids())
	assert.Equal(t, crawler.CrawlCursor{GenreID: "rock", PageIndex: 1, LastArtistOffset: 1}, withoutTime(e.cursor()))
	assert.Zero(t, s.mem.Calls(base+"/artist/a3"))

	sum, err = e.run(context.Background(), Config{Resume: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, crawler.StateDone, sum.State)
	assert.Equal(t, []string{"artist:a1", "artist:a2", "album:b1", "album:b2", "artist:a3"}, e.ids())
	assert.Equal(t, 1, s.mem.Calls(base+"/artist/a1"))
}

func TestStopBeforeFirstPage(t *testing.T) {
	e := newEnv(t, newSite().listing(1, "a1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := e.run(ctx, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, crawler.StateStopped, sum.State)
	assert.Zero(t, e.site.mem.Calls(listingURL(1)))
	assert.Equal(t, 1, e.cursor().PageIndex)
}

func TestPaginationFailure(t *testing.T) {
	s := newSite().listing(1, "a1").artist("a1", "A1")
	s.mem.Add(listingURL(2), replay.Response{Status: http.StatusBadGateway, HTML: "<html><body>bad gateway</body></html>"})
	e := newEnv(t, s)

	sum, err := e.run(context.Background(), Config{}, nil)
	var pe *crawler.PaginationError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.PageIndex)
	assert.Equal(t, crawler.StateFailed, sum.State)
	assert.Equal(t, crawler.FailPagination, sum.Reason)
	assert.Equal(t, 2, sum.Cursor.PageIndex)
	assert.Equal(t, 4, s.mem.Calls(listingURL(2)))
	assert.Equal(t, []string{"artist:a1"}, e.ids())
}

func TestBlockCeilingFailsRun(t *testing.T) {
	s := newSite().listing(1, "a1").listing(2)
	s.mem.Add(base+"/artist/a1", replay.Response{Status: http.StatusTooManyRequests, HTML: "<html><body>slow down</body></html>"})
	e := newEnv(t, s)

	sum, err := e.run(context.Background(), Config{}, nil)
	require.ErrorIs(t, err, crawler.ErrBlockCeiling)
	assert.Equal(t, crawler.StateFailed, sum.State)
	assert.Equal(t, crawler.FailBlocked, sum.Reason)
}

func TestNotFoundArtistIsSkipped(t *testing.T) {
	s := newSite().listing(1, "gone", "a2").listing(2).artist("a2", "A2")
	e := newEnv(t, s)

	sum, err := e.run(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ArtistsSkipped)
	assert.Equal(t, 1, s.mem.Calls(base+"/artist/gone"))
	assert.Equal(t, []string{"artist:a2"}, e.ids())
}

func TestMaxArtists(t *testing.T) {
	s := newSite().listing(1, "a1", "a2", "a3").artist("a1", "A1").artist("a2", "A2").artist("a3", "A3")
	e := newEnv(t, s)

	sum, err := e.run(context.Background(), Config{MaxArtists: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, crawler.StateDone, sum.State)
	assert.Equal(t, 2, sum.ArtistsPersisted)
	assert.Equal(t, crawler.CrawlCursor{GenreID: "rock", PageIndex: 1, LastArtistOffset: 2}, withoutTime(e.cursor()))
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	var cfgErr *crawler.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = New(Config{Genre: crawler.GenreRef{GenreID: "rock"}}, Deps{})
	require.ErrorAs(t, err, &cfgErr)
}

func withoutTime(c crawler.CrawlCursor) crawler.CrawlCursor {
	c.UpdatedAt = time.Time{}
	return c
}
