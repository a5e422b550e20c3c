package acquire

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/genrecat/internal/domain"
)

type stubResolver struct {
	url   string
	err   error
	calls int
}

func (s *stubResolver) ResolveTrailer(ctx context.Context, id domain.ID) (string, error) {
	s.calls++
	return s.url, s.err
}

// stubFetcher 按配置写文件或失败，并记录调用次数。
type stubFetcher struct {
	probeErr error
	fetchErr error
	// write=true：Fetch 把 content 写到 dst（即使随后返回 fetchErr，用于模拟半成品）。
	write   bool
	extra   string // 额外写一个同前缀的中间文件（如 tt1.webm.part）
	content []byte

	probes  int
	fetches int
}

func (s *stubFetcher) Probe(ctx context.Context, locator string) error {
	s.probes++
	return s.probeErr
}

func (s *stubFetcher) Fetch(ctx context.Context, locator, dst string) error {
	s.fetches++
	if s.write {
		if err := os.WriteFile(dst, s.content, 0o644); err != nil {
			return err
		}
	}
	if s.extra != "" {
		if err := os.WriteFile(filepath.Join(filepath.Dir(dst), s.extra), []byte("x"), 0o644); err != nil {
			return err
		}
	}
	return s.fetchErr
}

func (s *stubFetcher) calls() int { return s.probes + s.fetches }

type fixture struct {
	layout   domain.Layout
	trailers *stubResolver
	audio    *stubFetcher
	poster   *stubFetcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		layout:   domain.Layout{DataDir: filepath.Join(t.TempDir(), "data_crime")},
		trailers: &stubResolver{url: "https://www.youtube.com/watch?v=k"},
		audio:    &stubFetcher{write: true, content: []byte("OggS")},
		poster:   &stubFetcher{write: true, content: []byte{0xff, 0xd8, 0xff}},
	}
}

func (f *fixture) acquirer() *Acquirer {
	return &Acquirer{Layout: f.layout, Trailers: f.trailers, Audio: f.audio, Poster: f.poster}
}

func newRecord(id string, poster string) *domain.MovieRecord {
	r := &domain.MovieRecord{ID: domain.ID(id), Tags: domain.NewTagSet(5), State: domain.StateNotAttempted}
	if poster != "" {
		r.PosterURI = domain.Some(poster)
	}
	return r
}

func exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	require.True(t, os.IsNotExist(err), "stat %s: %v", path, err)
	return false
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func assertAtomic(t *testing.T, l domain.Layout, id domain.ID) {
	t.Helper()
	a := exists(t, l.AudioPath(id))
	p := exists(t, l.PosterPath(id))
	assert.Equal(t, a, p, "audio=%v poster=%v：不允许只存在单个产物", a, p)
}

func TestAcquire_HappyPathCommits(t *testing.T) {
	f := newFixture(t)
	rec := newRecord("tt1", "https://img.example/tt1.jpg")

	out := f.acquirer().Acquire(context.Background(), rec)

	assert.Equal(t, domain.StateCommitted, out.State)
	assert.Equal(t, domain.StateCommitted, rec.State)
	assert.Equal(t, domain.StatusCommitted, out.Status())
	assert.Equal(t, []Stage{StageNotAttempted, StageValidating, StageFetching, StageCommitted}, out.Trail)
	assert.Empty(t, out.ErrorCode)
	assert.True(t, exists(t, f.layout.AudioPath("tt1")))
	assert.True(t, exists(t, f.layout.PosterPath("tt1")))
}

func TestAcquire_NoPosterSkipsWithoutWrites(t *testing.T) {
	f := newFixture(t)
	rec := newRecord("tt1", "")

	out := f.acquirer().Acquire(context.Background(), rec)

	assert.Equal(t, domain.StateSkipped, out.State)
	assert.Equal(t, domain.StateSkipped, rec.State)
	assert.Equal(t, domain.ErrCodeNoPoster, out.ErrorCode)
	assert.Equal(t, []Stage{StageNotAttempted, StageSkipped}, out.Trail)
	assert.Zero(t, f.trailers.calls)
	assert.Zero(t, f.audio.calls()+f.poster.calls())
	assert.Empty(t, dirEntries(t, f.layout.DataDir))
}

func TestAcquire_PosterFailureRollsBackAudio(t *testing.T) {
	f := newFixture(t)
	f.poster.write = false
	f.poster.fetchErr = errors.New("connection reset")
	rec := newRecord("tt1", "https://img.example/tt1.jpg")

	out := f.acquirer().Acquire(context.Background(), rec)

	assert.Equal(t, domain.StateSkipped, out.State)
	assert.Equal(t, domain.ErrCodePosterFetchFailed, out.ErrorCode)
	assert.Equal(t, StageFetching, out.Stage)
	assert.Equal(t, 1, f.audio.fetches, "音频应先成功下载")
	assert.False(t, exists(t, f.layout.AudioPath("tt1")), "音频必须被回滚删除")
	assert.False(t, exists(t, f.layout.PosterPath("tt1")))
}

func TestAcquire_PosterPartialWriteIsRemoved(t *testing.T) {
	f := newFixture(t)
	f.poster.fetchErr = errors.New("short write")
	rec := newRecord("tt1", "https://img.example/tt1.jpg")

	out := f.acquirer().Acquire(context.Background(), rec)

	assert.Equal(t, domain.ErrCodePosterFetchFailed, out.ErrorCode)
	assertAtomic(t, f.layout, "tt1")
	assert.False(t, exists(t, f.layout.PosterPath("tt1")))
}

func TestAcquire_AudioFailureCleansPartials(t *testing.T) {
	f := newFixture(t)
	f.audio.fetchErr = errors.New("yt-dlp exit 1")
	f.audio.extra = "tt1.webm.part"
	rec := newRecord("tt1", "https://img.example/tt1.jpg")

	require.NoError(t, os.MkdirAll(f.layout.AudioDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.layout.AudioDir(), "tt12.opus"), []byte("other"), 0o644))

	out := f.acquirer().Acquire(context.Background(), rec)

	assert.Equal(t, domain.ErrCodeAudioFetchFailed, out.ErrorCode)
	assert.Zero(t, f.poster.fetches, "音频失败后不应下载海报")
	assert.Equal(t, []string{"tt12.opus"}, dirEntries(t, f.layout.AudioDir()), "只清理本 ID 的文件")
	assertAtomic(t, f.layout, "tt1")
}

func TestAcquire_AudioMissingAfterSuccess(t *testing.T) {
	f := newFixture(t)
	f.audio.write = false
	f.audio.extra = "tt1.temp.webm"
	rec := newRecord("tt1", "https://img.example/tt1.jpg")

	out := f.acquirer().Acquire(context.Background(), rec)

	assert.Equal(t, domain.StateSkipped, out.State)
	assert.Equal(t, domain.ErrCodeAudioFetchFailed, out.ErrorCode)
	assert.Empty(t, dirEntries(t, f.layout.AudioDir()))
}

func TestAcquire_CommittedIsStable(t *testing.T) {
	f := newFixture(t)
	rec := newRecord("tt1", "https://img.example/tt1.jpg")

	first := f.acquirer().Acquire(context.Background(), rec)
	require.Equal(t, domain.StateCommitted, first.State)

	f2 := &fixture{layout: f.layout, trailers: &stubResolver{}, audio: &stubFetcher{}, poster: &stubFetcher{}}
	second := f2.acquirer().Acquire(context.Background(), rec)

	assert.Equal(t, domain.StateCommitted, second.State)
	assert.Equal(t, []Stage{StageNotAttempted, StageCommitted}, second.Trail)
	assert.Zero(t, f2.trailers.calls)
	assert.Zero(t, f2.audio.calls()+f2.poster.calls(), "已提交的记录不允许任何网络或写盘调用")
}

func TestAcquire_ExistingArtifactsWithoutPosterURI(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.layout.AudioDir(), 0o755))
	require.NoError(t, os.MkdirAll(f.layout.PosterDir(), 0o755))
	require.NoError(t, os.WriteFile(f.layout.AudioPath("tt9"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(f.layout.PosterPath("tt9"), []byte("p"), 0o644))

	rec := newRecord("tt9", "")
	out := f.acquirer().Acquire(context.Background(), rec)
	assert.Equal(t, domain.StateCommitted, out.State)
}

func TestAcquire_ValidationFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture, a *Acquirer)
		code  string
	}{
		{"resolver error", func(f *fixture, a *Acquirer) { f.trailers.err = errors.New("401") }, domain.ErrCodeNoTrailer},
		{"resolver empty", func(f *fixture, a *Acquirer) { f.trailers.url = "" }, domain.ErrCodeNoTrailer},
		{"no resolver", func(f *fixture, a *Acquirer) { a.Trailers = nil }, domain.ErrCodeNoTrailer},
		{"poster unreachable", func(f *fixture, a *Acquirer) { f.poster.probeErr = errors.New("HEAD 404") }, domain.ErrCodePosterUnreachable},
		{"trailer unreachable", func(f *fixture, a *Acquirer) {
			a.ProbeAudio = true
			f.audio.probeErr = errors.New("private video")
		}, domain.ErrCodeTrailerUnreachable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.acquirer()
			tc.setup(f, a)
			rec := newRecord("tt1", "https://img.example/tt1.jpg")

			out := a.Acquire(context.Background(), rec)

			assert.Equal(t, domain.StateSkipped, out.State)
			assert.Equal(t, tc.code, out.ErrorCode)
			assert.Equal(t, StageValidating, out.Stage)
			assert.Zero(t, f.audio.fetches+f.poster.fetches)
			assert.Empty(t, dirEntries(t, f.layout.DataDir))
		})
	}
}

func TestAcquire_DryRunStopsBeforeFetching(t *testing.T) {
	f := newFixture(t)
	a := f.acquirer()
	a.DryRun = true
	rec := newRecord("tt1", "https://img.example/tt1.jpg")

	out := a.Acquire(context.Background(), rec)

	assert.True(t, out.Validated)
	assert.Equal(t, domain.StatusValidated, out.Status())
	assert.Equal(t, StageFetching, out.Stage)
	assert.Equal(t, domain.StateNotAttempted, rec.State, "dry-run 不改变记录状态")
	assert.Equal(t, 1, f.poster.probes)
	assert.Zero(t, f.audio.fetches+f.poster.fetches)
	assert.Empty(t, dirEntries(t, f.layout.DataDir))
}

func TestAcquire_NilRecord(t *testing.T) {
	f := newFixture(t)
	out := f.acquirer().Acquire(context.Background(), nil)
	assert.Equal(t, domain.StateSkipped, out.State)
	assert.Error(t, out.Err)
}
