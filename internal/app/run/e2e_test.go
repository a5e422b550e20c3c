package run

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/genrecat/internal/catalogcsv"
	"github.com/John-Robertt/genrecat/internal/config"
	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/infra/fsx"
	"github.com/John-Robertt/genrecat/internal/provider"
)

type stubSession struct {
	batches map[int][]domain.Observation
	errs    map[int]error
	closed  int
}

func (s *stubSession) Observe(ctx context.Context, g domain.Genre, expand int) ([]domain.Observation, error) {
	if err := s.errs[g.Code]; err != nil {
		return nil, err
	}
	return s.batches[g.Code], nil
}

func (s *stubSession) Close() error {
	s.closed++
	return nil
}

type stubTrailers map[domain.ID]string

func (s stubTrailers) ResolveTrailer(ctx context.Context, id domain.ID) (string, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return "", errors.New("no trailer")
}

// stubFetcher 把 locator 写到 dst；failFetch 中的 locator 返回错误且不写文件。
type stubFetcher struct {
	failFetch map[string]bool
	probes    []string
	fetches   []string
}

func (f *stubFetcher) Probe(ctx context.Context, locator string) error {
	f.probes = append(f.probes, locator)
	return nil
}

func (f *stubFetcher) Fetch(ctx context.Context, locator, dst string) error {
	f.fetches = append(f.fetches, locator)
	if f.failFetch[locator] {
		return errors.New("boom")
	}
	return os.WriteFile(dst, []byte(locator), 0o644)
}

func obs(tag, pos int, id, title string) domain.Observation {
	o := domain.Observation{
		Tag:       tag,
		Position:  pos,
		TitleLine: title,
		ID:        domain.ID(id),
		Href:      "/title/" + id + "/",
	}
	if id != "" {
		o.PosterURL = "https://img.test/" + id + ".jpg"
	}
	return o
}

type fixture struct {
	root    string
	eff     config.EffectiveConfig
	session *stubSession
	audio   *stubFetcher
	poster  *stubFetcher
	opens   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	return &fixture{
		root: root,
		eff: config.EffectiveConfig{
			DataRoot: root,
			Genres:   []domain.Genre{{Code: 5, Name: "crime"}},
			Acquire:  true,
		},
		session: &stubSession{batches: map[int][]domain.Observation{
			5: {
				obs(5, 1, "tt0000001", "1. First"),
				obs(5, 2, "tt0000002", "2. Second"),
				obs(5, 3, "", "3. Broken"),
			},
		}},
		audio:  &stubFetcher{},
		poster: &stubFetcher{},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Open: func(ctx context.Context) (provider.Session, error) {
			f.opens++
			return f.session, nil
		},
		Trailers: stubTrailers{
			"tt0000001": "https://www.youtube.com/watch?v=one",
			"tt0000002": "https://www.youtube.com/watch?v=two",
		},
		Audio:  f.audio,
		Poster: f.poster,
		RunID:  "test-run",
	}
}

func (f *fixture) layout() domain.Layout { return f.eff.Layout() }

func itemByID(rr domain.RunReport, id string) (domain.ItemResult, bool) {
	for _, it := range rr.Items {
		if it.ID == id {
			return it, true
		}
	}
	return domain.ItemResult{}, false
}

func TestExecute_DryRun_NoWrites(t *testing.T) {
	f := newFixture(t)

	rr := Execute(context.Background(), f.eff, f.deps())

	if _, err := os.Stat(f.layout().DataDir); !os.IsNotExist(err) {
		t.Fatalf("dry-run 不应创建数据目录，但 Stat err=%v", err)
	}
	if len(f.audio.fetches) != 0 || len(f.poster.fetches) != 0 {
		t.Fatalf("dry-run 不应下载：audio=%v poster=%v", f.audio.fetches, f.poster.fetches)
	}
	if len(f.audio.probes) != 2 {
		t.Fatalf("dry-run 应探测预告片，实际 probes=%v", f.audio.probes)
	}
	if f.session.closed != 1 {
		t.Fatalf("会话应被关闭一次，实际 %d", f.session.closed)
	}

	if !rr.DryRun || rr.RunID != "test-run" {
		t.Fatalf("report 头部不符合预期：%+v", rr)
	}
	s := rr.Summary
	if s.Observed != 3 || s.Discarded != 1 || s.Inserted != 2 || s.Validated != 2 || s.Failed != 0 {
		t.Fatalf("summary 不符合预期：%+v items=%+v", s, rr.Items)
	}
	if s.Persisted != 2 {
		t.Fatalf("dry-run 也应给出将写出的行数，实际 %d", s.Persisted)
	}
	// 合成/丢弃条目排在最后。
	if last := rr.Items[len(rr.Items)-1]; last.ID != "" || last.ErrorCode != domain.ErrCodeUnresolvedID {
		t.Fatalf("丢弃条目应排在最后：%+v", last)
	}
}

func TestExecute_Apply_CommitsAndPersists(t *testing.T) {
	f := newFixture(t)
	f.eff.Apply = true

	rr := Execute(context.Background(), f.eff, f.deps())

	if rr.Summary.Committed != 2 || rr.Summary.Failed != 0 || rr.Summary.Persisted != 2 {
		t.Fatalf("summary 不符合预期：%+v items=%+v", rr.Summary, rr.Items)
	}
	l := f.layout()
	for _, id := range []domain.ID{"tt0000001", "tt0000002"} {
		for _, p := range []string{l.AudioPath(id), l.PosterPath(id)} {
			if ok, err := fsx.Exists(p); err != nil || !ok {
				t.Fatalf("期望产物存在：%s (err=%v)", p, err)
			}
		}
	}

	c, err := catalogcsv.Load(l.CatalogPath())
	if err != nil {
		t.Fatalf("读取目录表失败：%v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("期望 2 行，实际 %d", c.Len())
	}
	r, _ := c.Get("tt0000001")
	if r.State != domain.StateCommitted || r.Title.Or("") != "First" {
		t.Fatalf("记录不符合预期：%+v", r)
	}
}

func TestExecute_Apply_SecondRunIsStable(t *testing.T) {
	f := newFixture(t)
	f.eff.Apply = true
	_ = Execute(context.Background(), f.eff, f.deps())

	// 第二轮：同一批观测再加一条重复；已提交的记录不应再次下载。
	f.audio.fetches, f.poster.fetches = nil, nil
	f.session.batches[5] = append(f.session.batches[5], obs(5, 4, "tt0000001", "4. Dup"))

	rr := Execute(context.Background(), f.eff, f.deps())

	if len(f.audio.fetches) != 0 || len(f.poster.fetches) != 0 {
		t.Fatalf("已提交记录不应重新下载：audio=%v poster=%v", f.audio.fetches, f.poster.fetches)
	}
	if rr.Summary.Inserted != 0 || rr.Summary.Collisions != 3 {
		t.Fatalf("期望全部为碰撞：%+v", rr.Summary)
	}
	if rr.Summary.Persisted != 2 {
		t.Fatalf("期望写出 2 行，实际 %+v", rr.Summary)
	}

	c, err := catalogcsv.Load(f.layout().CatalogPath())
	if err != nil {
		t.Fatalf("读取目录表失败：%v", err)
	}
	r, _ := c.Get("tt0000001")
	if r.Title.Or("") != "First" || r.State != domain.StateCommitted {
		t.Fatalf("标量字段应先写者胜、状态保持 committed：%+v", r)
	}
}

func TestExecute_Apply_PosterFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.eff.Apply = true
	f.poster.failFetch = map[string]bool{"https://img.test/tt0000002.jpg": true}

	rr := Execute(context.Background(), f.eff, f.deps())

	it, ok := itemByID(rr, "tt0000002")
	if !ok || it.Status != domain.StatusSkipped || it.ErrorCode != domain.ErrCodePosterFetchFailed {
		t.Fatalf("tt0000002 结果不符合预期：%+v", it)
	}
	l := f.layout()
	if ok, _ := fsx.Exists(l.AudioPath("tt0000002")); ok {
		t.Fatalf("海报失败后音频应被回滚")
	}

	// 新观测且未提交的记录不写入目录表；没有旧行可保留。
	if rr.Summary.Persisted != 1 {
		t.Fatalf("期望只写出已提交的 1 行：%+v", rr.Summary)
	}
	c, err := catalogcsv.Load(l.CatalogPath())
	if err != nil {
		t.Fatalf("读取目录表失败：%v", err)
	}
	if _, ok := c.Get("tt0000002"); ok {
		t.Fatalf("未提交的新记录不应被写入")
	}
	if r, ok := c.Get("tt0000001"); !ok || r.State != domain.StateCommitted {
		t.Fatalf("已提交记录应写入：%+v ok=%v", r, ok)
	}
}

func TestExecute_Apply_PreviousRowSurvivesFailedRetry(t *testing.T) {
	f := newFixture(t)
	f.eff.Apply = true
	l := f.layout()
	if err := os.MkdirAll(l.DataDir, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	old := "identifier,title,tags,poster_uri,resource_state\n" +
		"tt0000002,Second,[5],https://img.test/tt0000002.jpg,skipped\n"
	if err := os.WriteFile(l.CatalogPath(), []byte(old), 0o644); err != nil {
		t.Fatalf("写入旧目录表失败：%v", err)
	}
	f.poster.failFetch = map[string]bool{"https://img.test/tt0000002.jpg": true}

	rr := Execute(context.Background(), f.eff, f.deps())

	if rr.Summary.Persisted != 2 {
		t.Fatalf("旧行应保留：%+v", rr.Summary)
	}
	c, err := catalogcsv.Load(l.CatalogPath())
	if err != nil {
		t.Fatalf("读取目录表失败：%v", err)
	}
	r, ok := c.Get("tt0000002")
	if !ok || r.State != domain.StateSkipped {
		t.Fatalf("旧行应以 skipped 保留：%+v ok=%v", r, ok)
	}
}

func TestExecute_Apply_ReconcilesOrphans(t *testing.T) {
	f := newFixture(t)
	f.eff.Apply = true
	l := f.layout()
	if err := os.MkdirAll(l.AudioDir(), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	orphan := l.AudioPath("tt0000009")
	if err := os.WriteFile(orphan, []byte("a"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}

	rr := Execute(context.Background(), f.eff, f.deps())

	if rr.Summary.OrphansRemoved != 1 {
		t.Fatalf("期望清理 1 个孤儿，实际 %+v", rr.Summary)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("孤儿产物应被删除，Stat err=%v", err)
	}
}

func TestExecute_GenreFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	f.eff.Genres = []domain.Genre{{Code: 5, Name: "crime"}, {Code: 13, Name: "horror"}}
	f.session.errs = map[int]error{
		13: &provider.Error{Provider: "imdb", Stage: provider.StageFetch, Err: &provider.HTTPStatusError{Method: "GET", URL: "u", StatusCode: 503}},
	}

	rr := Execute(context.Background(), f.eff, f.deps())

	var failed []domain.ItemResult
	for _, it := range rr.Items {
		if it.Status == domain.StatusFailed {
			failed = append(failed, it)
		}
	}
	if len(failed) != 1 || failed[0].Genre != "horror" || failed[0].ErrorCode != domain.ErrCodeFetchFailed {
		t.Fatalf("期望 horror 失败一条：%+v", failed)
	}
	if !strings.Contains(failed[0].ErrorMsg, "503") {
		t.Fatalf("错误信息应包含状态码：%q", failed[0].ErrorMsg)
	}
	if rr.Summary.Inserted != 2 {
		t.Fatalf("其它类别应照常处理：%+v", rr.Summary)
	}
}

func TestExecute_NoAcquire_PersistsReducedColumns(t *testing.T) {
	f := newFixture(t)
	f.eff.Apply = true
	f.eff.Acquire = false

	rr := Execute(context.Background(), f.eff, f.deps())

	if len(f.audio.probes)+len(f.poster.probes) != 0 {
		t.Fatalf("--no-acquire 不应触发任何资源请求")
	}
	if rr.Summary.Persisted != 2 {
		t.Fatalf("期望写出 2 行：%+v", rr.Summary)
	}
	b, err := os.ReadFile(f.layout().CatalogPath())
	if err != nil {
		t.Fatalf("读取目录表失败：%v", err)
	}
	header := strings.SplitN(string(b), "\n", 2)[0]
	if header != "identifier,title,tags,poster_uri" {
		t.Fatalf("表头不符合预期：%q", header)
	}
}

func TestExecute_CorruptCatalogFailsWithoutOverwrite(t *testing.T) {
	f := newFixture(t)
	f.eff.Apply = true
	l := f.layout()
	if err := os.MkdirAll(l.DataDir, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	bad := []byte("title\nno id column\n")
	if err := os.WriteFile(l.CatalogPath(), bad, 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}

	rr := Execute(context.Background(), f.eff, f.deps())

	if rr.Summary.Failed != 1 || rr.Items[len(rr.Items)-1].ErrorCode != domain.ErrCodeIOFailed {
		t.Fatalf("期望 io_failed：%+v", rr.Items)
	}
	if f.opens != 0 {
		t.Fatalf("读取失败后不应继续观测")
	}
	got, _ := os.ReadFile(l.CatalogPath())
	if string(got) != string(bad) {
		t.Fatalf("旧目录表不应被覆盖：%q", got)
	}
}

func TestExecute_LockedDataDir(t *testing.T) {
	f := newFixture(t)
	f.eff.Apply = true
	lock, err := fsx.LockDir(f.layout().DataDir)
	if err != nil {
		t.Fatalf("加锁失败：%v", err)
	}
	t.Cleanup(func() { _ = lock.Unlock() })

	rr := Execute(context.Background(), f.eff, f.deps())

	if rr.Summary.Failed != 1 || rr.Items[0].ErrorCode != domain.ErrCodeLockFailed {
		t.Fatalf("期望 lock_failed：%+v", rr.Items)
	}
	if _, err := os.Stat(filepath.Join(f.layout().DataDir, domain.CatalogFileName)); !os.IsNotExist(err) {
		t.Fatalf("加锁失败时不应写目录表，Stat err=%v", err)
	}
}
