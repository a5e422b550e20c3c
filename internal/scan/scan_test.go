package scan

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/John-Robertt/genrecat/internal/domain"
)

func newLayout(t *testing.T) domain.Layout {
	t.Helper()
	return domain.Layout{DataDir: filepath.Join(t.TempDir(), "data_action_crime")}
}

func TestScanArtifacts_MissingDirs(t *testing.T) {
	res, err := ScanArtifacts(newLayout(t))
	if err != nil {
		t.Fatalf("目录不存在不应报错：%v", err)
	}
	if len(res.Artifacts) != 0 || len(res.Residues) != 0 {
		t.Fatalf("期望空结果：%+v", res)
	}
}

func TestScanArtifacts_Classifies(t *testing.T) {
	l := newLayout(t)

	touch(t, l.AudioPath("tt1"))
	touch(t, l.PosterPath("tt1"))
	touch(t, l.AudioPath("tt2"))  // 孤儿：只有音频
	touch(t, l.PosterPath("tt3")) // 孤儿：只有海报
	touch(t, filepath.Join(l.AudioDir(), "tt4.webm.part"))
	touch(t, filepath.Join(l.AudioDir(), "tt4.webm"))
	touch(t, filepath.Join(l.PosterDir(), ".tt5.jpg.tmp-123"))
	touch(t, filepath.Join(l.DataDir, ".IMDb_Genres_Data.csv.tmp-9"))
	touch(t, filepath.Join(l.AudioDir(), "notes.txt"))
	touch(t, filepath.Join(l.PosterDir(), "cover.png"))
	touch(t, l.CatalogPath())

	res, err := ScanArtifacts(l)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if !res.Artifacts["tt1"].Both() {
		t.Fatalf("tt1 应两个产物都在：%+v", res.Artifacts["tt1"])
	}
	if got, want := res.Orphans(), []domain.ID{"tt2", "tt3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("孤儿不符合预期：got=%v want=%v", got, want)
	}

	want := []string{
		filepath.Join(l.DataDir, ".IMDb_Genres_Data.csv.tmp-9"),
		filepath.Join(l.AudioDir(), "tt4.webm"),
		filepath.Join(l.AudioDir(), "tt4.webm.part"),
		filepath.Join(l.PosterDir(), ".tt5.jpg.tmp-123"),
	}
	got := append([]string(nil), res.Residues...)
	if !sameSet(got, want) {
		t.Fatalf("中间文件不符合预期：\ngot=%v\nwant=%v", got, want)
	}
}

func TestReconcile_RemovesOrphansAndResidues(t *testing.T) {
	l := newLayout(t)

	touch(t, l.AudioPath("tt1"))
	touch(t, l.PosterPath("tt1"))
	touch(t, l.AudioPath("tt2"))
	touch(t, l.PosterPath("tt3"))
	touch(t, filepath.Join(l.AudioDir(), "tt4.webm.ytdl"))
	touch(t, filepath.Join(l.AudioDir(), "notes.txt"))

	rec, err := Reconcile(l)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !reflect.DeepEqual(rec.OrphansRemoved, []domain.ID{"tt2", "tt3"}) {
		t.Fatalf("孤儿删除不符合预期：%v", rec.OrphansRemoved)
	}
	if rec.ResiduesRemoved != 1 {
		t.Fatalf("期望删除 1 个中间文件，实际 %d", rec.ResiduesRemoved)
	}

	for _, p := range []string{l.AudioPath("tt1"), l.PosterPath("tt1"), filepath.Join(l.AudioDir(), "notes.txt")} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s 不应被删除：%v", p, err)
		}
	}
	for _, p := range []string{l.AudioPath("tt2"), l.PosterPath("tt3"), filepath.Join(l.AudioDir(), "tt4.webm.ytdl")} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s 应被删除：%v", p, err)
		}
	}

	// 对账后每个 ID 都满足“两个都在或都不在”；再次对账无事可做。
	again, err := Reconcile(l)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(again.OrphansRemoved) != 0 || again.ResiduesRemoved != 0 {
		t.Fatalf("第二次对账应为空：%+v", again)
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	m := map[string]int{}
	for _, s := range a {
		m[s]++
	}
	for _, s := range b {
		m[s]--
	}
	for _, v := range m {
		if v != 0 {
			return false
		}
	}
	return true
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}

func TestReconcile_UppercaseExtensionIsNotAnArtifact(t *testing.T) {
	l := newLayout(t)
	upperAudio := filepath.Join(l.AudioDir(), "tt1.OPUS")
	upperPoster := filepath.Join(l.PosterDir(), "tt2.JPG")
	touch(t, upperAudio)
	touch(t, upperPoster)

	got, err := Reconcile(l)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	// 报告的孤儿必须真的被删掉；大小写不符的文件不算产物。
	if len(got.OrphansRemoved) != 0 {
		t.Fatalf("不应报告孤儿：%+v", got)
	}
	// 音频目录里以 <id>. 开头的非产物文件按下载器中间文件清理。
	if got.ResiduesRemoved != 1 {
		t.Fatalf("期望清理 1 个中间文件：%+v", got)
	}
	if _, err := os.Stat(upperAudio); !os.IsNotExist(err) {
		t.Fatalf("tt1.OPUS 应已删除：err=%v", err)
	}
	// 海报目录里的非产物文件不属于本工具，保持不动。
	if _, err := os.Stat(upperPoster); err != nil {
		t.Fatalf("tt2.JPG 不应被删除：%v", err)
	}
}
