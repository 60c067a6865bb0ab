package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statsrunner/internal/diag"
	"statsrunner/internal/invoke"
	"statsrunner/pkg/contract"
	"statsrunner/pkg/registry"
	ajf "statsrunner/plugins/aggregator/jsonfile"
	aredis "statsrunner/plugins/aggregator/redis"
	wfs "statsrunner/plugins/writer/filesystem"
)

// fixture 模块：含失败、panic、内部辅助与 strict-only 统计项。
var cancelHook func()

type fixtureFile struct{ contract.FileContext }

func (s fixtureFile) Stats() []contract.Stat {
	return []contract.Stat{
		{Name: "ok", Fn: func() (any, error) { return 1, nil }},
		{Name: "boom", Fn: func() (any, error) { return nil, errors.New("boom") }},
		{Name: "panics", Fn: func() (any, error) { panic("bad") }},
		{Name: "_helper", Fn: func() (any, error) { return 1, nil }},
		{Name: "strict_only", Fn: func() (any, error) { return 1, nil }, StrictOnly: true},
		{Name: "fname", Fn: func() (any, error) { return s.FileName, nil }},
	}
}

type fixtureElement struct{ contract.ElementContext }

func (s fixtureElement) Stats() []contract.Stat {
	return []contract.Stat{
		{Name: "id", Fn: func() (any, error) {
			if cancelHook != nil {
				cancelHook()
			}
			return s.Element.FindElement("iati-identifier").Text(), nil
		}},
		{Name: "value", Fn: func() (any, error) { return decimal.RequireFromString("0.10"), nil }},
		{Name: "year", Fn: func() (any, error) { return s.Today.Year(), nil }},
	}
}

// nonfinite 模块：每层各有一个 NaN/Inf 统计项。
type nonFiniteFile struct{ contract.FileContext }

func (nonFiniteFile) Stats() []contract.Stat {
	return []contract.Stat{
		{Name: "ok", Fn: func() (any, error) { return 1, nil }},
		{Name: "nan", Fn: func() (any, error) { return math.NaN(), nil }},
	}
}

type nonFiniteElement struct{ contract.ElementContext }

func (nonFiniteElement) Stats() []contract.Stat {
	return []contract.Stat{
		{Name: "n", Fn: func() (any, error) { return 1, nil }},
		{Name: "inf", Fn: func() (any, error) { return map[string]float64{"x": math.Inf(1)}, nil }},
	}
}

func init() {
	registry.StatsModule["nonfinite"] = func() *contract.Module {
		return &contract.Module{Name: "nonfinite", Activity: contract.Definitions{
			File:    func(c contract.FileContext) contract.StatSet { return nonFiniteFile{c} },
			Element: func(c contract.ElementContext) contract.StatSet { return nonFiniteElement{c} },
		}}
	}
	registry.StatsModule["fixture"] = func() *contract.Module {
		defs := contract.Definitions{
			File:    func(c contract.FileContext) contract.StatSet { return fixtureFile{c} },
			Element: func(c contract.ElementContext) contract.StatSet { return fixtureElement{c} },
		}
		return &contract.Module{Name: "fixture", Activity: defs}
	}
}

const humanitarianDoc = `<iati-activities version="2.02">
 <iati-activity humanitarian="1"><iati-identifier>A1</iati-identifier></iati-activity>
 <iati-activity humanitarian="0"><iati-identifier>A2</iati-identifier></iati-activity>
 <iati-activity><iati-identifier>A3</iati-identifier><sector code="720" vocabulary="2"/></iati-activity>
</iati-activities>`

func newProcessor(t *testing.T, out string, log *diag.Logger) *Processor {
	t.Helper()
	w, err := wfs.New(&wfs.Options{OutputDir: out})
	require.NoError(t, err)
	if log == nil {
		log = diag.Nop()
	}
	return &Processor{
		Router:   &Router{Writer: w, Aggregator: ajf.New(nil)},
		Eligible: invoke.Default,
		Logger:   log,
		Echo:     io.Discard,
	}
}

func writeItem(t *testing.T, dir, name, content string, run contract.RunConfig) contract.WorkItem {
	t.Helper()
	pub := filepath.Join(dir, "data", "pub")
	require.NoError(t, os.MkdirAll(pub, 0o755))
	p := filepath.Join(pub, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return contract.WorkItem{InputPath: p, OutputRoot: filepath.Join(dir, "out"), Folder: "pub", FileName: name, Run: run}
}

func readRecord(t *testing.T, it contract.WorkItem) map[string]any {
	t.Helper()
	b, err := os.ReadFile(Destination(it))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(b, &rec))
	return rec
}

func verbose(module string) contract.RunConfig {
	return contract.RunConfig{VerboseLoop: true, StatsModule: module}
}

func TestVerboseOutputFormat(t *testing.T) {
	dir := t.TempDir()
	it := writeItem(t, dir, "a.xml", humanitarianDoc, verbose("count"))
	p := newProcessor(t, it.OutputRoot, nil)

	oc, err := p.Process(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, oc)

	b, err := os.ReadFile(filepath.Join(dir, "out", "loop", "pub", "a.xml"))
	require.NoError(t, err)
	want := `{
  "elements": [
    {
      "elements": 1
    },
    {
      "elements": 1
    }
  ],
  "file": {
    "children": 3,
    "files": 1
  }
}
`
	assert.Equal(t, want, string(b))
}

// 2.02 文档：humanitarian="1" 入选，humanitarian="0" 且无人道主义部门不入选。
func TestHumanitarianSelection(t *testing.T) {
	dir := t.TempDir()
	doc := `<iati-activities version="2.02"><iati-activity humanitarian="1"><iati-identifier>X</iati-identifier></iati-activity></iati-activities>`
	it := writeItem(t, dir, "yes.xml", doc, verbose("fixture"))
	p := newProcessor(t, it.OutputRoot, nil)
	_, err := p.Process(context.Background(), it)
	require.NoError(t, err)
	assert.Len(t, readRecord(t, it)["elements"], 1)

	doc = `<iati-activities version="2.02"><iati-activity humanitarian="0"><iati-identifier>X</iati-identifier></iati-activity></iati-activities>`
	it = writeItem(t, dir, "no.xml", doc, verbose("fixture"))
	_, err = p.Process(context.Background(), it)
	require.NoError(t, err)
	assert.Len(t, readRecord(t, it)["elements"], 0)
}

func TestSelectorAll(t *testing.T) {
	dir := t.TempDir()
	run := verbose("fixture")
	run.Selector = "all"
	it := writeItem(t, dir, "a.xml", humanitarianDoc, run)
	_, err := newProcessor(t, it.OutputRoot, nil).Process(context.Background(), it)
	require.NoError(t, err)
	assert.Len(t, readRecord(t, it)["elements"], 3)
}

// 单个统计项失败（错误或 panic）只使其缺席，其余照常输出。
func TestStatFailureIsolation(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	it := writeItem(t, dir, "a.xml", humanitarianDoc, verbose("fixture"))
	_, err := newProcessor(t, it.OutputRoot, diag.NewLoggerTo(&logs, "t", "info")).Process(context.Background(), it)
	require.NoError(t, err)

	rec := readRecord(t, it)
	file := rec["file"].(map[string]any)
	assert.Equal(t, map[string]any{"ok": float64(1), "fname": "a.xml"}, file)
	els := rec["elements"].([]any)
	require.Len(t, els, 2)
	assert.Equal(t, "A1", els[0].(map[string]any)["id"])
	assert.Equal(t, "A3", els[1].(map[string]any)["id"])
	assert.Contains(t, logs.String(), `"stat":"boom"`)
	assert.Contains(t, logs.String(), `"stat":"panics"`)
}

func TestStrictModeAndToday(t *testing.T) {
	dir := t.TempDir()
	run := verbose("fixture")
	run.Strict = true
	run.Today = mustDate(t, "2019-05-01")
	it := writeItem(t, dir, "a.xml", humanitarianDoc, run)
	_, err := newProcessor(t, it.OutputRoot, nil).Process(context.Background(), it)
	require.NoError(t, err)

	b, err := os.ReadFile(Destination(it))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"strict_only": 1`)
	assert.Contains(t, string(b), `"year": 2019`)
	assert.Contains(t, string(b), `"value": 0.1`)
}

func TestMarkers(t *testing.T) {
	cases := []struct {
		name, content string
		outcome       Outcome
		key           string
	}{
		{"empty.xml", "", OutcomeEmptyFile, "emptyfile"},
		{"bad.xml", "<iati-activities><oops></iati-activities>", OutcomeInvalidXML, "invalidxml"},
		{"text.xml", "not xml at all", OutcomeInvalidXML, "invalidxml"},
		{"other.xml", `<foo version="2.02"/>`, OutcomeNonStandardRoots, "nonstandardroots"},
		{"two-roots.xml", `<iati-activities><iati-activity/></iati-activities><junk/>`, OutcomeInvalidXML, "invalidxml"},
		{"trailing.xml", `<iati-activities/>garbage`, OutcomeInvalidXML, "invalidxml"},
		{"only-decl.xml", `<?xml version="1.0"?>` + "\n", OutcomeInvalidXML, "invalidxml"},
		{"ns.xml", `<iati-activities xmlns="urn:other"><iati-activity/></iati-activities>`, OutcomeNonStandardRoots, "nonstandardroots"},
		{"prefixed.xml", `<x:iati-activities xmlns:x="urn:other"/>`, OutcomeNonStandardRoots, "nonstandardroots"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			var logs bytes.Buffer
			it := writeItem(t, dir, tt.name, tt.content, verbose("iati"))
			oc, err := newProcessor(t, it.OutputRoot, diag.NewLoggerTo(&logs, "t", "info")).Process(context.Background(), it)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, oc)
			rec := readRecord(t, it)
			assert.Equal(t, map[string]any{tt.key: float64(1)}, rec["file"])
			assert.Equal(t, []any{}, rec["elements"])
			if tt.outcome != OutcomeNonStandardRoots {
				assert.Contains(t, logs.String(), "could not parse file")
			}
		})
	}
}

// 根元素外的注释、处理指令与空白是合法的。
func TestWellFormedPrologAndEpilog(t *testing.T) {
	dir := t.TempDir()
	doc := "<?xml version=\"1.0\"?>\n<!-- c -->\n" + humanitarianDoc + "\n<!-- end -->\n\n"
	it := writeItem(t, dir, "a.xml", doc, verbose("count"))
	oc, err := newProcessor(t, it.OutputRoot, nil).Process(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, oc)
}

// 非 UTF-8 声明的文档按声明解码。
func TestDeclaredCharset(t *testing.T) {
	dir := t.TempDir()
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
		"<iati-activities version=\"2.02\"><iati-activity><iati-identifier>caf\xe9</iati-identifier></iati-activity></iati-activities>"
	run := verbose("fixture")
	run.Selector = "all"
	it := writeItem(t, dir, "latin1.xml", doc, run)
	oc, err := newProcessor(t, it.OutputRoot, nil).Process(context.Background(), it)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, oc)
	els := readRecord(t, it)["elements"].([]any)
	require.Len(t, els, 1)
	assert.Equal(t, "café", els[0].(map[string]any)["id"])
}

// NaN/Inf 统计值只让该统计项缺席：verbose 记录照常写出，聚合不 panic。
func TestNonFiniteStatDropped(t *testing.T) {
	t.Run("verbose", func(t *testing.T) {
		dir := t.TempDir()
		run := verbose("nonfinite")
		run.Selector = "all"
		it := writeItem(t, dir, "a.xml", humanitarianDoc, run)
		oc, err := newProcessor(t, it.OutputRoot, nil).Process(context.Background(), it)
		require.NoError(t, err)
		assert.Equal(t, OutcomeOK, oc)
		rec := readRecord(t, it)
		assert.Equal(t, map[string]any{"ok": float64(1)}, rec["file"])
		assert.Len(t, rec["elements"], 3)
	})
	t.Run("aggregate", func(t *testing.T) {
		dir := t.TempDir()
		it := writeItem(t, dir, "a.xml", humanitarianDoc, contract.RunConfig{StatsModule: "nonfinite", Selector: "all"})
		oc, err := newProcessor(t, it.OutputRoot, nil).Process(context.Background(), it)
		require.NoError(t, err)
		assert.Equal(t, OutcomeOK, oc)
		b, err := os.ReadFile(filepath.Join(Destination(it), "n.json"))
		require.NoError(t, err)
		assert.Equal(t, "3\n", string(b))
		for _, name := range []string{"nan.json", "inf.json"} {
			_, err := os.Stat(filepath.Join(Destination(it), name))
			assert.True(t, os.IsNotExist(err), name)
		}
	})
}

type panicAggregator struct{}

func (panicAggregator) Aggregate(context.Context, *contract.Module, contract.FileStats, string) error {
	panic("aggregator bug")
}

// 统计项之外的 panic 转为该文件失败。
func TestPanicBecomesFileFailure(t *testing.T) {
	dir := t.TempDir()
	it := writeItem(t, dir, "a.xml", humanitarianDoc, contract.RunConfig{StatsModule: "count"})
	p := newProcessor(t, it.OutputRoot, nil)
	p.Router.Aggregator = panicAggregator{}
	var (
		oc  Outcome
		err error
	)
	require.NotPanics(t, func() { oc, err = p.Process(context.Background(), it) })
	assert.Equal(t, OutcomeFailed, oc)
	assert.ErrorIs(t, err, ErrPanic)
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
	assert.Contains(t, err.Error(), "aggregator bug")
}

// 超过 50,000,000 字节的文件不解析（稀疏文件，不占实际磁盘）。
func TestTooLarge(t *testing.T) {
	dir := t.TempDir()
	it := writeItem(t, dir, "big.xml", "", verbose("iati"))
	require.NoError(t, os.Truncate(it.InputPath, 50_000_001))
	oc, err := newProcessor(t, it.OutputRoot, nil).Process(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTooLarge, oc)
	rec := readRecord(t, it)
	assert.Equal(t, map[string]any{"toolarge": float64(1), "file_size": float64(50_000_001)}, rec["file"])

	// 恰好等于上限仍解析
	require.NoError(t, os.Truncate(it.InputPath, 16))
	it.Run.MaxFileSize = 16
	oc, err = newProcessor(t, it.OutputRoot, nil).Process(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidXML, oc)
}

func TestNewModeSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	run := verbose("count")
	run.New = true
	it := writeItem(t, dir, "a.xml", humanitarianDoc, run)
	require.NoError(t, os.MkdirAll(filepath.Dir(Destination(it)), 0o755))
	require.NoError(t, os.WriteFile(Destination(it), []byte("keep"), 0o644))

	oc, err := newProcessor(t, it.OutputRoot, nil).Process(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, oc)
	b, _ := os.ReadFile(Destination(it))
	assert.Equal(t, "keep", string(b))

	// 无输出时照常处理
	it.FileName = "b.xml"
	it.InputPath = strings.Replace(it.InputPath, "a.xml", "b.xml", 1)
	require.NoError(t, os.WriteFile(it.InputPath, []byte(humanitarianDoc), 0o644))
	oc, err = newProcessor(t, it.OutputRoot, nil).Process(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, oc)
}

// new 模式按 Writer 的映射判断：扁平化输出也能被识别为已处理。
func TestNewModeFlatWriter(t *testing.T) {
	dir := t.TempDir()
	run := verbose("count")
	run.New = true
	it := writeItem(t, dir, "a.xml", humanitarianDoc, run)
	flat := true
	w, err := wfs.New(&wfs.Options{OutputDir: filepath.Join(dir, "flat"), Flat: &flat})
	require.NoError(t, err)
	p := &Processor{Router: &Router{Writer: w}, Eligible: invoke.Default, Logger: diag.Nop(), Echo: io.Discard}

	oc, err := p.Process(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, oc)
	_, err = os.Stat(filepath.Join(dir, "flat", "a.xml"))
	require.NoError(t, err)

	oc, err = p.Process(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, oc)
}

// redis 聚合器不产生文件系统输出；new 模式重跑不得重复累加。
func TestNewModeRedisIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	agg := aredis.NewWithClient(client, "t:")

	dir := t.TempDir()
	it := writeItem(t, dir, "a.xml", humanitarianDoc, contract.RunConfig{StatsModule: "count", New: true})
	p := &Processor{Router: &Router{Aggregator: agg}, Eligible: invoke.Default, Logger: diag.Nop(), Echo: io.Discard}

	key := agg.Key(Destination(it))
	oc, err := p.Process(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, oc)
	assert.Equal(t, "1", mr.HGet(key, "files"))

	oc, err = p.Process(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, oc)
	assert.Equal(t, "1", mr.HGet(key, "files"))
	assert.Equal(t, "2", mr.HGet(key, "elements"))
}

func TestAggregateMode(t *testing.T) {
	dir := t.TempDir()
	it := writeItem(t, dir, "a.xml", humanitarianDoc, contract.RunConfig{StatsModule: "count"})
	_, err := newProcessor(t, it.OutputRoot, nil).Process(context.Background(), it)
	require.NoError(t, err)

	dest := filepath.Join(dir, "out", "aggregated-file", "pub", "a.xml")
	assert.Equal(t, dest, Destination(it))
	b, err := os.ReadFile(filepath.Join(dest, "elements.json"))
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(b))
	b, err = os.ReadFile(filepath.Join(dest, "children.json"))
	require.NoError(t, err)
	assert.Equal(t, "3\n", string(b))
}

// 元素统计期间取消：条目失败且不产生输出。
func TestCancelDuringElements(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelHook = cancel
	defer func() { cancelHook = nil }()

	it := writeItem(t, dir, "a.xml", humanitarianDoc, verbose("fixture"))
	oc, err := newProcessor(t, it.OutputRoot, nil).Process(ctx, it)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeFailed, oc)
	_, statErr := os.Stat(Destination(it))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessErrors(t *testing.T) {
	dir := t.TempDir()
	it := writeItem(t, dir, "a.xml", humanitarianDoc, verbose("nope"))
	p := newProcessor(t, it.OutputRoot, nil)
	_, err := p.Process(context.Background(), it)
	assert.ErrorIs(t, err, contract.ErrUnknownModule)

	it.Run.StatsModule = "count"
	it.Run.Selector = "nope"
	_, err = p.Process(context.Background(), it)
	assert.ErrorIs(t, err, contract.ErrUnknownModule)

	// fixture 未定义组织族
	it = writeItem(t, dir, "org.xml", `<iati-organisations><iati-organisation/></iati-organisations>`, verbose("fixture"))
	_, err = p.Process(context.Background(), it)
	assert.ErrorIs(t, err, contract.ErrUnknownModule)

	it.InputPath = filepath.Join(dir, "missing.xml")
	_, err = p.Process(context.Background(), it)
	assert.Error(t, err)
}

func TestEncodeRecordEmpty(t *testing.T) {
	b, err := EncodeRecord(contract.FileStats{}.Materialize())
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"elements\": [],\n  \"file\": {}\n}\n", string(b))
	assert.Equal(t, contract.ArtifactID("loop/pub/a.xml"), Artifact(contract.WorkItem{Folder: "pub", FileName: "a.xml"}))
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}
