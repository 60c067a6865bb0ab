package contract

import (
	"path/filepath"
	"testing"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"本地分隔符", filepath.Join("a", "b", "c"), "a/b/c"},
		{"相对路径反斜杠", "pub\\activities.xml", "pub/activities.xml"},
		{"清理多余斜杠", "pub//to///file.xml", "pub/to/file.xml"},
		{"处理父目录", "pub/x/../file.xml", "pub/file.xml"},
		{"空串", "", "."},
		{"中文路径", "发布者\\文件.xml", "发布者/文件.xml"},
		{"复杂父目录", "a\\b\\..\\..\\..\\d", "../d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFileID(tt.input); string(got) != tt.expected {
				t.Errorf("NormalizeFileID(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestWorkItemID(t *testing.T) {
	w := WorkItem{Folder: "pub", FileName: "a.xml"}
	if w.ID() != "pub/a.xml" {
		t.Fatalf("ID 错误: %s", w.ID())
	}
}

// 哨兵记录：元素序列为空，文件级字段固定。
func TestMarkers(t *testing.T) {
	cases := []struct {
		name string
		fs   FileStats
		key  string
	}{
		{"toolarge", TooLarge(50000001), "toolarge"},
		{"empty", EmptyFile(), "emptyfile"},
		{"invalid", InvalidXML(), "invalidxml"},
		{"roots", NonStandardRoots(), "nonstandardroots"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.fs.Materialize()
			if rec.File[tt.key] != 1 {
				t.Fatalf("缺少标记 %s: %v", tt.key, rec.File)
			}
			if rec.Elements == nil || len(rec.Elements) != 0 {
				t.Fatalf("elements 应为空切片: %#v", rec.Elements)
			}
		})
	}
	if TooLarge(7).File["file_size"] != int64(7) {
		t.Fatalf("file_size 未记录")
	}
}

func TestMaterializeConsumesLazySequence(t *testing.T) {
	calls := 0
	fs := FileStats{
		File: StatResult{"n": 1},
		Elements: func(yield func(StatResult) bool) {
			for i := 0; i < 3; i++ {
				calls++
				if !yield(StatResult{"i": i}) {
					return
				}
			}
		},
	}
	if calls != 0 {
		t.Fatalf("序列应为惰性")
	}
	rec := fs.Materialize()
	if len(rec.Elements) != 3 || calls != 3 {
		t.Fatalf("物化结果错误: %v calls=%d", rec.Elements, calls)
	}
	if rec.Elements[2]["i"] != 2 {
		t.Fatalf("顺序错误: %v", rec.Elements)
	}

	rec = FileStats{}.Materialize()
	if rec.File == nil || rec.Elements == nil {
		t.Fatalf("零值应物化为空映射与空切片")
	}
}

type emptySet struct{}

func (emptySet) Stats() []Stat { return nil }

func TestModuleFor(t *testing.T) {
	defs := Definitions{
		File:    func(FileContext) StatSet { return emptySet{} },
		Element: func(ElementContext) StatSet { return emptySet{} },
	}
	m := &Module{Name: "m", Activity: defs}
	if _, ok := m.For(FamilyActivity); !ok {
		t.Fatalf("activity 定义应存在")
	}
	if _, ok := m.For(FamilyOrganisation); ok {
		t.Fatalf("organisation 未定义，应返回 false")
	}
	if _, ok := m.For(FamilyUnrecognized); ok {
		t.Fatalf("未识别族应返回 false")
	}
	var nilMod *Module
	if _, ok := nilMod.For(FamilyActivity); ok {
		t.Fatalf("nil 模块应返回 false")
	}
	if FamilyOrganisation.String() != "organisation" || Family(99).String() != "unrecognized" {
		t.Fatalf("String 映射错误")
	}
}

func TestContextStrictness(t *testing.T) {
	var s Strictness = FileContext{Strict: true}
	if !s.IsStrict() {
		t.Fatalf("FileContext strict 丢失")
	}
	s = ElementContext{}
	if s.IsStrict() {
		t.Fatalf("ElementContext 默认非 strict")
	}
}
