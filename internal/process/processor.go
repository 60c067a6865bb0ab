// Package process 处理单个语料文件：尺寸守卫、解析、分类、统计调用，再交由路由落盘或聚合。
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"statsrunner/internal/diag"
	"statsrunner/internal/invoke"
	"statsrunner/internal/record"
	"statsrunner/pkg/contract"
	"statsrunner/pkg/registry"
)

// DefaultMaxFileSize 超过该字节数的文件不解析，直接记 toolarge。
const DefaultMaxFileSize int64 = 50_000_000

// Outcome: 单文件处理结论，用于终端与指标。
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeTooLarge         Outcome = "toolarge"
	OutcomeEmptyFile        Outcome = "emptyfile"
	OutcomeInvalidXML       Outcome = "invalidxml"
	OutcomeNonStandardRoots Outcome = "nonstandardroots"
	OutcomeFailed           Outcome = "failed"
)

// Processor 无跨文件状态；统计模块与选择器按 WorkItem.Run 中的名称在 worker 内解析。
type Processor struct {
	Router   *Router
	Eligible contract.Eligibility
	Logger   *diag.Logger
	// Echo: debug 模式下统计结果的回显目标；nil 为 stderr。
	Echo io.Writer
}

// ErrPanic: 处理单个文件时发生 panic（统计项之外，例如聚合器内部）。
var ErrPanic = fmt.Errorf("%w: panic while processing file", contract.ErrInvariantViolation)

// Process 处理一个文件。返回错误表示该文件失败（或取消）；哨兵记录不是错误。
// 任何 panic 都转为该文件的失败，不越过文件边界。
func (p *Processor) Process(ctx context.Context, it contract.WorkItem) (oc Outcome, err error) {
	if err := ctx.Err(); err != nil {
		return OutcomeFailed, err
	}
	id := string(it.ID())
	var timer *diag.Timer
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Debug("processor", "recovered panic", zap.String("file_id", id), zap.ByteString("stack", debug.Stack()))
			oc, err = OutcomeFailed, fmt.Errorf("%w: %v", ErrPanic, r)
		}
		switch {
		case timer == nil:
		case err != nil:
			timer.Finish("process failed", 0)
		default:
			timer.Finish("process", 0)
		}
	}()
	if it.Run.New {
		done, err := p.Router.Exists(ctx, it)
		if err != nil {
			return OutcomeFailed, err
		}
		if done {
			p.Logger.Debug("processor", "output exists, skip", zap.String("file_id", id))
			return OutcomeSkipped, nil
		}
	}
	timer = p.Logger.StartWith("processor", "process", id)

	m, err := registry.LookupStatsModule(it.Run.StatsModule)
	if err != nil {
		return OutcomeFailed, err
	}
	fs, outcome, err := p.compute(ctx, m, it)
	if err != nil {
		return OutcomeFailed, err
	}
	if err := p.Router.Route(ctx, m, it, fs); err != nil {
		return OutcomeFailed, err
	}
	return outcome, nil
}

// compute 生成单文件的 FileStats；元素序列保持惰性，由路由消费。
func (p *Processor) compute(ctx context.Context, m *contract.Module, it contract.WorkItem) (contract.FileStats, Outcome, error) {
	st, err := os.Stat(it.InputPath)
	if err != nil {
		return contract.FileStats{}, OutcomeFailed, err
	}
	limit := it.Run.MaxFileSize
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	if st.Size() > limit {
		return contract.TooLarge(st.Size()), OutcomeTooLarge, nil
	}

	doc, perr := parse(it.InputPath)
	if perr != nil {
		p.Logger.Warn("processor", "could not parse file", zap.String("file_id", string(it.ID())), zap.String("path", it.InputPath), zap.Error(perr))
		if st.Size() == 0 {
			return contract.EmptyFile(), OutcomeEmptyFile, nil
		}
		return contract.InvalidXML(), OutcomeInvalidXML, nil
	}

	root := doc.Root()
	family := record.Classify(root)
	defs, ok := m.For(family)
	if !ok {
		if family == contract.FamilyUnrecognized {
			return contract.NonStandardRoots(), OutcomeNonStandardRoots, nil
		}
		return contract.FileStats{}, OutcomeFailed, fmt.Errorf("%w: module %q has no %s definitions", contract.ErrUnknownModule, m.Name, family)
	}
	pred, err := registry.LookupSelector(it.Run.Selector)
	if err != nil {
		return contract.FileStats{}, OutcomeFailed, err
	}

	iv := invoke.Invoker{Eligible: p.Eligible, Logger: p.Logger, Debug: it.Run.Debug, Echo: p.Echo, FileID: string(it.ID())}
	where := "in " + it.InputPath
	file, err := iv.InvokeAll(ctx, defs.File(contract.FileContext{
		Doc:       doc,
		Root:      root,
		Strict:    it.Run.Strict,
		Context:   where,
		FileName:  filepath.Base(it.InputPath),
		InputPath: it.InputPath,
	}))
	if err != nil {
		return contract.FileStats{}, OutcomeFailed, err
	}

	version := record.Version(root)
	var seqErr error
	elements := func(yield func(contract.StatResult) bool) {
		for el := range record.Select(root, family, pred) {
			res, err := iv.InvokeAll(ctx, defs.Element(contract.ElementContext{
				Element: el,
				Strict:  it.Run.Strict,
				Context: where,
				Today:   it.Run.Today,
				Version: version,
			}))
			if err != nil {
				seqErr = err
				return
			}
			if !yield(res) {
				return
			}
		}
	}
	return contract.FileStats{File: file, Elements: elements, Err: func() error { return seqErr }}, OutcomeOK, nil
}

// parse 读取并解析文档；非 UTF-8 声明按 encoding 标签解码。
// 文档级只允许一个根元素，根外不得有非空白文本。
func parse(path string) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if err := doc.ReadFromFile(path); err != nil {
		return nil, err
	}
	roots := 0
	for _, tok := range doc.Child {
		switch t := tok.(type) {
		case *etree.Element:
			roots++
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				return nil, errors.New("text outside the root element")
			}
		}
	}
	switch {
	case roots == 0:
		return nil, errors.New("no root element")
	case roots > 1:
		return nil, fmt.Errorf("%d root elements", roots)
	}
	return doc, nil
}
