package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"statsrunner/internal/diag"
	"statsrunner/internal/process"
	"statsrunner/pkg/contract"
)

// - 单点并发：仅此层管理并发；处理器与统计项均为同步实现。
// - 失败隔离：单文件失败记录并计数，不影响其他文件。
// - 取消优先：仅操作员取消中止整批运行。

// Components 聚合运行所需的原子组件。
type Components struct {
	Corpus     contract.Corpus
	Writer     contract.Writer
	Aggregator contract.Aggregator
	Eligible   contract.Eligibility
}

// Settings 运行期配置。
type Settings struct {
	DataDir   string
	OutputDir string
	// Folder 非空时仅处理该发布者目录。
	Folder string
	// Concurrency <=1 顺序执行；>1 使用 worker 池。
	Concurrency int
	Run         contract.RunConfig
	// Echo: debug 模式下统计结果回显目标。
	Echo io.Writer
}

// Summary 运行结果计数。
type Summary struct {
	Items   int
	Failed  int
	Skipped int
}

// Run 枚举语料并逐文件处理。返回错误仅表示运行未能完成（装配错误、枚举失败或取消）；
// 单文件失败体现在 Summary.Failed。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Summary, error) {
	if err := sanity(comp, set); err != nil {
		return Summary{}, fmt.Errorf("sanity: %w", err)
	}
	start := time.Now()
	conc := set.Concurrency
	if conc < 1 {
		conc = 1
	}
	term := diag.GetTerminal()
	term.RunStart(conc, set.Run.StatsModule)

	items, err := enumerate(ctx, comp.Corpus, set, logger)
	if err != nil {
		code := diag.Classify(err)
		logger.Error("corpus", string(code), "enumerate failed", err)
		diag.IncOp("corpus", "error", "error")
		diag.IncError("corpus", string(code))
		term.RunFinish(false, time.Since(start))
		return Summary{}, fmt.Errorf("corpus enumerate: %w", err)
	}

	proc := &process.Processor{
		Router:   &process.Router{Writer: comp.Writer, Aggregator: comp.Aggregator},
		Eligible: comp.Eligible,
		Logger:   logger,
		Echo:     set.Echo,
	}
	var failed, skipped atomic.Int64
	one := func(ctx context.Context, it contract.WorkItem) error {
		t0 := time.Now()
		id := string(it.ID())
		oc, err := proc.Process(ctx, it)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return err
			}
			code := diag.Classify(err)
			logger.ErrorWith("pipeline", string(code), "file failed", err, id)
			diag.IncOp("pipeline", "file", "error")
			diag.IncError("pipeline", string(code))
			diag.IncFile(string(process.OutcomeFailed))
			failed.Add(1)
			term.FileDone(id, string(process.OutcomeFailed), time.Since(t0))
			return nil
		}
		if oc == process.OutcomeSkipped {
			skipped.Add(1)
		}
		diag.IncOp("pipeline", "file", "success")
		diag.IncFile(string(oc))
		term.FileDone(id, string(oc), time.Since(t0))
		return nil
	}

	timer := logger.Start("pipeline", "run")
	if conc == 1 {
		for _, it := range items {
			if err = one(ctx, it); err != nil {
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(conc)
		for _, it := range items {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error { return one(gctx, it) })
		}
		err = g.Wait()
		if err == nil {
			err = ctx.Err()
		}
	}
	sum := Summary{Items: len(items), Failed: int(failed.Load()), Skipped: int(skipped.Load())}
	if err != nil {
		logger.Error("pipeline", string(diag.Classify(err)), "run aborted", err)
		term.RunFinish(false, time.Since(start))
		return sum, err
	}
	timer.Finish("run", int64(len(items)))
	term.RunFinish(sum.Failed == 0, time.Since(start))
	return sum, nil
}

// enumerate 生成全部 WorkItem（稳定顺序）；非法 UTF-8 名称记录后丢弃。
func enumerate(ctx context.Context, corpus contract.Corpus, set Settings, logger *diag.Logger) ([]contract.WorkItem, error) {
	var items []contract.WorkItem
	err := corpus.Enumerate(ctx, set.DataDir, set.Folder, func(folder, name string) error {
		if !utf8.ValidString(folder) || !utf8.ValidString(name) {
			logger.Warn("corpus", "invalid utf-8 file name, dropped",
				zap.Binary("folder", []byte(folder)), zap.Binary("name", []byte(name)))
			diag.IncFile("dropped")
			return nil
		}
		items = append(items, contract.WorkItem{
			InputPath:  filepath.Join(set.DataDir, folder, name),
			OutputRoot: set.OutputDir,
			Folder:     folder,
			FileName:   name,
			Run:        set.Run,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func sanity(c Components, s Settings) error {
	if c.Corpus == nil {
		return errors.New("pipeline: missing corpus")
	}
	if s.Run.VerboseLoop && c.Writer == nil {
		return errors.New("pipeline: verbose loop requires a writer")
	}
	if !s.Run.VerboseLoop && c.Aggregator == nil {
		return errors.New("pipeline: missing aggregator")
	}
	if s.DataDir == "" || s.OutputDir == "" {
		return errors.New("pipeline: data and output dirs are required")
	}
	return nil
}
