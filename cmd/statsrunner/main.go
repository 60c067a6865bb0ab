package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	cfgpkg "statsrunner/internal/config"
	"statsrunner/internal/diag"
	"statsrunner/internal/pipeline"
)

// 退出码
const (
	exitOK        = 0
	exitFailed    = 1
	exitConfig    = 3
	exitCancelled = 130
)

var (
	pipelineRun = pipeline.Run
	newLogger   = diag.NewLogger
	version     = "dev"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute 构建命令树并执行，返回进程退出码。
func execute(args []string, stdout, stderr io.Writer) int {
	code := exitOK
	root := newRootCmd(&code, stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fprintf(stderr, "%v\n", err)
		if code == exitOK {
			code = exitConfig
		}
	}
	return code
}

func newRootCmd(code *int, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "statsrunner",
		Short: "Compute statistics over a corpus of IATI XML files",
		Long: `statsrunner walks <data>/<folder>/<file>, classifies each document,
runs the selected statistics module and either writes one JSON record per file
(--verbose-loop) or merges results through an aggregator.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	lf := &loopFlags{}
	loop := &cobra.Command{
		Use:   "loop",
		Short: "Process every file of the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			*code = runLoop(cmd.Context(), cmd.Flags(), lf, stderr)
			return nil
		},
	}
	lf.bind(loop.Flags())
	root.AddCommand(loop)

	root.AddCommand(&cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write config.json and .env templates (existing files are kept)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			*code = runInitConfig(dir, stderr)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "statsrunner %s\n", version)
		},
	})
	return root
}

// loopFlags: loop 子命令旗标；仅显式给出的旗标进入 CLI 覆盖层。
type loopFlags struct {
	config      string
	data        string
	output      string
	folder      string
	today       string
	statsModule string
	aggregator  string
	eligibility string
	selector    string
	logLevel    string
	metricsFile string
	multi       int
	maxFileSize int64
	newOnly     bool
	verbose     bool
	strict      bool
	debug       bool
	status      bool
}

func (f *loopFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "配置文件路径（JSON/YAML）；缺省读取 ./config.json 或 ./config.yaml（若存在）")
	fs.StringVar(&f.data, "data", "", "语料根目录")
	fs.StringVar(&f.output, "output", "", "输出根目录")
	fs.StringVar(&f.folder, "folder", "", "仅处理该发布者目录")
	fs.StringVar(&f.today, "today", "", "as-of 日期（2006-01-02）；缺省为运行当天")
	fs.StringVar(&f.statsModule, "stats-module", "", "统计模块名")
	fs.StringVar(&f.aggregator, "aggregator", "", "聚合器名（非 verbose 模式）")
	fs.StringVar(&f.eligibility, "eligibility", "", "统计项资格谓词名")
	fs.StringVar(&f.selector, "selector", "", "元素选择器名")
	fs.StringVar(&f.logLevel, "log-level", "", "日志等级 debug|info|warn|error")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "运行结束后写出 Prometheus 文本指标")
	fs.IntVar(&f.multi, "multi", 0, "worker 数；1 为顺序执行")
	fs.Int64Var(&f.maxFileSize, "max-file-size", 0, "超过该字节数的文件记 toolarge")
	fs.BoolVar(&f.newOnly, "new", false, "输出已存在时跳过")
	fs.BoolVar(&f.verbose, "verbose-loop", false, "逐文件写出完整 JSON 记录，不聚合")
	fs.BoolVar(&f.strict, "strict", false, "启用 strict 统计项")
	fs.BoolVar(&f.debug, "debug", false, "统计结果回显到 stderr")
	fs.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
}

// overlay 构造 CLI 覆盖层。
func (f *loopFlags) overlay(fs *pflag.FlagSet) cfgpkg.Config {
	var over cfgpkg.Config
	str := map[string]*string{
		"data":         &over.Data,
		"output":       &over.Output,
		"folder":       &over.Folder,
		"today":        &over.Today,
		"stats-module": &over.StatsModule,
		"aggregator":   &over.Aggregator,
		"eligibility":  &over.Eligibility,
		"selector":     &over.Selector,
		"log-level":    &over.Logging.Level,
		"metrics-file": &over.MetricsFile,
	}
	src := map[string]string{
		"data": f.data, "output": f.output, "folder": f.folder, "today": f.today,
		"stats-module": f.statsModule, "aggregator": f.aggregator, "eligibility": f.eligibility,
		"selector": f.selector, "log-level": f.logLevel, "metrics-file": f.metricsFile,
	}
	for name, dst := range str {
		if fs.Changed(name) {
			*dst = src[name]
		}
	}
	if fs.Changed("multi") {
		over.Multi = f.multi
	}
	if fs.Changed("max-file-size") {
		over.MaxFileSize = f.maxFileSize
	}
	if fs.Changed("new") {
		over.New = cfgpkg.Bool(f.newOnly)
	}
	if fs.Changed("verbose-loop") {
		over.VerboseLoop = cfgpkg.Bool(f.verbose)
	}
	if fs.Changed("strict") {
		over.Strict = cfgpkg.Bool(f.strict)
	}
	if fs.Changed("debug") {
		over.Debug = cfgpkg.Bool(f.debug)
	}
	return over
}

func runLoop(parent context.Context, fs *pflag.FlagSet, f *loopFlags, stderr io.Writer) int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := cfgpkg.LoadDotEnv(".env"); err != nil {
		fprintf(stderr, ".env 读取失败（已跳过）: %v\n", err)
	}
	// 先占位默认等级，合并配置后按最终 level 重建
	logger := newLogger(corrID, "info")

	cfg, err := loadConfig(fs, f)
	if err != nil {
		fprintf(stderr, "配置解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", err)
		return exitConfig
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(stderr, cfg)
		logger.Error("config", string(diag.Classify(err)), "first error", err)
		return exitConfig
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		logger = newLogger(corrID, lvl)
	}
	defer func() { _ = logger.Sync() }()

	if err := preflightCheckOutputDir(cfg.Output); err != nil {
		fprintf(stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", err)
		return exitConfig
	}

	comp, set, err := cfgpkg.Assemble(cfg, time.Now())
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", err)
		return exitConfig
	}
	set.Echo = stderr
	if c, ok := comp.Aggregator.(io.Closer); ok {
		defer c.Close()
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	diag.SetTerminal(diag.NewTerminal(stderr, f.status))
	defer diag.SetTerminal(nil)

	logger.Debug("config", "effective",
		zap.String("data", set.DataDir),
		zap.String("output", set.OutputDir),
		zap.String("folder", set.Folder),
		zap.Int("multi", set.Concurrency),
		zap.Bool("verbose_loop", set.Run.VerboseLoop),
		zap.Bool("new", set.Run.New),
		zap.Bool("strict", set.Run.Strict),
		zap.String("today", set.Run.Today.Format(cfgpkg.DateLayout)),
		zap.String("stats_module", set.Run.StatsModule),
		zap.String("selector", set.Run.Selector),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := pipelineRun(ctx, comp, set, logger)
	code := finish(sum, err, start, stderr)
	writeMetrics(cfg.MetricsFile, logger, stderr)
	return code
}

// finish 记录运行结果指标并映射退出码。
func finish(sum pipeline.Summary, err error, start time.Time, stderr io.Writer) int {
	if err != nil {
		code := diag.Classify(err)
		diag.IncOp("pipeline", "finish", "error")
		if code != diag.CodeUnknown {
			diag.IncError("pipeline", string(code))
		}
		if errors.Is(err, context.Canceled) || code == diag.CodeCancel {
			fprintf(stderr, "已取消\n")
			return exitCancelled
		}
		fprintf(stderr, "运行失败: %v\n", err)
		return exitFailed
	}
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	if sum.Failed > 0 {
		diag.IncOp("pipeline", "finish", "partial")
		return exitFailed
	}
	diag.IncOp("pipeline", "finish", "success")
	return exitOK
}

// loadConfig: Defaults < 文件/STATSRUNNER_CONFIG_JSON < ENV < CLI。
func loadConfig(fs *pflag.FlagSet, f *loopFlags) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()

	path := f.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}
	if path != "" {
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			return cfgpkg.Config{}, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	} else if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		base, err := cfgpkg.LoadJSON("", []byte(s))
		if err != nil {
			return cfgpkg.Config{}, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfgpkg.Config{}, fmt.Errorf("env: %w", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	return cfgpkg.Merge(cfg, f.overlay(fs)), nil
}

func runInitConfig(dir string, stderr io.Writer) int {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fprintf(stderr, "生成默认配置失败: %v\n", err)
		return exitConfig
	}
	if err := writeConfig(filepath.Join(dir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
		if !errors.Is(err, os.ErrExist) {
			fprintf(stderr, "生成默认配置失败: %v\n", err)
			return exitConfig
		}
		fprintf(stderr, "config.json 已存在，跳过\n")
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return exitOK
}

func writeMetrics(path string, logger *diag.Logger, stderr io.Writer) {
	if strings.TrimSpace(path) == "" {
		return
	}
	if err := diag.WriteMetrics(path); err != nil {
		fprintf(stderr, "指标写出失败: %v\n", err)
		logger.Error("metrics", string(diag.Classify(err)), "write metrics failed", err)
	}
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "有效配置:\n%s\n", b)
	return err
}

// writeConfig 写出配置；path 为 "-" 时写 stdout。不覆盖已存在文件。
func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// writeDotEnv 生成 .env 模板；已存在则跳过。
func writeDotEnv(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(cfgpkg.DotEnvTemplate())
	return err
}

// preflightCheckOutputDir: 启动前检查输出根目录可写性。
// 目录存在时创建并删除临时文件；不存在时在父目录试建临时目录。
func preflightCheckOutputDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil {
		if !st.IsDir() {
			return fmt.Errorf("路径存在但不是目录: %s", dir)
		}
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	} else if !os.IsNotExist(err) {
		return err
	}
	// 目录不存在：向上找到首个已存在的祖先并检查其可写性
	parent := filepath.Dir(filepath.Clean(dir))
	for {
		pst, err := os.Stat(parent)
		if err == nil {
			if !pst.IsDir() {
				return fmt.Errorf("父路径不是目录: %s", parent)
			}
			break
		}
		if !os.IsNotExist(err) {
			return err
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		parent = next
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
