package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"statsrunner/internal/pipeline"
	"statsrunner/pkg/contract"
	"statsrunner/pkg/registry"
)

// DateLayout today 的格式。
const DateLayout = "2006-01-02"

var logLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "error": {}}

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Data) == "" {
		return errors.New("config: data dir not set")
	}
	if strings.TrimSpace(cfg.Output) == "" {
		return errors.New("config: output dir not set")
	}
	if cfg.Multi < 1 {
		return errors.New("config: multi must be >= 1")
	}
	if cfg.MaxFileSize < 0 {
		return errors.New("config: max_file_size must be >= 0")
	}
	if cfg.Today != "" {
		if _, err := time.Parse(DateLayout, cfg.Today); err != nil {
			return fmt.Errorf("config: today %q is not %s", cfg.Today, DateLayout)
		}
	}
	if lv := strings.ToLower(cfg.Logging.Level); lv != "" {
		if _, ok := logLevels[lv]; !ok {
			return fmt.Errorf("config: logging.level %q invalid", cfg.Logging.Level)
		}
	}
	d := Defaults()
	if name := effName(cfg.StatsModule, d.StatsModule); registry.StatsModule[name] == nil {
		return fmt.Errorf("config: stats_module %q not registered", name)
	}
	if name := effName(cfg.Eligibility, d.Eligibility); registry.Eligibility[name] == nil {
		return fmt.Errorf("config: eligibility %q not registered", name)
	}
	if name := effName(cfg.Selector, d.Selector); registry.Selector[name] == nil {
		return fmt.Errorf("config: selector %q not registered", name)
	}
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Corpus[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if flag(cfg.VerboseLoop) {
		if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
			return fmt.Errorf("config: writer %q not registered", name)
		}
	} else if name := effName(cfg.Aggregator, d.Aggregator); registry.Aggregator[name] == nil {
		return fmt.Errorf("config: aggregator %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。now 用于缺省 today。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config, now time.Time) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults()

	corpus, err := registry.Corpus[effName(cfg.Components.Reader, d.Components.Reader)](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader options: %w", err)
	}
	comp := pipeline.Components{
		Corpus:   corpus,
		Eligible: registry.Eligibility[effName(cfg.Eligibility, d.Eligibility)],
	}
	// 仅构造当前模式需要的输出端：聚合器可能需要外部连接（如 redis）。
	if flag(cfg.VerboseLoop) {
		raw, err := withOutputDir(cfg.Options.Writer, cfg.Output)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer options: %w", err)
		}
		if comp.Writer, err = registry.Writer[effName(cfg.Components.Writer, d.Components.Writer)](raw); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer: %w", err)
		}
	} else {
		if comp.Aggregator, err = registry.Aggregator[effName(cfg.Aggregator, d.Aggregator)](cfg.Options.Aggregator); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("aggregator: %w", err)
		}
	}

	today := now.UTC().Truncate(24 * time.Hour)
	if cfg.Today != "" {
		today, _ = time.Parse(DateLayout, cfg.Today)
	}
	set := pipeline.Settings{
		DataDir:     cfg.Data,
		OutputDir:   cfg.Output,
		Folder:      cfg.Folder,
		Concurrency: cfg.Multi,
		Run: contract.RunConfig{
			New:         flag(cfg.New),
			VerboseLoop: flag(cfg.VerboseLoop),
			Strict:      flag(cfg.Strict),
			Debug:       flag(cfg.Debug),
			Today:       today,
			StatsModule: effName(cfg.StatsModule, d.StatsModule),
			Selector:    effName(cfg.Selector, d.Selector),
			MaxFileSize: cfg.MaxFileSize,
		},
	}
	return comp, set, nil
}

// withOutputDir: 未显式给出 output_dir 时注入 cfg.Output，其余键原样保留。
func withOutputDir(raw json.RawMessage, dir string) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	if v, ok := m["output_dir"]; ok && string(v) != `""` && string(v) != "null" {
		return raw, nil
	}
	b, err := json.Marshal(dir)
	if err != nil {
		return nil, err
	}
	m["output_dir"] = b
	return json.Marshal(m)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
