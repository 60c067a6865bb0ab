package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// 聚合模式写入 ./out，语料读取 ./data；各组件选项给出全部键与中性默认值。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.New = Bool(false)
	cfg.VerboseLoop = Bool(false)
	cfg.Strict = Bool(false)
	cfg.Debug = Bool(false)
	cfg.Options.Reader = json.RawMessage(`{
  "exclude_dir_names": [".git", ".svn", ".hg"]
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "atomic": true,
  "flat": false,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	cfg.Options.Aggregator = json.RawMessage(`{
  "indent": 2
}`)
	return cfg
}

// DotEnvTemplate 返回 .env 模板内容（init-config 生成）。
func DotEnvTemplate() string {
	keys := []string{
		"DATA", "OUTPUT", "FOLDER", "NEW", "VERBOSE_LOOP", "STRICT", "DEBUG", "MULTI", "TODAY",
		"MAX_FILE_SIZE", "STATS_MODULE", "AGGREGATOR", "ELIGIBILITY", "SELECTOR", "LOG_LEVEL",
		"METRICS_FILE", "COMPONENTS_READER", "COMPONENTS_WRITER",
		"OPTIONS_READER_JSON", "OPTIONS_WRITER_JSON", "OPTIONS_AGGREGATOR_JSON",
	}
	out := "# statsrunner .env 模板（由 init-config 生成）\n# 优先级：CLI > ENV(.env) > 配置文件 > 默认值；空值表示未设置。\n\n"
	for _, k := range keys {
		out += EnvPrefix + k + "=\n"
	}
	return out
}
