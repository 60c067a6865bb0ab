package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量覆盖前缀。
const EnvPrefix = "STATSRUNNER_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Data:        "data",
		Output:      "out",
		Multi:       1,
		MaxFileSize: 50_000_000,
		StatsModule: "iati",
		Aggregator:  "jsonfile",
		Eligibility: "default",
		Selector:    "humanitarian",
		Logging:     Logging{Level: "info"},
		Components: Components{
			Reader: "fs",
			Writer: "fs",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile 按扩展名选择格式：.yaml/.yml 经 YAML 解码后转 JSON，再走同一严格解析；其余按 JSON。
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		raw, err := yamlToJSON(b)
		if err != nil {
			return Config{}, fmt.Errorf("yaml %s: %w", path, err)
		}
		return LoadJSON("", raw)
	default:
		return LoadJSON(path, nil)
	}
}

func yamlToJSON(b []byte) ([]byte, error) {
	var v map[string]any
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(v)
}

// LoadDotEnv 加载 .env 到进程环境；文件不存在时忽略，不覆盖已有变量。
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if s := strings.TrimSpace(over.Data); s != "" {
		out.Data = s
	}
	if s := strings.TrimSpace(over.Output); s != "" {
		out.Output = s
	}
	if s := strings.TrimSpace(over.Folder); s != "" {
		out.Folder = s
	}
	if over.New != nil {
		out.New = Bool(*over.New)
	}
	if over.VerboseLoop != nil {
		out.VerboseLoop = Bool(*over.VerboseLoop)
	}
	if over.Strict != nil {
		out.Strict = Bool(*over.Strict)
	}
	if over.Debug != nil {
		out.Debug = Bool(*over.Debug)
	}
	if over.Multi != 0 {
		out.Multi = over.Multi
	}
	if s := strings.TrimSpace(over.Today); s != "" {
		out.Today = s
	}
	if over.MaxFileSize != 0 {
		out.MaxFileSize = over.MaxFileSize
	}
	if s := strings.TrimSpace(over.StatsModule); s != "" {
		out.StatsModule = s
	}
	if s := strings.TrimSpace(over.Aggregator); s != "" {
		out.Aggregator = s
	}
	if s := strings.TrimSpace(over.Eligibility); s != "" {
		out.Eligibility = s
	}
	if s := strings.TrimSpace(over.Selector); s != "" {
		out.Selector = s
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.MetricsFile); s != "" {
		out.MetricsFile = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Aggregator) > 0 {
		out.Options.Aggregator = cloneRaw(over.Options.Aggregator)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 STATSRUNNER_；集合外的键忽略；无法解析的数值/布尔返回错误。
// 支持：DATA, OUTPUT, FOLDER, NEW, VERBOSE_LOOP, STRICT, DEBUG, MULTI, TODAY, MAX_FILE_SIZE,
// STATS_MODULE, AGGREGATOR, ELIGIBILITY, SELECTOR, LOG_LEVEL, METRICS_FILE,
// COMPONENTS_{READER,WRITER}, OPTIONS_{READER,WRITER,AGGREGATOR}_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			// 空值视为未设置，避免清空配置文件中的值
			continue
		}
		var err error
		switch key {
		case "DATA":
			over.Data = val
		case "OUTPUT":
			over.Output = val
		case "FOLDER":
			over.Folder = val
		case "NEW":
			over.New, err = parseBool(val)
		case "VERBOSE_LOOP":
			over.VerboseLoop, err = parseBool(val)
		case "STRICT":
			over.Strict, err = parseBool(val)
		case "DEBUG":
			over.Debug, err = parseBool(val)
		case "MULTI":
			over.Multi, err = strconv.Atoi(val)
		case "TODAY":
			over.Today = val
		case "MAX_FILE_SIZE":
			over.MaxFileSize, err = strconv.ParseInt(val, 10, 64)
		case "STATS_MODULE":
			over.StatsModule = val
		case "AGGREGATOR":
			over.Aggregator = val
		case "ELIGIBILITY":
			over.Eligibility = val
		case "SELECTOR":
			over.Selector = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "METRICS_FILE":
			over.MetricsFile = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "OPTIONS_READER_JSON":
			over.Options.Reader = json.RawMessage(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = json.RawMessage(val)
		case "OPTIONS_AGGREGATOR_JSON":
			over.Options.Aggregator = json.RawMessage(val)
		}
		if err != nil {
			return Config{}, fmt.Errorf("env %s%s: %w", EnvPrefix, key, err)
		}
	}
	return over, nil
}

func parseBool(s string) (*bool, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
