package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"statsrunner/internal/invoke"
	"statsrunner/internal/record"
	"statsrunner/pkg/contract"
	ajf "statsrunner/plugins/aggregator/jsonfile"
	ards "statsrunner/plugins/aggregator/redis"
	rfs "statsrunner/plugins/reader/filesystem"
	siati "statsrunner/plugins/stats/iati"
	scount "statsrunner/plugins/stats/testmod"
	wfs "statsrunner/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewCorpus 工厂签名：接收原样 JSON Options。
type NewCorpus func(raw json.RawMessage) (contract.Corpus, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewAggregator 工厂签名：接收原样 JSON Options。
type NewAggregator func(raw json.RawMessage) (contract.Aggregator, error)

// StatsModule 统计定义模块注册表（按名称选择，显式、零反射）。
var StatsModule = map[string]func() *contract.Module{
	siati.Name:  siati.New,
	scount.Name: scount.New,
}

// Eligibility 统计项合格性谓词注册表。
var Eligibility = map[string]contract.Eligibility{
	"default": invoke.Default,
	"all":     invoke.All,
}

// Selector 子记录选择谓词注册表。
var Selector = map[string]record.Predicate{
	// humanitarian: 仅人道主义活动（默认）
	"humanitarian": record.Humanitarian,
	// all: 族内全部子记录
	"all": record.Every,
}

// Corpus 工厂注册表。
var Corpus = map[string]NewCorpus{
	// fs: <data>/<folder>/<file> 两级目录布局
	"fs": func(raw json.RawMessage) (contract.Corpus, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Writer 工厂注册表。output_dir 由装配阶段注入。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Aggregator 工厂注册表。
var Aggregator = map[string]NewAggregator{
	// jsonfile: <dest>/<stat>.json
	"jsonfile": func(raw json.RawMessage) (contract.Aggregator, error) {
		var opts ajf.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ajf.New(&opts), nil
	},
	// redis: 每个 dest 一个哈希
	"redis": func(raw json.RawMessage) (contract.Aggregator, error) {
		var opts ards.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ards.New(&opts)
	},
}

// LookupStatsModule 按名称实例化统计定义模块。
func LookupStatsModule(name string) (*contract.Module, error) {
	f, ok := StatsModule[name]
	if !ok {
		return nil, fmt.Errorf("%w: stats module %q", contract.ErrUnknownModule, name)
	}
	return f(), nil
}

// LookupSelector 按名称取子记录选择谓词；空名称取 humanitarian。
func LookupSelector(name string) (record.Predicate, error) {
	if name == "" {
		name = "humanitarian"
	}
	p, ok := Selector[name]
	if !ok {
		return nil, fmt.Errorf("%w: selector %q", contract.ErrUnknownModule, name)
	}
	return p, nil
}
