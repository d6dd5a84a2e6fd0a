package gconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote" // 匿名导入以支持远程配置

	"github.com/sofiworker/udpreplay/glog"
)

// Config 是一个配置加载器，封装了 viper 的功能。
type Config struct {
	v      *viper.Viper
	opts   *Options
	loaded bool
	mu     sync.RWMutex
}

// DecoderOption 是一个用于在 Unmarshal 时配置解码器行为的声明式结构体。
type DecoderOption struct {
	// TagName 指定用于 unmarshal 的结构体标签名。
	TagName          string
	WeaklyTypedInput *bool // 使用指针以区分 "未设置" 和 "设置为 false"。
	ErrorUnused      *bool
	DecodeHooks      []mapstructure.DecodeHookFunc
}

// DecoderOptionFunc 是一个用于修改 DecoderOption 的函数。
type DecoderOptionFunc func(*DecoderOption)

// Unmarshaler 定义了一个可以将配置解析到结构体中的接口。
type Unmarshaler interface {
	Unmarshal(rawVal interface{}, opts ...DecoderOptionFunc) error
}

// Options 保存了创建 viper 实例所需的所有配置。
type Options struct {
	Name  string   // 配置文件名 (不带扩展名)
	Type  string   // 配置文件类型 (e.g., "yaml", "json")
	Paths []string // 配置文件搜索路径
	File  string   // 完整的配置文件路径，如果设置，将忽略 Name, Type, Paths

	EnvPrefix   string
	EnvReplacer *strings.Replacer

	DecoderOption *DecoderOption

	// 远程配置源 (e.g., etcd, consul)
	RemoteProvider string
	RemoteEndpoint string
	RemotePath     string

	// Watch 为 true 时监控本地文件变化并触发 OnChangeCallback。
	Watch            bool
	OnChangeCallback func(c Unmarshaler)

	Logger glog.Logger
}

// Option 是一个用于修改 Options 的函数。
type Option func(*Options)

// WithFile 指定一个完整的配置文件路径，空字符串表示沿用搜索路径。
func WithFile(path string) Option {
	return func(o *Options) {
		o.File = path
	}
}

// WithName 设置配置文件名。
func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

// WithType 设置配置文件类型。
func WithType(typ string) Option {
	return func(o *Options) {
		o.Type = typ
	}
}

// WithPaths 替换配置文件搜索路径。
func WithPaths(paths ...string) Option {
	return func(o *Options) {
		o.Paths = append([]string(nil), paths...)
	}
}

// WithEnvPrefix 设置环境变量前缀。
func WithEnvPrefix(prefix string) Option {
	return func(o *Options) {
		o.EnvPrefix = prefix
	}
}

// WithRemoteProvider 设置远程配置。
// provider: "etcd3", "consul", "firestore", etc.
// endpoint: "http://127.0.0.1:2379"
// path: "/config/udpreplay.yaml"
func WithRemoteProvider(provider, endpoint, path string) Option {
	return func(o *Options) {
		o.RemoteProvider = provider
		o.RemoteEndpoint = endpoint
		o.RemotePath = path
	}
}

// WithOnChangeCallback 启用文件监控，并设置配置变更时触发的回调。
func WithOnChangeCallback(cb func(c Unmarshaler)) Option {
	return func(o *Options) {
		o.Watch = true
		o.OnChangeCallback = cb
	}
}

// WithLogger 设置内部 logger。
func WithLogger(logger glog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithDecoderOptions 设置默认的解码器选项。
func WithDecoderOptions(opts ...DecoderOptionFunc) Option {
	return func(o *Options) {
		if o.DecoderOption == nil {
			o.DecoderOption = &DecoderOption{}
		}
		for _, opt := range opts {
			opt(o.DecoderOption)
		}
	}
}

// WithTagName 返回一个设置了 TagName 的 DecoderOptionFunc。
func WithTagName(tagName string) DecoderOptionFunc {
	return func(opt *DecoderOption) {
		opt.TagName = tagName
	}
}

// WithWeaklyTypedInput 返回一个设置了弱类型转换开关的 DecoderOptionFunc。
func WithWeaklyTypedInput(enabled bool) DecoderOptionFunc {
	return func(opt *DecoderOption) {
		opt.WeaklyTypedInput = &enabled
	}
}

// WithErrorUnused 返回一个设置了 "ErrorUnused" 开关的 DecoderOptionFunc。
func WithErrorUnused(enabled bool) DecoderOptionFunc {
	return func(opt *DecoderOption) {
		opt.ErrorUnused = &enabled
	}
}

// WithDecodeHooks 返回一个追加自定义解码钩子的 DecoderOptionFunc。
func WithDecodeHooks(hooks ...mapstructure.DecodeHookFunc) DecoderOptionFunc {
	return func(opt *DecoderOption) {
		opt.DecodeHooks = append(opt.DecodeHooks, hooks...)
	}
}

// New 根据提供的选项创建一个 *Config 实例，配置在首次 Load/Unmarshal 时读取。
//
// 加载优先级: 命令行参数 > 环境变量 > 配置文件 > 默认值
func New(opts ...Option) (*Config, error) {
	options := &Options{
		Name:        "config",
		Type:        "yaml",
		Paths:       []string{"."},
		EnvPrefix:   "APP",
		EnvReplacer: strings.NewReplacer(".", "_", "-", "_"),
		DecoderOption: &DecoderOption{
			TagName: "json",
			DecodeHooks: []mapstructure.DecodeHookFunc{
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			},
		},
		Logger: glog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		return nil, errors.New("gconfig: logger must not be nil")
	}

	v := viper.New()
	if options.File != "" {
		v.SetConfigFile(options.File)
	} else {
		v.SetConfigName(options.Name)
		v.SetConfigType(options.Type)
		for _, path := range options.Paths {
			v.AddConfigPath(path)
		}
	}

	v.SetEnvPrefix(options.EnvPrefix)
	v.SetEnvKeyReplacer(options.EnvReplacer)
	v.AutomaticEnv()

	return &Config{v: v, opts: options}, nil
}

// BindFlag 将 key 绑定到命令行参数，参数仅在显式设置时覆盖其他来源。
func (c *Config) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("gconfig: flag for key %q is nil", key)
	}
	return c.v.BindPFlag(key, flag)
}

// BindFlags 按 "前缀.参数名" 的形式批量绑定 fs 中的参数，参数名中的 "-" 换成 "_"。
func (c *Config) BindFlags(prefix string, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if prefix != "" {
			key = prefix + "." + f.Name
		}
		err = c.BindFlag(key, f)
	})
	return err
}

// SetDefault 设置配置项的默认值。
func (c *Config) SetDefault(key string, value interface{}) {
	c.v.SetDefault(key, value)
}

// GetString 获取一个字符串类型的配置项。
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// IsSet 报告 key 是否在任一来源中设置。
func (c *Config) IsSet(key string) bool {
	return c.v.IsSet(key)
}

// ConfigFileUsed 返回实际读取的配置文件路径，未读取时为空。
func (c *Config) ConfigFileUsed() string {
	return c.v.ConfigFileUsed()
}

// AllSettings 返回所有配置项的 map。
func (c *Config) AllSettings() map[string]interface{} {
	return c.v.AllSettings()
}

// Unmarshal 将已加载的配置解析到 target 结构体中。
func (c *Config) Unmarshal(target interface{}, opts ...DecoderOptionFunc) error {
	if err := c.Load(); err != nil {
		return err
	}

	finalOpt := &DecoderOption{}
	if c.opts.DecoderOption != nil {
		*finalOpt = *c.opts.DecoderOption
		finalOpt.DecodeHooks = append([]mapstructure.DecodeHookFunc(nil), c.opts.DecoderOption.DecodeHooks...)
	}
	for _, opt := range opts {
		opt(finalOpt)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.Unmarshal(target, buildViperDecoderOptions(finalOpt)...)
}

// UnmarshalKey 将 key 下的子树解析到 target 中。
func (c *Config) UnmarshalKey(key string, target interface{}, opts ...DecoderOptionFunc) error {
	if err := c.Load(); err != nil {
		return err
	}
	finalOpt := &DecoderOption{}
	if c.opts.DecoderOption != nil {
		*finalOpt = *c.opts.DecoderOption
		finalOpt.DecodeHooks = append([]mapstructure.DecodeHookFunc(nil), c.opts.DecoderOption.DecodeHooks...)
	}
	for _, opt := range opts {
		opt(finalOpt)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.UnmarshalKey(key, target, buildViperDecoderOptions(finalOpt)...)
}

func buildViperDecoderOptions(opt *DecoderOption) []viper.DecoderConfigOption {
	if opt == nil {
		return nil
	}
	return []viper.DecoderConfigOption{func(cfg *mapstructure.DecoderConfig) {
		if opt.TagName != "" {
			cfg.TagName = opt.TagName
		}
		if opt.WeaklyTypedInput != nil {
			cfg.WeaklyTypedInput = *opt.WeaklyTypedInput
		}
		if opt.ErrorUnused != nil {
			cfg.ErrorUnused = *opt.ErrorUnused
		}
		if len(opt.DecodeHooks) > 0 {
			cfg.DecodeHook = mapstructure.ComposeDecodeHookFunc(opt.DecodeHooks...)
		}
	}}
}

// Load 执行实际的配置加载操作，重复调用是安全的。
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return nil
	}

	v := c.v
	options := c.opts

	if err := v.ReadInConfig(); err != nil {
		// 显式指定的文件必须存在，搜索路径下找不到则忽略。
		var nfErr viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if options.File != "" || (!errors.As(err, &nfErr) && !errors.As(err, &pathErr)) {
			return fmt.Errorf("gconfig: read config file: %w", err)
		}
		options.Logger.Debugf("config file not found, searched %v for %s.%s", options.Paths, options.Name, options.Type)
	}

	if options.RemoteProvider != "" && options.RemoteEndpoint != "" && options.RemotePath != "" {
		if err := v.AddRemoteProvider(options.RemoteProvider, options.RemoteEndpoint, options.RemotePath); err != nil {
			return fmt.Errorf("gconfig: add remote provider: %w", err)
		}
		v.SetConfigType(options.Type)
		if err := v.ReadRemoteConfig(); err != nil {
			options.Logger.Warnf("failed to read remote config, proceeding with local/env config: %v", err)
		}
	}

	if options.Watch && v.ConfigFileUsed() != "" {
		c.watch()
	}

	c.loaded = true
	return nil
}

// watch 启动对本地配置文件的监控。
func (c *Config) watch() {
	options := c.opts
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		options.Logger.Infof("config file changed: %s", e.Name)
		if options.OnChangeCallback != nil {
			options.OnChangeCallback(c)
		}
	})
	c.v.WatchConfig()
}
