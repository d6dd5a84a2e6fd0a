package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sofiworker/udpreplay/gconfig"
	"github.com/sofiworker/udpreplay/gerr"
	"github.com/sofiworker/udpreplay/glog"
	"github.com/sofiworker/udpreplay/gnet/session"
	"github.com/sofiworker/udpreplay/gnet/stats"
)

const envPrefix = "UDPREPLAY"

type logConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
	// 以下仅在设置了 File 时生效
	MaxSize    int  `json:"max_size"`
	MaxAge     int  `json:"max_age"`
	MaxBackups int  `json:"max_backups"`
	Compress   bool `json:"compress"`
}

// appConfig 对应配置文件的整体结构
type appConfig struct {
	Log            logConfig             `json:"log"`
	MetricsAddr    string                `json:"metrics_addr"`
	ReportInterval time.Duration         `json:"report_interval"`
	Send           session.SendConfig    `json:"send"`
	Receive        session.ReceiveConfig `json:"receive"`
	Info           infoConfig            `json:"info"`
}

type app struct {
	out      io.Writer
	cfg      appConfig
	loader   *gconfig.Config
	logger   glog.GLogger
	registry *prometheus.Registry
	exporter *stats.Exporter
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	a := &app{out: out}
	defer a.shutdown()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "udpreplay",
		Short:         "Replay packet captures as UDP datagrams and capture UDP traffic into datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default ./udpreplay.yaml or $HOME/.udpreplay/udpreplay.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", string(glog.ConsoleEncoding), "log format: console or json")
	pf.String("log-file", "", "also write logs to this file, rotated")
	pf.Int("log-max-size", 100, "rotate the log file after this many megabytes")
	pf.Int("log-max-age", 30, "days to keep rotated log files")
	pf.Int("log-max-backups", 7, "rotated log files to keep")
	pf.Bool("log-compress", true, "gzip rotated log files")
	pf.String("metrics-addr", "", "serve Prometheus metrics on HOST:PORT")
	pf.Duration("report-interval", stats.DefaultReportInterval, "progress report interval")
	pf.String("remote-provider", "", "remote config provider: etcd3 or consul")
	pf.String("remote-endpoint", "", "remote config endpoint")
	pf.String("remote-path", "", "remote config key path")

	root.AddCommand(a.sendCmd(), a.receiveCmd(), a.infoCmd(), a.interfacesCmd())
	return root
}

// setup 加载配置并初始化日志和指标，在每个子命令运行前调用
func (a *app) setup(cmd *cobra.Command) error {
	const op = "cli.setup"
	pf := cmd.Flags()

	opts := []gconfig.Option{
		gconfig.WithEnvPrefix(envPrefix),
		gconfig.WithName("udpreplay"),
		gconfig.WithPaths(".", "$HOME/.udpreplay"),
		gconfig.WithOnChangeCallback(a.reload),
	}
	if file, _ := pf.GetString("config"); file != "" {
		opts = append(opts, gconfig.WithFile(file))
	}
	provider, _ := pf.GetString("remote-provider")
	endpoint, _ := pf.GetString("remote-endpoint")
	path, _ := pf.GetString("remote-path")
	if provider != "" {
		opts = append(opts, gconfig.WithRemoteProvider(provider, endpoint, path))
	}

	loader, err := gconfig.New(opts...)
	if err != nil {
		return gerr.Config(op, "%v", err)
	}
	bindings := map[string]string{
		"log.level":       "log-level",
		"log.format":      "log-format",
		"log.file":        "log-file",
		"log.max_size":    "log-max-size",
		"log.max_age":     "log-max-age",
		"log.max_backups": "log-max-backups",
		"log.compress":    "log-compress",
		"metrics_addr":    "metrics-addr",
		"report_interval": "report-interval",
	}
	for key, name := range bindings {
		if err := loader.BindFlag(key, pf.Lookup(name)); err != nil {
			return gerr.Config(op, "%v", err)
		}
	}
	if err := loader.BindFlags(cmd.Name(), cmd.LocalNonPersistentFlags()); err != nil {
		return gerr.Config(op, "%v", err)
	}
	if err := loader.Unmarshal(&a.cfg); err != nil {
		return gerr.Config(op, "load config: %v", err)
	}
	a.loader = loader

	if err := a.configureLogger(); err != nil {
		return err
	}
	if used := loader.ConfigFileUsed(); used != "" {
		a.logger.Info("config loaded", "file", used)
	}
	return a.startMetrics()
}

func (a *app) configureLogger() error {
	const op = "cli.logger"
	level, err := glog.ParseLevel(a.cfg.Log.Level)
	if err != nil {
		return gerr.Config(op, "%v", err)
	}
	var enc glog.Encoding
	switch glog.Encoding(a.cfg.Log.Format) {
	case "", glog.ConsoleEncoding:
		enc = glog.ConsoleEncoding
	case glog.JSONEncoding:
		enc = glog.JSONEncoding
	default:
		return gerr.Config(op, "unknown log format %q", a.cfg.Log.Format)
	}

	opts := []glog.Option{
		glog.WithLevel(level),
		glog.WithEncoding(enc),
		glog.WithInitialFields(map[string]interface{}{"app": "udpreplay"}),
	}
	if l := a.cfg.Log; l.File != "" {
		opts = append(opts,
			glog.WithOutputPaths(l.File),
			glog.WithRotation(l.MaxSize, l.MaxAge, l.MaxBackups, l.Compress, true),
		)
	}
	if err := glog.Configure(opts...); err != nil {
		return gerr.Config(op, "%v", err)
	}
	a.logger = glog.Default()
	return nil
}

// reload 在配置文件变化时重新应用日志级别
func (a *app) reload(c gconfig.Unmarshaler) {
	var next appConfig
	if err := c.Unmarshal(&next); err != nil {
		glog.Warn("reload config failed", "error", err)
		return
	}
	level, err := glog.ParseLevel(next.Log.Level)
	if err != nil {
		glog.Warn("ignoring invalid log level", "level", next.Log.Level)
		return
	}
	glog.SetLevel(level)
	glog.Info("log level updated", "level", level.String())
}

func (a *app) startMetrics() error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.exporter = stats.NewExporter(a.cfg.MetricsAddr, a.registry, a.logger)
	if err := a.exporter.Start(); err != nil {
		return gerr.Bind("cli.metrics", fmt.Errorf("listen %s: %w", a.cfg.MetricsAddr, err))
	}
	return nil
}

func (a *app) session() *session.Session {
	opts := []session.Option{
		session.WithLogger(a.logger),
		session.WithReportInterval(a.cfg.ReportInterval),
	}
	if a.registry != nil {
		opts = append(opts, session.WithRegisterer(a.registry))
	}
	return session.New(opts...)
}

func (a *app) shutdown() {
	if a.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.exporter.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// transportFlags 注册发送和接收共用的传输参数
func transportFlags(fs *pflag.FlagSet) {
	fs.String("mode", "unicast", "delivery mode: unicast, broadcast or multicast")
	fs.String("address", "127.0.0.1", "destination (send) or bind/group (receive) IPv4 address")
	fs.Int("port", 0, "UDP port")
	fs.String("interface", "", "interface name or IPv4 address, empty for system default")
}
