package config

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "LIBDETECTOR"

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Report    ReportConfig    `mapstructure:"report"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Server    ServerConfig    `mapstructure:"server"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Log       LogConfig       `mapstructure:"log"`
}

// PathsConfig 输入输出目录
type PathsConfig struct {
	Libraries string `mapstructure:"libraries"` // 白名单库目录
	APKs      string `mapstructure:"apks"`      // 原始 APK 目录
	Output    string `mapstructure:"output"`    // 解包输出目录
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"` // Worker 数量
}

// ExtractorConfig dex2jar 调用配置
type ExtractorConfig struct {
	ToolDir         string        `mapstructure:"tool_dir"`          // dex2jar 所在目录
	Timeout         time.Duration `mapstructure:"timeout"`           // 单次调用超时
	ConvertMultiDex bool          `mapstructure:"convert_multi_dex"` // MultiDex 包是否逐个转换为 jar
}

// DetectorConfig 库检测配置
type DetectorConfig struct {
	Threshold  float64 `mapstructure:"threshold"`   // 命中类占比阈值 0-1
	ResultFile string  `mapstructure:"result_file"` // 每个 APK 的检测结果文件名
}

type ReportConfig struct {
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"` // text, yaml, json
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // mysql, sqlite
	Path     string `mapstructure:"path"` // sqlite 文件
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	Textfile  string `mapstructure:"textfile"` // node_exporter textfile 输出路径
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr
}

// SetDefaults 注册默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("worker.concurrency", runtime.NumCPU())
	v.SetDefault("extractor.tool_dir", "./dex2jar-2.1")
	v.SetDefault("extractor.timeout", 10*time.Minute)
	v.SetDefault("extractor.convert_multi_dex", true)
	v.SetDefault("detector.threshold", 0.8)
	v.SetDefault("detector.result_file", "libraries.json")
	v.SetDefault("report.file", "libMetadata.txt")
	v.SetDefault("report.format", "text")
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/libdetector.db")
	v.SetDefault("metrics.namespace", "libdetector")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.queue", "libdetector.reports")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("watch.debounce", 2*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
}

// Load 加载配置，path 为空时只使用默认值、环境变量和已绑定的命令行参数
func Load(path string) (*Config, error) {
	return LoadWith(viper.GetViper(), path)
}

// LoadWith 使用指定的 viper 实例加载配置
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	// 环境变量覆盖（支持嵌套配置）
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 与其他服务共用的环境变量
	v.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	v.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	v.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	v.BindEnv("rabbitmq.password", "RABBITMQ_PASS")
	v.BindEnv("database.host", "MYSQL_HOST")
	v.BindEnv("database.port", "MYSQL_PORT")
	v.BindEnv("database.user", "MYSQL_USER")
	v.BindEnv("database.password", "MYSQL_PASS")
	v.BindEnv("database.db_name", "MYSQL_DB")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read config file " + path).
				WithCause(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to decode config").
			WithCause(err)
	}

	return &cfg, nil
}

// ValidateScan 校验 scan 命令所需的配置，任何错误都在处理开始前返回
func (c *Config) ValidateScan() error {
	if strings.TrimSpace(c.Paths.Libraries) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("libraries whitelist path is required")
	}
	if strings.TrimSpace(c.Paths.APKs) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("apks path is required")
	}
	if strings.TrimSpace(c.Paths.Output) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("output path is required")
	}
	if err := requireDir(c.Paths.Libraries, "whitelist"); err != nil {
		return err
	}
	if err := requireDir(c.Paths.APKs, "apks"); err != nil {
		return err
	}
	return c.validateCommon()
}

// ValidateCollect 校验 collect 命令所需的配置
func (c *Config) ValidateCollect() error {
	return c.validateCommon()
}

// ValidateServe 校验 serve 命令所需的配置
func (c *Config) ValidateServe() error {
	if !c.Database.Enabled {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("serve requires database.enabled")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("server.port must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateCommon() error {
	if c.Worker.Concurrency < 1 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("worker.concurrency must be >= 1")
	}
	if c.Detector.Threshold <= 0 || c.Detector.Threshold > 1 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("detector.threshold must be in (0, 1]")
	}
	switch c.Report.Format {
	case "text", "yaml", "json":
	default:
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("report.format must be one of text, yaml, json")
	}
	return nil
}

func requireDir(path, what string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("the specified " + what + " directory does not exist: " + path).
			WithCause(err)
	}
	if !info.IsDir() {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("the specified " + what + " path is not a directory: " + path)
	}
	return nil
}
