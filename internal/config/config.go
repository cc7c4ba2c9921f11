package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"entityforge/internal/pg"
)

// EnvPrefix — префикс переменных окружения: ENTITYFORGE_DB_URL, ENTITYFORGE_LOG_LEVEL, ...
const EnvPrefix = "ENTITYFORGE"

type Config struct {
	Port     string `mapstructure:"port"`
	DBURL    string `mapstructure:"db_url"`
	Schema   string `mapstructure:"schema"`
	EnumsDir string `mapstructure:"enums_dir"`
	SeedsDir string `mapstructure:"seeds_dir"`

	// создать общие таблицы при старте serve
	Bootstrap bool `mapstructure:"bootstrap"`
	// UUIDDefault — DEFAULT gen_random_uuid() у первичного ключа новых таблиц
	UUIDDefault bool `mapstructure:"uuid_default"`
	// AdvisoryLock — блокировка по типу сущности через pg_advisory_lock вместо mutex в процессе
	AdvisoryLock    bool     `mapstructure:"advisory_lock"`
	ProtectedTables []string `mapstructure:"protected_tables"`

	Log  LogConfig  `mapstructure:"log"`
	Pool PoolConfig `mapstructure:"pool"`
}

type LogConfig struct {
	Format string `mapstructure:"format"` // text | json
	Level  string `mapstructure:"level"`  // debug | info | warn | error
}

type PoolConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_url", "")
	v.SetDefault("schema", "public")
	v.SetDefault("enums_dir", "reference/enums")
	v.SetDefault("seeds_dir", "dsl")
	v.SetDefault("bootstrap", true)
	v.SetDefault("uuid_default", true)
	v.SetDefault("advisory_lock", false)
	v.SetDefault("protected_tables", []string{})

	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")

	v.SetDefault("pool.max_open_conns", pg.DefaultPoolOptions.MaxOpenConns)
	v.SetDefault("pool.max_idle_conns", pg.DefaultPoolOptions.MaxIdleConns)
	v.SetDefault("pool.conn_max_lifetime", pg.DefaultPoolOptions.ConnMaxLifetime)
	v.SetDefault("pool.ping_timeout", pg.DefaultPoolOptions.PingTimeout)
}

// New — viper с дефолтами и переменными окружения. Флаги cobra привязываются
// к нему снаружи через BindPFlag.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load читает конфиг: файл (path или ./entityforge.{yaml,json}), затем ENV, затем флаги.
// Явно указанный, но отсутствующий файл — ошибка; файл по умолчанию необязателен.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("entityforge")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Port = strings.TrimSpace(cfg.Port)
	cfg.DBURL = strings.TrimSpace(cfg.DBURL)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет значения, которые иначе всплыли бы только при старте.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: port is empty")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	if c.Schema != "" && !validSchema(c.Schema) {
		return fmt.Errorf("config: invalid schema name %q", c.Schema)
	}
	return nil
}

func validSchema(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return s != ""
}

func (c Config) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return lvl, nil
}

// RequireDB проверяет db_url для команд, которым нужна база.
func (c Config) RequireDB() error {
	if c.DBURL == "" {
		return fmt.Errorf("config: db_url is required (flag --db, %s_DB_URL or config file)", EnvPrefix)
	}
	return nil
}

// Logger строит slog-логгер по настройкам log.*.
func (c Config) Logger(w io.Writer) *slog.Logger {
	lvl, err := c.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// PoolOptions переводит pool.* и schema в настройки pg.Open.
func (c Config) PoolOptions() pg.PoolOptions {
	return pg.PoolOptions{
		Schema:          c.Schema,
		MaxOpenConns:    c.Pool.MaxOpenConns,
		MaxIdleConns:    c.Pool.MaxIdleConns,
		ConnMaxLifetime: c.Pool.ConnMaxLifetime,
		PingTimeout:     c.Pool.PingTimeout,
	}
}
