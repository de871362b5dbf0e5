package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を表現します。
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Log         LogConfig         `yaml:"log"`
	Offboarding OffboardingConfig `yaml:"offboarding"`
}

// ServerConfig は gRPC サーバーとメトリクス公開に関する設定です。
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DatabaseConfig は PostgreSQL 接続に関する設定です。
type DatabaseConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name"`
	SSLMode            string        `yaml:"ssl_mode"`
	MaxOpenConns       int           `yaml:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"-"`
	ConnMaxIdleTime    time.Duration `yaml:"-"`
	ConnMaxLifetimeRaw string        `yaml:"conn_max_lifetime"`
	ConnMaxIdleTimeRaw string        `yaml:"conn_max_idle_time"`
}

// RedisConfig は通知ストリームを置く Redis の設定です。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// LogConfig はロガーの設定です。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OffboardingConfig は退職手続きの業務設定です。
type OffboardingConfig struct {
	Reminder    ReminderConfig    `yaml:"reminder"`
	Termination TerminationConfig `yaml:"termination"`
	Settlement  SettlementConfig  `yaml:"settlement"`
}

// ReminderConfig はリマインド送信の上限と間隔です。
type ReminderConfig struct {
	MaxCount         int           `yaml:"max_count"`
	Interval         time.Duration `yaml:"-"`
	EscalateAfter    time.Duration `yaml:"-"`
	IntervalRaw      string        `yaml:"interval"`
	EscalateAfterRaw string        `yaml:"escalate_after"`
}

// TerminationConfig は評価に基づく解雇の閾値です。
type TerminationConfig struct {
	PercentThreshold   float64 `yaml:"percent_threshold"`
	FivePointThreshold float64 `yaml:"five_point_threshold"`
}

// SettlementConfig は精算計算の設定です。
// ClaimTimeout を過ぎても INITIATED のままの精算は再実行できます。
type SettlementConfig struct {
	DaysPerMonth    int           `yaml:"days_per_month"`
	ClaimTimeout    time.Duration `yaml:"-"`
	ClaimTimeoutRaw string        `yaml:"claim_timeout"`
}

// Load は指定されたパスから設定ファイルを読み込みます。
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validateAndNormalize() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr must be set")
	}

	db := &c.Database
	if err := db.validateAndNormalize(); err != nil {
		return err
	}
	if err := c.Redis.validateAndNormalize(); err != nil {
		return err
	}
	if err := c.Log.validateAndNormalize(); err != nil {
		return err
	}
	if err := c.Offboarding.validateAndNormalize(); err != nil {
		return err
	}

	return nil
}

func (d *DatabaseConfig) validateAndNormalize() error {
	if d.Host == "" {
		return fmt.Errorf("config: database.host must be set")
	}
	if d.Port == 0 {
		return fmt.Errorf("config: database.port must be set")
	}
	if d.User == "" {
		return fmt.Errorf("config: database.user must be set")
	}
	if d.Password == "" {
		return fmt.Errorf("config: database.password must be set")
	}
	if d.Name == "" {
		return fmt.Errorf("config: database.name must be set")
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}

	lifetime, err := parseDurationAllowEmpty(d.ConnMaxLifetimeRaw)
	if err != nil {
		return fmt.Errorf("config: database.conn_max_lifetime: %w", err)
	}
	d.ConnMaxLifetime = lifetime

	idleTime, err := parseDurationAllowEmpty(d.ConnMaxIdleTimeRaw)
	if err != nil {
		return fmt.Errorf("config: database.conn_max_idle_time: %w", err)
	}
	d.ConnMaxIdleTime = idleTime

	return nil
}

func (r *RedisConfig) validateAndNormalize() error {
	if r.Addr == "" {
		return fmt.Errorf("config: redis.addr must be set")
	}
	if r.DB < 0 {
		return fmt.Errorf("config: redis.db must not be negative")
	}
	if r.Stream == "" {
		r.Stream = "offboarding:notifications"
	}
	if r.MaxLen < 0 {
		return fmt.Errorf("config: redis.max_len must not be negative")
	}
	if r.MaxLen == 0 {
		r.MaxLen = 100000
	}
	return nil
}

func (l *LogConfig) validateAndNormalize() error {
	if l.Level == "" {
		l.Level = "info"
	}
	l.Format = strings.ToLower(l.Format)
	switch l.Format {
	case "":
		l.Format = "json"
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format must be json or console, got %q", l.Format)
	}
	return nil
}

func (o *OffboardingConfig) validateAndNormalize() error {
	r := &o.Reminder
	if r.MaxCount == 0 {
		r.MaxCount = 3
	}
	if r.MaxCount < 0 {
		return fmt.Errorf("config: offboarding.reminder.max_count must be positive")
	}
	if r.IntervalRaw == "" {
		r.IntervalRaw = "72h"
	}
	if r.EscalateAfterRaw == "" {
		r.EscalateAfterRaw = "168h"
	}

	interval, err := parseDurationAllowEmpty(r.IntervalRaw)
	if err != nil {
		return fmt.Errorf("config: offboarding.reminder.interval: %w", err)
	}
	r.Interval = interval

	escalateAfter, err := parseDurationAllowEmpty(r.EscalateAfterRaw)
	if err != nil {
		return fmt.Errorf("config: offboarding.reminder.escalate_after: %w", err)
	}
	r.EscalateAfter = escalateAfter

	t := &o.Termination
	if t.PercentThreshold == 0 {
		t.PercentThreshold = 50
	}
	if t.FivePointThreshold == 0 {
		t.FivePointThreshold = 2.5
	}
	if t.PercentThreshold < 0 || t.PercentThreshold > 100 {
		return fmt.Errorf("config: offboarding.termination.percent_threshold must be within 0-100")
	}
	if t.FivePointThreshold < 0 || t.FivePointThreshold > 5 {
		return fmt.Errorf("config: offboarding.termination.five_point_threshold must be within 0-5")
	}

	if o.Settlement.DaysPerMonth == 0 {
		o.Settlement.DaysPerMonth = 30
	}
	if o.Settlement.DaysPerMonth < 0 {
		return fmt.Errorf("config: offboarding.settlement.days_per_month must be positive")
	}
	if o.Settlement.ClaimTimeoutRaw == "" {
		o.Settlement.ClaimTimeoutRaw = "5m"
	}
	claimTimeout, err := parseDurationAllowEmpty(o.Settlement.ClaimTimeoutRaw)
	if err != nil {
		return fmt.Errorf("config: offboarding.settlement.claim_timeout: %w", err)
	}
	if claimTimeout <= 0 {
		return fmt.Errorf("config: offboarding.settlement.claim_timeout must be positive")
	}
	o.Settlement.ClaimTimeout = claimTimeout
	return nil
}

func parseDurationAllowEmpty(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// DSN は pgx 用の接続文字列を返します。認証情報は URL エスケープされます。
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}
