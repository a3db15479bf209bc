// Package config は通知サービスの設定を読み込む。
//
// 設定は config.yaml（カレントディレクトリまたは ./config）と環境変数から読み込み、
// 環境変数が優先される。どちらにも無い項目は既定値になる。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config は通知サービスの設定値。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"PORT"`
	// Env は実行環境（development / production）。
	Env string `mapstructure:"ENV"`
	// LogLevel はログ出力レベル。
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string `mapstructure:"DATABASE_PATH"`
	// JWTSecret はJWTの署名鍵。
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// FrontendURL はCORSで許可するオリジン。カンマ区切りで複数指定できる。
	FrontendURL string `mapstructure:"FRONTEND_URL"`

	// HeartbeatInterval はライブストリームのハートビート送信間隔。
	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`
	// StreamRatePerMin はユーザーごとのライブストリーム接続数の上限（1分あたり）。0以下で無制限。
	StreamRatePerMin int `mapstructure:"STREAM_RATE_PER_MIN"`

	// NATSURL はイベント購読先のNATSサーバー。空の場合は購読しない。
	NATSURL string `mapstructure:"NATS_URL"`
	// NATSSubject は購読するサブジェクト。
	NATSSubject string `mapstructure:"NATS_SUBJECT"`

	// ShutdownTimeout はシャットダウン時に処理中のリクエストを待つ時間。
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

// IsProduction は本番環境かどうかを返す。
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// AllowedOrigins はCORSで許可するオリジンの一覧を返す。
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Load は設定を読み込む。
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8086")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_PATH", "/data/notification.db")
	v.SetDefault("JWT_SECRET", "dev-secret-key")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("HEARTBEAT_INTERVAL", "30s")
	v.SetDefault("STREAM_RATE_PER_MIN", 30)
	v.SetDefault("NATS_URL", "")
	v.SetDefault("NATS_SUBJECT", "apartment.events.>")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("設定の変換に失敗: %w", err)
	}
	if cfg.HeartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("HEARTBEAT_INTERVAL は正の値が必要です: %s", cfg.HeartbeatInterval)
	}
	if len(cfg.AllowedOrigins()) == 0 {
		return Config{}, errors.New("FRONTEND_URL を1件以上指定してください")
	}
	return cfg, nil
}
