// Command airlockd runs the gateway as a standalone server. Configuration
// comes from an optional airlock.yaml plus AIRLOCK_* environment variables;
// the RS256 key pair is read from the config directory, seeded from the
// PRIVATE_KEY/PUBLIC_KEY environment variables when present.
package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goliatone/go-print"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	airlock "github.com/goliatone/go-airlock"
	"github.com/goliatone/go-airlock/tokenstore"
)

func main() {
	v := viper.New()
	v.SetConfigName("airlock")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("airlock")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "4000")
	v.SetDefault("config_dir", "config")
	v.SetDefault("user_table", "Users")
	v.SetDefault("username_column", "username")
	v.SetDefault("password_column", "password")
	v.SetDefault("salt_rounds", 5)
	v.SetDefault("cache_ttl", time.Minute)
	v.SetDefault("token_expiration", 14*24*time.Hour)

	zcfg := zap.NewProductionConfig()
	zl, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	defer zl.Sync()
	logger := &zapLogger{sugar: zl.Sugar()}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logger.Error("could not read config file: %v", err)
			os.Exit(1)
		}
	}

	// credentials and key material deliberately left out of the dump
	logger.Debug("effective configuration:\n%s", print.MaybePrettyJSON(map[string]any{
		"port":             v.GetString("port"),
		"upstream_url":     v.GetString("upstream_url"),
		"base_id":          v.GetString("base_id"),
		"user_table":       v.GetString("user_table"),
		"username_column":  v.GetString("username_column"),
		"password_column":  v.GetString("password_column"),
		"redis_addr":       v.GetString("redis_addr"),
		"cache_ttl":        v.GetDuration("cache_ttl").String(),
		"token_expiration": v.GetDuration("token_expiration").String(),
		"allowed_origins":  v.GetStringSlice("allowed_origins"),
	}))

	configDir := v.GetString("config_dir")
	privateKey, publicKey, err := loadKeyPair(configDir)
	if err != nil {
		logger.Error("airlock could not start, key material missing: %v", err)
		os.Exit(1)
	}

	store, err := buildStore(v, logger)
	if err != nil {
		logger.Error("airlock could not start, revocation store unavailable: %v", err)
		os.Exit(1)
	}

	gateway, err := airlock.New(airlock.Options{
		UpstreamBaseURL: v.GetString("upstream_url"),
		APIKeys:         splitKeys(v.GetString("api_key")),
		BaseID:          v.GetString("base_id"),
		UserTableName:   v.GetString("user_table"),
		UsernameColumn:  v.GetString("username_column"),
		PasswordColumn:  v.GetString("password_column"),

		DisableHashPassword: v.GetBool("disable_hash_password"),
		SaltRounds:          v.GetInt("salt_rounds"),

		TokenExpiration: v.GetDuration("token_expiration"),
		CacheTTL:        v.GetDuration("cache_ttl"),
		AllowedOrigins:  v.GetStringSlice("allowed_origins"),

		PrivateKey: privateKey,
		PublicKey:  publicKey,

		RevocationStore: store,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("airlock could not start: %v", err)
		os.Exit(1)
	}

	if err := gateway.Listen(":" + v.GetString("port")); err != nil {
		logger.Error("server terminated: %v", err)
		os.Exit(1)
	}
}

// loadKeyPair reads the PEM pair from the config directory, materializing
// the files from env vars first when the deployment injects keys that way.
func loadKeyPair(configDir string) (private, public []byte, err error) {
	privatePath := filepath.Join(configDir, "jwt.key")
	publicPath := filepath.Join(configDir, "jwt.key.pub")

	if seed := os.Getenv("PRIVATE_KEY"); seed != "" {
		if err := os.WriteFile(privatePath, []byte(seed), 0o600); err != nil {
			return nil, nil, err
		}
	}
	if seed := os.Getenv("PUBLIC_KEY"); seed != "" {
		if err := os.WriteFile(publicPath, []byte(seed), 0o644); err != nil {
			return nil, nil, err
		}
	}

	if private, err = os.ReadFile(privatePath); err != nil {
		return nil, nil, err
	}
	if public, err = os.ReadFile(publicPath); err != nil {
		return nil, nil, err
	}
	return private, public, nil
}

// buildStore prefers Redis; without an address it falls back to the
// in-memory store, which does not survive restarts.
func buildStore(v *viper.Viper, logger airlock.Logger) (airlock.RevocationStore, error) {
	addr := v.GetString("redis_addr")
	if addr == "" {
		logger.Warn("no redis address configured, using in-memory revocation store")
		return tokenstore.NewMemory(), nil
	}
	return tokenstore.NewRedis(&redis.Options{
		Addr:     addr,
		Password: v.GetString("redis_password"),
		DB:       v.GetInt("redis_db"),
	})
}

func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// zapLogger adapts zap's sugared logger to the airlock.Logger interface.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (l *zapLogger) Debug(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Info(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warn(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Error(format string, args ...any) { l.sugar.Errorf(format, args...) }
