package config

import (
	"os"
	"strconv"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
}

type PlatformCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Config struct {
	Twitter            PlatformCredentials
	Linkedin           PlatformCredentials
	Bluesky            PlatformCredentials
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	PostgresURI        string
	RedisURI           string
	FrontendURL        string
	R2                 R2
	SecretKey          string
	EncryptionKey      string
	CookieName         string
	ResendAPIKey       string
	NotifyFromEmail    string
	PublishBatchSize   int
	PlugBatchSize      int
	RateLimitMax       int
}

func LoadConfig() *Config {
	return &Config{
		Twitter: PlatformCredentials{
			ClientID:     getEnv("TWITTER_CLIENT_ID", ""),
			ClientSecret: getEnv("TWITTER_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("TWITTER_REDIRECT_URI", ""),
		},
		Linkedin: PlatformCredentials{
			ClientID:     getEnv("LINKEDIN_CLIENT_ID", ""),
			ClientSecret: getEnv("LINKEDIN_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("LINKEDIN_REDIRECT_URI", ""),
		},
		Bluesky: PlatformCredentials{
			ClientID:     getEnv("BLUESKY_CLIENT_ID", ""),
			ClientSecret: getEnv("BLUESKY_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("BLUESKY_REDIRECT_URI", ""),
		},
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		PostgresURI:        getEnv("POSTGRES_URI", ""),
		RedisURI:           getEnv("REDIS_URI", ""),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:5173"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
		},
		SecretKey:        getEnv("SECRET_KEY", ""),
		EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),
		CookieName:       getEnv("COOKIE_NAME", "plugflow_session"),
		ResendAPIKey:     getEnv("RESEND_API_KEY", ""),
		NotifyFromEmail:  getEnv("NOTIFY_FROM_EMAIL", "notify@plugflow.app"),
		PublishBatchSize: getEnvInt("PUBLISH_BATCH_SIZE", 50),
		PlugBatchSize:    getEnvInt("PLUG_BATCH_SIZE", 100),
		RateLimitMax:     getEnvInt("RATE_LIMIT_MAX", 45),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
