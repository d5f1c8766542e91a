// Package config resolves the bridge's credentials and identifiers from
// the environment once at startup. The resulting Config is passed into
// constructors and never mutated.
package config

import (
	"os"
	"time"
)

type Config struct {
	// Clover (source)
	CloverMerchantID   string
	CloverAccessToken  string // static long-lived token, preferred when set
	CloverAppID        string
	CloverAppSecret    string
	CloverRefreshToken string
	CloverTokenURL     string
	CloverBaseURL      string

	// Webhook verification
	CloverWebhookSecret    string // compared against x-clover-auth
	WebhookSignatureSecret string // HMAC secret for x-clover-signature

	// Lightspeed (destination)
	LightspeedAccountID     string
	LightspeedClientID      string
	LightspeedClientSecret  string
	LightspeedRefreshToken  string
	LightspeedPersonalToken string // static long-lived token
	LightspeedTokenURL      string
	LightspeedBaseURL       string
	LightspeedShopID        string
	LightspeedEmployeeID    string
	LightspeedRegisterID    string

	// Queue (optional; webhook processes inline when unset)
	KafkaBootstrap string
	QueueTopic     string
	QueueGroupID   string

	// Server
	ListenAddr string
	DedupTTL   time.Duration
	DedupDir   string // when set, dedup state is persisted with Pebble
}

const (
	defaultCloverTokenURL     = "https://api.clover.com/oauth/token"
	defaultLightspeedTokenURL = "https://api.lightspeedapp.com/oauth/access_token.php"
)

// FromEnv reads the configuration. Required credentials are validated by
// the component constructors, not here, so each binary can demand only
// what it actually uses.
func FromEnv() Config {
	cfg := Config{
		CloverMerchantID:   os.Getenv("CLOVER_MERCHANT_ID"),
		CloverAccessToken:  os.Getenv("CLOVER_ACCESS_TOKEN"),
		CloverAppID:        os.Getenv("CLOVER_APP_ID"),
		CloverAppSecret:    os.Getenv("CLOVER_APP_SECRET"),
		CloverRefreshToken: os.Getenv("CLOVER_REFRESH_TOKEN"),
		CloverTokenURL:     envOr("CLOVER_TOKEN_URL", defaultCloverTokenURL),
		CloverBaseURL:      os.Getenv("CLOVER_BASE_URL"),

		CloverWebhookSecret:    os.Getenv("CLOVER_WEBHOOK_SECRET"),
		WebhookSignatureSecret: os.Getenv("WEBHOOK_SIGNATURE_SECRET"),

		LightspeedAccountID:     os.Getenv("LIGHTSPEED_ACCOUNT_ID"),
		LightspeedClientID:      os.Getenv("LIGHTSPEED_CLIENT_ID"),
		LightspeedClientSecret:  os.Getenv("LIGHTSPEED_CLIENT_SECRET"),
		LightspeedRefreshToken:  os.Getenv("LIGHTSPEED_REFRESH_TOKEN"),
		LightspeedPersonalToken: os.Getenv("LIGHTSPEED_PERSONAL_TOKEN"),
		LightspeedTokenURL:      envOr("LIGHTSPEED_TOKEN_URL", defaultLightspeedTokenURL),
		LightspeedBaseURL:       os.Getenv("LIGHTSPEED_BASE_URL"),
		LightspeedShopID:        os.Getenv("LIGHTSPEED_SHOP_ID"),
		LightspeedEmployeeID:    os.Getenv("LIGHTSPEED_EMPLOYEE_ID"),
		LightspeedRegisterID:    os.Getenv("LIGHTSPEED_REGISTER_ID"),

		KafkaBootstrap: os.Getenv("KAFKA_BOOTSTRAP"),
		QueueTopic:     envOr("QUEUE_TOPIC", "bridge.orders"),
		QueueGroupID:   envOr("QUEUE_GROUP_ID", "posbridge-worker"),

		ListenAddr: envOr("LISTEN_ADDR", ":4000"),
		DedupTTL:   24 * time.Hour,
		DedupDir:   os.Getenv("DEDUP_DIR"),
	}
	if v := os.Getenv("DEDUP_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.DedupTTL = d
		}
	}
	return cfg
}

// UseQueue reports whether webhook receipt should be decoupled from
// processing via the queue.
func (c Config) UseQueue() bool { return c.KafkaBootstrap != "" }

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
