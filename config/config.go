/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT              = "5005"
	DEFAULT_REQUEST_TIMEOUT   = 40
	DEFAULT_MAX_RETRIES       = 3
	DEFAULT_CONSENT_VALIDITY  = 90
	DEFAULT_MATCH_THRESHOLD   = 70
	DEFAULT_PROVIDER          = "sandbox"
	DEFAULT_WEBHOOK_QUEUE     = "openbank_webhooks"
	DEFAULT_MONITORING_PORT   = "5006"
	DEFAULT_POLL_INTERVAL_SEC = 60

	ModeSandbox = "sandbox"
	ModeLive    = "live"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"OPENBANK_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"OPENBANK_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"OPENBANK_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"OPENBANK_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"OPENBANK_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"OPENBANK_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"OPENBANK_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"OPENBANK_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"OPENBANK_REDIS_SKIP_TLS_VERIFY"`
}

// OpenBankingConfig holds the provider credentials. Secrets here are never logged.
type OpenBankingConfig struct {
	APIKey              string `json:"api_key" envconfig:"OPENBANK_API_KEY"`
	ClientID            string `json:"client_id" envconfig:"OPENBANK_CLIENT_ID"`
	ClientSecret        string `json:"client_secret" envconfig:"OPENBANK_CLIENT_SECRET"`
	RedirectURI         string `json:"redirect_uri" envconfig:"OPENBANK_REDIRECT_URI"`
	Mode                string `json:"mode" envconfig:"OPENBANK_MODE"`
	DefaultProvider     string `json:"default_provider" envconfig:"OPENBANK_DEFAULT_PROVIDER"`
	CallbackLandingURL  string `json:"callback_landing_url" envconfig:"OPENBANK_CALLBACK_LANDING_URL"`
	RequestTimeoutSec   int    `json:"request_timeout_sec" envconfig:"OPENBANK_REQUEST_TIMEOUT_SEC"`
	MaxRetries          int    `json:"max_retries" envconfig:"OPENBANK_MAX_RETRIES"`
	ConsentValidityDays int    `json:"consent_validity_days" envconfig:"OPENBANK_CONSENT_VALIDITY_DAYS"`
	NameMatchThreshold  int    `json:"name_match_threshold" envconfig:"OPENBANK_NAME_MATCH_THRESHOLD"`
	TokenEncryptionKey  string `json:"token_encryption_key" envconfig:"OPENBANK_TOKEN_ENCRYPTION_KEY"`
	TrueLayerBaseURL    string `json:"truelayer_base_url" envconfig:"OPENBANK_TRUELAYER_BASE_URL"`
	TrueLayerAuthURL    string `json:"truelayer_auth_url" envconfig:"OPENBANK_TRUELAYER_AUTH_URL"`
	YapilyBaseURL       string `json:"yapily_base_url" envconfig:"OPENBANK_YAPILY_BASE_URL"`
	YapilyInstitutionID string `json:"yapily_institution_id" envconfig:"OPENBANK_YAPILY_INSTITUTION_ID"`
}

// Configured reports the names of missing credential fields. An empty
// result means calls to a real provider may be attempted. Mode only picks
// the provider base URLs, so credentials are required in both modes.
func (o OpenBankingConfig) Configured() []string {
	var missing []string
	if o.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if o.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if o.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if o.RedirectURI == "" {
		missing = append(missing, "redirect_uri")
	}
	return missing
}

// CreditorConfig is the merchant account every payment is sent to.
type CreditorConfig struct {
	AccountNumber     string `json:"account_number" envconfig:"OPENBANK_CREDITOR_ACCOUNT_NUMBER"`
	SortCode          string `json:"sort_code" envconfig:"OPENBANK_CREDITOR_SORT_CODE"`
	AccountHolderName string `json:"account_holder_name" envconfig:"OPENBANK_CREDITOR_ACCOUNT_HOLDER_NAME"`
}

func (c CreditorConfig) Configured() bool {
	return c.AccountNumber != "" && c.SortCode != "" && c.AccountHolderName != ""
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"OPENBANK_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"OPENBANK_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"OPENBANK_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"OPENBANK_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type QueueConfig struct {
	WebhookQueue       string `json:"webhook_queue" envconfig:"OPENBANK_QUEUE_WEBHOOK"`
	MaxRetryAttempts   int    `json:"max_retry_attempts" envconfig:"OPENBANK_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort     string `json:"monitoring_port" envconfig:"OPENBANK_QUEUE_MONITORING_PORT"`
	Concurrency        int    `json:"concurrency" envconfig:"OPENBANK_QUEUE_CONCURRENCY"`
	ConsentPollSeconds int    `json:"consent_poll_seconds" envconfig:"OPENBANK_QUEUE_CONSENT_POLL_SECONDS"`
}

type Configuration struct {
	ProjectName     string            `json:"project_name" envconfig:"OPENBANK_PROJECT_NAME"`
	Server          ServerConfig      `json:"server"`
	DataSource      DataSourceConfig  `json:"data_source"`
	Redis           RedisConfig       `json:"redis"`
	OpenBanking     OpenBankingConfig `json:"open_banking"`
	Creditor        CreditorConfig    `json:"creditor"`
	Notification    Notification      `json:"notification"`
	RateLimit       RateLimitConfig   `json:"rate_limit"`
	Queue           QueueConfig       `json:"queue"`
	EnableTelemetry bool              `json:"enable_telemetry" envconfig:"OPENBANK_ENABLE_TELEMETRY"`
	EnableTracing   bool              `json:"enable_tracing" envconfig:"OPENBANK_ENABLE_TRACING"`
	PostHogKey      string            `json:"posthog_key" envconfig:"OPENBANK_POSTHOG_KEY"`
}

// Redacted returns a copy safe to print.
func (cnf Configuration) Redacted() Configuration {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	cnf.Server.SecretKey = mask(cnf.Server.SecretKey)
	cnf.OpenBanking.APIKey = mask(cnf.OpenBanking.APIKey)
	cnf.OpenBanking.ClientSecret = mask(cnf.OpenBanking.ClientSecret)
	cnf.OpenBanking.TokenEncryptionKey = mask(cnf.OpenBanking.TokenEncryptionKey)
	cnf.DataSource.Dns = mask(cnf.DataSource.Dns)
	cnf.PostHogKey = mask(cnf.PostHogKey)
	return cnf
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&cnf); err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	if err := envconfig.Process("openbank", &cnf); err != nil {
		return err
	}

	if err := cnf.validateAndAddDefaults(); err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called openbank.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Openbank Server"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	ob := &cnf.OpenBanking
	ob.Mode = strings.ToLower(strings.TrimSpace(ob.Mode))
	switch ob.Mode {
	case "":
		ob.Mode = ModeSandbox
	case ModeSandbox, ModeLive:
	default:
		return errors.New("open_banking.mode must be sandbox or live")
	}
	if ob.DefaultProvider == "" {
		ob.DefaultProvider = DEFAULT_PROVIDER
	}
	if ob.CallbackLandingURL == "" {
		ob.CallbackLandingURL = "/"
	}
	if ob.RequestTimeoutSec <= 0 {
		ob.RequestTimeoutSec = DEFAULT_REQUEST_TIMEOUT
	}
	if ob.MaxRetries <= 0 {
		ob.MaxRetries = DEFAULT_MAX_RETRIES
	}
	if ob.ConsentValidityDays <= 0 {
		ob.ConsentValidityDays = DEFAULT_CONSENT_VALIDITY
	}
	if ob.NameMatchThreshold <= 0 || ob.NameMatchThreshold > 100 {
		ob.NameMatchThreshold = DEFAULT_MATCH_THRESHOLD
	}
	if ob.TokenEncryptionKey == "" {
		if ob.Mode == ModeLive {
			return errors.New("open_banking.token_encryption_key is required in live mode")
		}
		ob.TokenEncryptionKey = "openbank-sandbox-token-key"
		log.Println("Warning: token encryption key not set. Using the sandbox default.")
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = DEFAULT_WEBHOOK_QUEUE
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_MONITORING_PORT
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 5
	}
	if cnf.Queue.ConsentPollSeconds <= 0 {
		cnf.Queue.ConsentPollSeconds = DEFAULT_POLL_INTERVAL_SEC
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
