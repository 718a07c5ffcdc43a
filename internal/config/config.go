package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/orvull/sparkcards/internal/models"
	"github.com/orvull/sparkcards/internal/naming"
)

// Credential strategies.
const (
	StrategyFile    = "file"
	StrategyAmbient = "ambient"
)

// Signer modes.
const (
	SignerAuto  = "auto"
	SignerLocal = "local"
	SignerIAM   = "iam"
)

// Wallet backends.
const (
	BackendGoogle = "google"
	BackendMemory = "memory"
)

// DefaultClassSuffix is appended to the issuer id when CLASS_ID is not set.
const DefaultClassSuffix = "coffee_madrid_loyalty_v2"

// Config is read from the process environment once at startup.
// Keys are the lower-cased environment variable names.
type Config struct {
	HTTPAddr string `koanf:"http_addr"`
	Port     string `koanf:"port"`
	GRPCAddr string `koanf:"grpc_addr"`

	IssuerID      string `koanf:"issuer_id"`
	ClassID       string `koanf:"class_id"`
	SignerEmail   string `koanf:"signer_sa_email"`
	ObjectType    string `koanf:"object_type"`
	BusinessName  string `koanf:"business_name"`
	AppTitle      string `koanf:"app_title"`
	ImageBase     string `koanf:"img_base"`
	TotalStamps   int    `koanf:"total"`
	RewardText    string `koanf:"reward_text"`
	ObjectPrefix  string `koanf:"object_prefix"`
	BackgroundHex string `koanf:"hex_background_color"`
	CardHeader    string `koanf:"card_header"`
	LogoURI       string `koanf:"logo_uri"`

	CredentialStrategy string        `koanf:"credential_strategy"`
	CredentialsFile    string        `koanf:"google_application_credentials"`
	SignerMode         string        `koanf:"signer_mode"`
	SaveLinkTTL        time.Duration `koanf:"save_link_ttl"`
	RemoteTimeout      time.Duration `koanf:"remote_timeout"`

	WalletBackend string `koanf:"wallet_backend"`
	WalletAPIBase string `koanf:"wallet_api_base"`
	IAMAPIBase    string `koanf:"iam_api_base"`
	SaveURLBase   string `koanf:"save_url_base"`

	StaffKeyHash  string `koanf:"staff_key_hash"`
	StaffAudience string `koanf:"staff_audience"`
	StaffEmails   string `koanf:"staff_emails"`

	IssueRatePerMinute float64 `koanf:"issue_rate_per_minute"`
	IssueBurst         int     `koanf:"issue_burst"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// Defaults returns the configuration used for keys absent from the environment.
func Defaults() Config {
	return Config{
		GRPCAddr:           ":50051",
		ObjectType:         string(models.KindGeneric),
		ImageBase:          "https://pl4int3xt.github.io",
		TotalStamps:        8,
		RewardText:         "Free coffee",
		ObjectPrefix:       naming.DefaultPrefix,
		BackgroundHex:      "#F2F2F2",
		SignerMode:         SignerAuto,
		SaveLinkTTL:        time.Hour,
		RemoteTimeout:      30 * time.Second,
		WalletBackend:      BackendGoogle,
		SaveURLBase:        "https://pay.google.com/gp/v/save",
		IssueRatePerMinute: 30,
		IssueBurst:         10,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// Load reads the environment on top of Defaults and fills derived values.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	e := env.ProviderWithValue("", ".", func(rawKey, rawValue string) (string, interface{}) {
		// empty variables keep the default
		if rawValue == "" {
			return "", nil
		}
		return strings.ToLower(rawKey), rawValue
	})
	if err := k.Load(e, nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode configuration: %w", err)
	}
	cfg.finalize()
	return cfg, nil
}

func (c *Config) finalize() {
	if c.HTTPAddr == "" {
		port := c.Port
		if port == "" {
			port = "8080"
		}
		c.HTTPAddr = ":" + port
	}
	if c.BusinessName == "" {
		c.BusinessName = c.AppTitle
	}
	if c.BusinessName == "" {
		c.BusinessName = "Coffee Madrid"
	}
	if c.ClassID == "" && c.IssuerID != "" {
		c.ClassID = c.IssuerID + "." + DefaultClassSuffix
	}
	c.ClassID = naming.NormalizeClassID(c.IssuerID, c.ClassID)
	if c.CredentialStrategy == "" {
		if c.CredentialsFile != "" {
			c.CredentialStrategy = StrategyFile
		} else {
			c.CredentialStrategy = StrategyAmbient
		}
	}
	c.CredentialStrategy = strings.ToLower(c.CredentialStrategy)
	c.SignerMode = strings.ToLower(c.SignerMode)
	c.WalletBackend = strings.ToLower(c.WalletBackend)
	c.ImageBase = strings.TrimRight(c.ImageBase, "/")
}

// Kind returns the configured object kind.
func (c Config) Kind() models.ObjectKind {
	return models.ParseObjectKind(c.ObjectType)
}

// LocalSigning reports whether save tokens are signed with the key file
// instead of the IAM signJwt API.
func (c Config) LocalSigning() bool {
	switch c.SignerMode {
	case SignerLocal:
		return true
	case SignerIAM:
		return false
	default:
		return c.CredentialStrategy == StrategyFile
	}
}

// StaffEmailList splits STAFF_EMAILS on commas.
func (c Config) StaffEmailList() []string {
	var out []string
	for _, e := range strings.Split(c.StaffEmails, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, strings.ToLower(e))
		}
	}
	return out
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.IssuerID == "" {
		errs = append(errs, errors.New("ISSUER_ID is required"))
	}
	if c.TotalStamps <= 0 {
		errs = append(errs, fmt.Errorf("TOTAL must be positive, got %d", c.TotalStamps))
	}
	switch c.CredentialStrategy {
	case StrategyFile:
		if c.CredentialsFile == "" {
			errs = append(errs, errors.New("GOOGLE_APPLICATION_CREDENTIALS is required for the file credential strategy"))
		} else if _, err := os.Stat(c.CredentialsFile); err != nil {
			errs = append(errs, fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS: %w", err))
		}
	case StrategyAmbient:
	default:
		errs = append(errs, fmt.Errorf("unknown CREDENTIAL_STRATEGY %q", c.CredentialStrategy))
	}
	switch c.SignerMode {
	case SignerAuto, SignerLocal, SignerIAM:
	default:
		errs = append(errs, fmt.Errorf("unknown SIGNER_MODE %q", c.SignerMode))
	}
	if c.SignerMode == SignerLocal && c.CredentialStrategy != StrategyFile {
		errs = append(errs, errors.New("SIGNER_MODE=local needs the file credential strategy"))
	}
	// the key file carries its own client_email
	if !c.LocalSigning() && c.SignerEmail == "" {
		errs = append(errs, errors.New("SIGNER_SA_EMAIL is required when signing through IAM"))
	}
	switch c.WalletBackend {
	case BackendGoogle, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown WALLET_BACKEND %q", c.WalletBackend))
	}
	return errors.Join(errs...)
}
