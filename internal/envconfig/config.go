// Package envconfig reads the server configuration from the environment,
// after loading any .env file.
package envconfig

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/wricardo/scratchcard/backup"
	"github.com/wricardo/scratchcard/game/lock"
)

var log = logrus.WithField("pkg", "envconfig")

// Config is every setting the server reads from the environment.
type Config struct {
	Host        string `env:"HOST" envDefault:"localhost"`
	Port        int    `env:"PORT" envDefault:"8080"`
	ConfigDir   string `env:"CONFIG_DIR" envDefault:"configs"`
	SessionsDir string `env:"SESSIONS_DIR" envDefault:"sessions"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	LockTTL           time.Duration `env:"LOCK_TTL" envDefault:"45s"`
	LockSweepInterval time.Duration `env:"LOCK_SWEEP_INTERVAL" envDefault:"1m"`
	IdleBackupAfter   time.Duration `env:"IDLE_BACKUP_AFTER" envDefault:"1h"`
	LockMode          string        `env:"LOCK_MODE" envDefault:"hold"`

	AdminPassword  string `env:"ADMIN_PASSWORD" envDefault:"admin123"`
	PlayerPassword string `env:"PLAYER_PASSWORD" envDefault:"player123"`

	BackupDir      string `env:"BACKUP_DIR" envDefault:"backups"`
	RestoreOnStart bool   `env:"RESTORE_ON_START"`

	R2AccountID       string `env:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	R2Bucket          string `env:"R2_BUCKET_NAME"`
	R2Endpoint        string `env:"R2_ENDPOINT"`

	NgrokEnabled   bool   `env:"NGROK_ENABLED"`
	NgrokAuthToken string `env:"NGROK_AUTHTOKEN"`
	NgrokDomain    string `env:"NGROK_DOMAIN"`
}

// Load reads the given .env files (".env" when none are named) and then
// parses the environment. Missing .env files are not an error. Variables
// already set in the environment win over .env values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.WithError(err).WithField("file", f).Warn("error loading env file")
			}
			continue
		}
		log.WithField("file", f).Info("loaded environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values the parser cannot.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL)
	}
	if c.LockSweepInterval <= 0 {
		return fmt.Errorf("LOCK_SWEEP_INTERVAL must be positive, got %s", c.LockSweepInterval)
	}
	if c.IdleBackupAfter <= 0 {
		return fmt.Errorf("IDLE_BACKUP_AFTER must be positive, got %s", c.IdleBackupAfter)
	}
	if _, err := lock.ParseMode(c.LockMode); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.AdminPassword == "" || c.PlayerPassword == "" {
		return errors.New("ADMIN_PASSWORD and PLAYER_PASSWORD must not be empty")
	}

	r2 := c.R2()
	set := 0
	for _, v := range []string{r2.AccessKeyID, r2.AccessKeySecret, r2.Bucket} {
		if v != "" {
			set++
		}
	}
	if set > 0 && (set < 3 || (r2.AccountID == "" && r2.Endpoint == "")) {
		return errors.New("R2 backups need R2_ACCESS_KEY_ID, R2_ACCESS_KEY_SECRET, R2_BUCKET_NAME and R2_ACCOUNT_ID or R2_ENDPOINT")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Mode is the parsed lock mode. Call Validate first.
func (c Config) Mode() lock.Mode {
	m, _ := lock.ParseMode(c.LockMode)
	return m
}

// Level is the parsed log level, Info when unparsable.
func (c Config) Level() logrus.Level {
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}

// R2 returns the remote backup settings.
func (c Config) R2() backup.R2Config {
	return backup.R2Config{
		AccountID:       c.R2AccountID,
		AccessKeyID:     c.R2AccessKeyID,
		AccessKeySecret: c.R2AccessKeySecret,
		Bucket:          c.R2Bucket,
		Endpoint:        c.R2Endpoint,
	}
}
