package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the conventional name of the store config file, placed
// next to (not inside) the data root by the application shell.
const ConfigFileName = "docstore.json"

// FileConfig mirrors the optional store config file. The file is HuJSON:
// comments and trailing commas are allowed, so operators can annotate why a
// retention count was changed.
//
// Zero values mean "use the default".
type FileConfig struct {
	LockTimeoutMS     int      `json:"lock_timeout_ms"`
	RetainDaily       int      `json:"retain_daily"`
	RetainWeekly      int      `json:"retain_weekly"`
	RetainMonthly     int      `json:"retain_monthly"`
	AdHocMaxAgeDays   int      `json:"adhoc_max_age_days"`
	CorruptionLogMax  int      `json:"corruption_log_max"`
	RestoreHistoryMax int      `json:"restore_history_max"`
	EssentialDocs     []string `json:"essential_docs"`
}

var (
	errConfigRead    = errors.New("cannot read config file")
	errConfigInvalid = errors.New("invalid config file")
)

// LoadOptionsFile reads a HuJSON config file and applies it on top of
// [DefaultOptions]. A missing file is not an error: defaults are returned.
func LoadOptionsFile(path string) (Options, error) {
	opts := DefaultOptions()

	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return opts, nil
		}

		return Options{}, fmt.Errorf("%w: %w", errConfigRead, readErr)
	}

	std, stdErr := hujson.Standardize(raw)
	if stdErr != nil {
		return Options{}, fmt.Errorf("%w: %s: %w", errConfigInvalid, path, stdErr)
	}

	var fileCfg FileConfig

	unmarshalErr := json.Unmarshal(std, &fileCfg)
	if unmarshalErr != nil {
		return Options{}, fmt.Errorf("%w: %s: %w", errConfigInvalid, path, unmarshalErr)
	}

	validateErr := validateFileConfig(fileCfg)
	if validateErr != nil {
		return Options{}, fmt.Errorf("%w: %s: %w", errConfigInvalid, path, validateErr)
	}

	return applyFileConfig(opts, fileCfg), nil
}

func validateFileConfig(cfg FileConfig) error {
	if cfg.LockTimeoutMS < 0 {
		return errors.New("lock_timeout_ms cannot be negative")
	}

	if cfg.RetainDaily < 0 || cfg.RetainWeekly < 0 || cfg.RetainMonthly < 0 {
		return errors.New("retention counts cannot be negative")
	}

	if cfg.AdHocMaxAgeDays < 0 {
		return errors.New("adhoc_max_age_days cannot be negative")
	}

	if cfg.CorruptionLogMax < 0 || cfg.RestoreHistoryMax < 0 {
		return errors.New("log caps cannot be negative")
	}

	for _, doc := range cfg.EssentialDocs {
		if doc == "" {
			return errors.New("essential_docs entries cannot be empty")
		}
	}

	return nil
}

func applyFileConfig(opts Options, cfg FileConfig) Options {
	if cfg.LockTimeoutMS > 0 {
		opts.LockTimeout = time.Duration(cfg.LockTimeoutMS) * time.Millisecond
	}

	if cfg.RetainDaily > 0 {
		opts.Retention.Daily = cfg.RetainDaily
	}

	if cfg.RetainWeekly > 0 {
		opts.Retention.Weekly = cfg.RetainWeekly
	}

	if cfg.RetainMonthly > 0 {
		opts.Retention.Monthly = cfg.RetainMonthly
	}

	if cfg.AdHocMaxAgeDays > 0 {
		opts.Retention.AdHocMaxAge = time.Duration(cfg.AdHocMaxAgeDays) * 24 * time.Hour
	}

	if cfg.CorruptionLogMax > 0 {
		opts.CorruptionLogMax = cfg.CorruptionLogMax
	}

	if cfg.RestoreHistoryMax > 0 {
		opts.RestoreHistoryMax = cfg.RestoreHistoryMax
	}

	if len(cfg.EssentialDocs) > 0 {
		opts.EssentialDocs = append([]string(nil), cfg.EssentialDocs...)
	}

	return opts
}
