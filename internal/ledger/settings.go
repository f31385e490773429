package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Settings is the per-user tracking configuration stored in config.json.
type Settings struct {
	NotificationInterval int    `json:"notificationInterval" validate:"min=1,max=1440"`
	DataRetentionDays    int    `json:"dataRetentionDays" validate:"min=0,max=3650"`
	AutoStartOnLogin     bool   `json:"autoStartOnLogin"`
	AutoStopOnLogout     bool   `json:"autoStopOnLogout"`
	AutoStartOnUnlock    bool   `json:"autoStartOnUnlock"`
	AutoStopOnLock       bool   `json:"autoStopOnLock"`
	SessionCheckInterval int    `json:"sessionCheckInterval" validate:"min=5,max=3600"`
	LogLevel             string `json:"logLevel" validate:"oneof=debug info warn error"`
}

// DefaultSettings returns the settings used when config.json is absent.
func DefaultSettings() Settings {
	return Settings{
		NotificationInterval: 60,
		DataRetentionDays:    0,
		SessionCheckInterval: 30,
		LogLevel:             "info",
	}
}

// SessionFeaturesEnabled reports whether any automatic start/stop flag is set.
func (s Settings) SessionFeaturesEnabled() bool {
	return s.AutoStartOnLogin || s.AutoStopOnLogout || s.AutoStartOnUnlock || s.AutoStopOnLock
}

// CheckInEvery returns the check-in period, falling back to the default for
// out-of-range values read from disk.
func (s Settings) CheckInEvery() time.Duration {
	minutes := s.NotificationInterval
	if minutes < 1 {
		minutes = DefaultSettings().NotificationInterval
	}
	return time.Duration(minutes) * time.Minute
}

// SessionPollEvery returns the session probe period with the same fallback.
func (s Settings) SessionPollEvery() time.Duration {
	seconds := s.SessionCheckInterval
	if seconds < 5 {
		seconds = DefaultSettings().SessionCheckInterval
	}
	return time.Duration(seconds) * time.Second
}

type settingKind int

const (
	kindInt settingKind = iota
	kindBool
	kindString
)

type settingField struct {
	index int
	kind  settingKind
}

var (
	settingFields = buildSettingFields()

	validate     *validator.Validate
	validateOnce sync.Once
)

func buildSettingFields() map[string]settingField {
	fields := make(map[string]settingField)
	t := reflect.TypeOf(Settings{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("json"), ",")[0]
		var kind settingKind
		switch f.Type.Kind() {
		case reflect.Int:
			kind = kindInt
		case reflect.Bool:
			kind = kindBool
		default:
			kind = kindString
		}
		fields[name] = settingField{index: i, kind: kind}
	}
	return fields
}

func settingsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			return strings.Split(f.Tag.Get("json"), ",")[0]
		})
	})
	return validate
}

// SettingKeys lists the recognised keys in sorted order.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingFields))
	for key := range settingFields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of key formatted as a string.
func (s Settings) Get(key string) (string, error) {
	field, ok := settingFields[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	v := reflect.ValueOf(s).Field(field.index)
	switch field.kind {
	case kindInt:
		return strconv.FormatInt(v.Int(), 10), nil
	case kindBool:
		return strconv.FormatBool(v.Bool()), nil
	default:
		return v.String(), nil
	}
}

// Set parses value for key and returns the updated settings. The receiver is
// left untouched when parsing or validation fails.
func (s Settings) Set(key, value string) (Settings, error) {
	field, ok := settingFields[key]
	if !ok {
		return s, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	next := s
	v := reflect.ValueOf(&next).Elem().Field(field.index)
	value = strings.TrimSpace(value)
	switch field.kind {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return s, fmt.Errorf("%w: %s expects an integer, got %q", ErrInvalidSetting, key, value)
		}
		v.SetInt(int64(n))
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return s, fmt.Errorf("%w: %s expects true or false, got %q", ErrInvalidSetting, key, value)
		}
		v.SetBool(b)
	default:
		v.SetString(strings.ToLower(value))
	}
	if err := next.Validate(); err != nil {
		return s, err
	}
	return next, nil
}

// Validate checks every field against its range.
func (s Settings) Validate() error {
	err := settingsValidator().Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrInvalidSetting, err)
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", ")))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidSetting, strings.Join(messages, "; "))
}
