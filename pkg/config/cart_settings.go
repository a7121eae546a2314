package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// CartSettings are the hot-reloadable cart tunables. Numeric bounds are enforced
// by Validate; out-of-range values are rejected, never clamped.
type CartSettings struct {
	ActiveCartExpiryMinutes              int  `envconfig:"PACKFINDERZ_CART_ACTIVE_EXPIRY_MINUTES" default:"60" validate:"min=5,max=1440" json:"active_cart_expiry_minutes"`
	StockReleaseGracePeriodMinutes       int  `envconfig:"PACKFINDERZ_CART_STOCK_RELEASE_GRACE_MINUTES" default:"5" validate:"min=1,max=60" json:"stock_release_grace_period_minutes"`
	RealTimeStockValidationEnabled       bool `envconfig:"PACKFINDERZ_CART_REALTIME_STOCK_VALIDATION" default:"true" json:"real_time_stock_validation_enabled"`
	RealTimePriceValidationEnabled       bool `envconfig:"PACKFINDERZ_CART_REALTIME_PRICE_VALIDATION" default:"true" json:"real_time_price_validation_enabled"`
	GuestCartMergeEnabled                bool `envconfig:"PACKFINDERZ_CART_GUEST_MERGE_ENABLED" default:"true" json:"guest_cart_merge_enabled"`
	MaxDistinctItemsInActiveCart         int  `envconfig:"PACKFINDERZ_CART_MAX_DISTINCT_ITEMS" default:"50" validate:"min=10,max=200" json:"max_distinct_items_in_active_cart"`
	AbandonedCartNotificationsEnabled    bool `envconfig:"PACKFINDERZ_CART_ABANDONMENT_NOTIFICATIONS" default:"true" json:"abandoned_cart_notifications_enabled"`
	AbandonmentThresholdHours            int  `envconfig:"PACKFINDERZ_CART_ABANDONMENT_THRESHOLD_HOURS" default:"24" validate:"min=1,max=72" json:"abandonment_threshold_hours"`
	MaxAbandonmentNotifications          int  `envconfig:"PACKFINDERZ_CART_MAX_ABANDONMENT_NOTIFICATIONS" default:"2" validate:"min=0,max=5" json:"max_abandonment_notifications"`
	AbandonmentNotificationIntervalHours int  `envconfig:"PACKFINDERZ_CART_ABANDONMENT_INTERVAL_HOURS" default:"48" validate:"min=1,max=168" json:"abandonment_notification_interval_hours"`
}

var settingsValidator = validator.New(validator.WithRequiredStructEnabled())

// DefaultCartSettings mirrors the struct tag defaults.
func DefaultCartSettings() CartSettings {
	return CartSettings{
		ActiveCartExpiryMinutes:              60,
		StockReleaseGracePeriodMinutes:       5,
		RealTimeStockValidationEnabled:       true,
		RealTimePriceValidationEnabled:       true,
		GuestCartMergeEnabled:                true,
		MaxDistinctItemsInActiveCart:         50,
		AbandonedCartNotificationsEnabled:    true,
		AbandonmentThresholdHours:            24,
		MaxAbandonmentNotifications:          2,
		AbandonmentNotificationIntervalHours: 48,
	}
}

func (s CartSettings) Validate() error {
	err := settingsValidator.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating cart settings: %w", err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s=%v violates %s=%s", fe.Field(), fe.Value(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("invalid cart settings: %s", strings.Join(problems, "; "))
}

func (s CartSettings) ActiveCartExpiry() time.Duration {
	return time.Duration(s.ActiveCartExpiryMinutes) * time.Minute
}

func (s CartSettings) GracePeriod() time.Duration {
	return time.Duration(s.StockReleaseGracePeriodMinutes) * time.Minute
}

func (s CartSettings) AbandonmentThreshold() time.Duration {
	return time.Duration(s.AbandonmentThresholdHours) * time.Hour
}

func (s CartSettings) NotificationInterval() time.Duration {
	return time.Duration(s.AbandonmentNotificationIntervalHours) * time.Hour
}

// LoadCartSettings reads cart settings from the process environment. When path is
// set, PACKFINDERZ_CART_* keys from that dotenv file take precedence so an
// operator can edit the file and trigger a reload without a restart. The file is
// applied to the parsed settings only; the process environment is left as it was,
// so a rejected value never outlives the reload that read it.
func LoadCartSettings(path string) (CartSettings, error) {
	var settings CartSettings
	if err := envconfig.Process(EnvPrefix, &settings); err != nil {
		return CartSettings{}, fmt.Errorf("parsing cart settings: %w", err)
	}
	if strings.TrimSpace(path) != "" {
		values, err := godotenv.Read(path)
		if err != nil {
			return CartSettings{}, fmt.Errorf("reading cart settings file: %w", err)
		}
		if err := overlayCartSettings(&settings, values); err != nil {
			return CartSettings{}, err
		}
	}
	if err := settings.Validate(); err != nil {
		return CartSettings{}, err
	}
	return settings, nil
}

// overlayCartSettings assigns file values to the fields whose envconfig key they
// name. Keys outside the cart prefix are ignored.
func overlayCartSettings(settings *CartSettings, values map[string]string) error {
	v := reflect.ValueOf(settings).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("envconfig")
		if !strings.HasPrefix(key, cartSettingsEnvPrefix) {
			continue
		}
		raw, ok := values[key]
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		field := v.Field(i)
		switch field.Kind() {
		case reflect.Int:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("parsing cart settings: %s=%q is not an integer", key, raw)
			}
			field.SetInt(int64(n))
		case reflect.Bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("parsing cart settings: %s=%q is not a boolean", key, raw)
			}
			field.SetBool(b)
		default:
			return fmt.Errorf("parsing cart settings: unsupported field type for %s", key)
		}
	}
	return nil
}
