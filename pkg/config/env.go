package config

const (
	EnvPrefix = "PACKFINDERZ"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names referenced outside of struct tags.
const (
	EnvAppEnv         = "PACKFINDERZ_APP_ENV"
	EnvPort           = "PACKFINDERZ_APP_PORT"
	EnvDBDSN          = "PACKFINDERZ_DB_DSN"
	EnvDBHost         = "PACKFINDERZ_DB_HOST"
	EnvDBUser         = "PACKFINDERZ_DB_USER"
	EnvDBName         = "PACKFINDERZ_DB_NAME"
	EnvRedisURL       = "PACKFINDERZ_REDIS_URL"
	EnvJWTSecret      = "PACKFINDERZ_JWT_SECRET"
	EnvJWTIssuer      = "PACKFINDERZ_JWT_ISSUER"
	EnvGCPProjectID   = "PACKFINDERZ_GCP_PROJECT_ID"
	EnvCartTopic      = "PACKFINDERZ_PUBSUB_CART_TOPIC"
	EnvInventoryTopic = "PACKFINDERZ_PUBSUB_INVENTORY_TOPIC"
	EnvCatalogURL     = "PACKFINDERZ_CATALOG_BASE_URL"
	EnvInventoryURL   = "PACKFINDERZ_INVENTORY_BASE_URL"

	EnvCartExpiryMinutes      = "PACKFINDERZ_CART_ACTIVE_EXPIRY_MINUTES"
	EnvCartGraceMinutes       = "PACKFINDERZ_CART_STOCK_RELEASE_GRACE_MINUTES"
	EnvCartStockValidation    = "PACKFINDERZ_CART_REALTIME_STOCK_VALIDATION"
	EnvCartPriceValidation    = "PACKFINDERZ_CART_REALTIME_PRICE_VALIDATION"
	EnvCartGuestMerge         = "PACKFINDERZ_CART_GUEST_MERGE_ENABLED"
	EnvCartMaxDistinctItems   = "PACKFINDERZ_CART_MAX_DISTINCT_ITEMS"
	EnvCartAbandonmentEnabled = "PACKFINDERZ_CART_ABANDONMENT_NOTIFICATIONS"
	EnvCartAbandonmentHours   = "PACKFINDERZ_CART_ABANDONMENT_THRESHOLD_HOURS"
	EnvCartMaxNotifications   = "PACKFINDERZ_CART_MAX_ABANDONMENT_NOTIFICATIONS"
	EnvCartNotificationHours  = "PACKFINDERZ_CART_ABANDONMENT_INTERVAL_HOURS"

	// cartSettingsEnvPrefix scopes which keys a settings file may overlay on reload.
	cartSettingsEnvPrefix = "PACKFINDERZ_CART_"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
