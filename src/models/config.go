package models

// MConfig Structure
type MConfig struct {
	Name     string            `yaml:"name"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	LogLevel string            `yaml:"log_level"`
	Exchange MExchangeConfig   `yaml:"exchange"`
	Limits   MRateLimitConfig  `yaml:"rate_limits"`
	Backoff  MBackoffConfig    `yaml:"backoff"`
	Pipeline MPipelineConfig   `yaml:"pipeline"`
	Sectors  map[string]string `yaml:"sectors"`
	Storage  MStorageConfig    `yaml:"storage"`
}

type MExchangeConfig struct {
	RestURL          string `yaml:"rest_url"`
	WsURL            string `yaml:"ws_url"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ChannelType      string `yaml:"channel_type"`
	MaxSubscriptions int    `yaml:"max_subscriptions"`
	RequestTimeout   int    `yaml:"timeout"`
	MaxRetries       int    `yaml:"retries"`
}

type MRateLimitConfig struct {
	SafetyFactor  float64           `yaml:"safety_factor"`
	LowWaterMark  int               `yaml:"low_water_mark"`
	CacheCapacity int               `yaml:"cache_capacity"`
	DefaultGroup  string            `yaml:"default_group"`
	Groups        []MRateLimitGroup `yaml:"groups"`
}

type MRateLimitGroup struct {
	Name          string   `yaml:"name"`
	MaxPerPeriod  int      `yaml:"max_per_period"`
	PeriodSeconds int      `yaml:"period_seconds"`
	PathPrefixes  []string `yaml:"path_prefixes"`
}

type MBackoffConfig struct {
	BaseDelayMs     int `yaml:"base_delay_ms"`
	MaxDelayMs      int `yaml:"max_delay_ms"`
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

type MPipelineConfig struct {
	MergeWindowMs           int     `yaml:"merge_window_ms"`
	LargeTradeNotional      float64 `yaml:"large_trade_notional"`
	SnapshotIntervalSeconds int     `yaml:"snapshot_interval_seconds"`
	BaselineRefreshSeconds  int     `yaml:"baseline_refresh_seconds"`
	SnapshotHistory         int     `yaml:"snapshot_history"`
	TopN                    int     `yaml:"top_n"`
	ActivityWindowSeconds   int     `yaml:"activity_window_seconds"`
	EvictionIntervalSeconds int     `yaml:"eviction_interval_seconds"`
	RecentTradesCapacity    int     `yaml:"recent_trades_capacity"`
	LargeTradesCapacity     int     `yaml:"large_trades_capacity"`
	ActiveSymbolTTLSeconds  int     `yaml:"active_symbol_ttl_seconds"`
}

type MStorageConfig struct {
	Enabled            bool   `yaml:"enabled"`
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RetentionDays      int    `yaml:"retention_days"`
}
