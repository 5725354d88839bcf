package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DatabaseTypePostgres = "postgres"
	DatabaseTypeMem      = "mem"

	IndexTypeLocal = "local"
	IndexTypeMem   = "mem"

	IDStrategyLong   = "long"
	IDStrategyString = "string"
	IDStrategyUUID   = "uuid"
)

const (
	LoggingFormatKey        = "logging.format"
	LoggingLevelKey         = "logging.level"
	LoggingOutputKey        = "logging.output"
	LoggingFileMaxSizeMBKey = "logging.file_max_size_mb"
	LoggingFilesKeepKey     = "logging.files_keep"

	DefaultLoggingFormat        = "text"
	DefaultLoggingLevel         = "INFO"
	DefaultLoggingOutput        = "-"
	DefaultLoggingFileMaxSizeMB = 100 * 1024
	DefaultLoggingFilesKeep     = 100

	DatabaseTypeKey                          = "database.type"
	DatabasePostgresConnectionStringKey      = "database.postgres.connection_string"
	DatabasePostgresMaxOpenConnectionsKey    = "database.postgres.max_open_connections"
	DatabasePostgresMaxIdleConnectionsKey    = "database.postgres.max_idle_connections"
	DatabasePostgresConnectionMaxLifetimeKey = "database.postgres.connection_max_lifetime"

	DefaultDatabaseType                          = DatabaseTypeMem
	DefaultDatabasePostgresMaxOpenConnections    = 25
	DefaultDatabasePostgresMaxIdleConnections    = 25
	DefaultDatabasePostgresConnectionMaxLifetime = 5 * time.Minute

	StoreIDStrategyKey         = "store.id_strategy"
	StoreReaderPoolCapacityKey = "store.reader_pool_capacity"
	StoreWriterPoolCapacityKey = "store.writer_pool_capacity"
	StoreKeepAlivePeriodKey    = "store.keep_alive_period"
	StoreDropAllOnActivateKey  = "store.drop_all_on_activate"

	DefaultStoreIDStrategy         = IDStrategyLong
	DefaultStoreReaderPoolCapacity = 7
	DefaultStoreWriterPoolCapacity = 3
	DefaultStoreKeepAlivePeriod    = 4 * time.Hour

	IndexTypeKey                = "index.type"
	IndexLocalPathKey           = "index.local.path"
	IndexLocalSyncWritesKey     = "index.local.sync_writes"
	IndexLocalGCIntervalKey     = "index.local.gc_interval"
	IndexLocalGCDiscardRatioKey = "index.local.gc_discard_ratio"
	IndexLocalEncodeWorkersKey  = "index.local.encode_workers"

	DefaultIndexType                = IndexTypeMem
	DefaultIndexLocalPath           = "~/termstore/index"
	DefaultIndexLocalSyncWrites     = true
	DefaultIndexLocalGCInterval     = 10 * time.Minute
	DefaultIndexLocalGCDiscardRatio = 0.5
	DefaultIndexLocalEncodeWorkers  = 4

	CacheSizeKey   = "cache.size"
	CacheExpiryKey = "cache.expiry"
	CacheJitterKey = "cache.jitter"

	DefaultCacheSize   = 1024
	DefaultCacheExpiry = 10 * time.Minute
	DefaultCacheJitter = 5 * time.Second

	MetricsListenAddressKey     = "metrics.listen_address"
	DefaultMetricsListenAddress = "127.0.0.1:8099"
)

func setDefaults() {
	viper.SetDefault(LoggingFormatKey, DefaultLoggingFormat)
	viper.SetDefault(LoggingLevelKey, DefaultLoggingLevel)
	viper.SetDefault(LoggingOutputKey, DefaultLoggingOutput)
	viper.SetDefault(LoggingFileMaxSizeMBKey, DefaultLoggingFileMaxSizeMB)
	viper.SetDefault(LoggingFilesKeepKey, DefaultLoggingFilesKeep)

	viper.SetDefault(DatabaseTypeKey, DefaultDatabaseType)
	viper.SetDefault(DatabasePostgresMaxOpenConnectionsKey, DefaultDatabasePostgresMaxOpenConnections)
	viper.SetDefault(DatabasePostgresMaxIdleConnectionsKey, DefaultDatabasePostgresMaxIdleConnections)
	viper.SetDefault(DatabasePostgresConnectionMaxLifetimeKey, DefaultDatabasePostgresConnectionMaxLifetime)

	viper.SetDefault(StoreIDStrategyKey, DefaultStoreIDStrategy)
	viper.SetDefault(StoreReaderPoolCapacityKey, DefaultStoreReaderPoolCapacity)
	viper.SetDefault(StoreWriterPoolCapacityKey, DefaultStoreWriterPoolCapacity)
	viper.SetDefault(StoreKeepAlivePeriodKey, DefaultStoreKeepAlivePeriod)
	viper.SetDefault(StoreDropAllOnActivateKey, false)

	viper.SetDefault(IndexTypeKey, DefaultIndexType)
	viper.SetDefault(IndexLocalPathKey, DefaultIndexLocalPath)
	viper.SetDefault(IndexLocalSyncWritesKey, DefaultIndexLocalSyncWrites)
	viper.SetDefault(IndexLocalGCIntervalKey, DefaultIndexLocalGCInterval)
	viper.SetDefault(IndexLocalGCDiscardRatioKey, DefaultIndexLocalGCDiscardRatio)
	viper.SetDefault(IndexLocalEncodeWorkersKey, DefaultIndexLocalEncodeWorkers)

	viper.SetDefault(CacheSizeKey, DefaultCacheSize)
	viper.SetDefault(CacheExpiryKey, DefaultCacheExpiry)
	viper.SetDefault(CacheJitterKey, DefaultCacheJitter)

	viper.SetDefault(MetricsListenAddressKey, DefaultMetricsListenAddress)
}
