package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/treeverse/termstore/pkg/db/params"
	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/logging"
	"gopkg.in/yaml.v3"
)

var (
	ErrBadConfiguration    = errors.New("bad configuration")
	ErrMissingRequiredKeys = fmt.Errorf("%w: missing required keys", ErrBadConfiguration)
	ErrBadPoolCapacity     = fmt.Errorf("%w: reader pool capacity must exceed writer pool capacity", ErrBadConfiguration)
	ErrUnknownIDStrategy   = fmt.Errorf("%w: unknown id strategy", ErrBadConfiguration)
)

// SecureString is a string that is never printed as is.
type SecureString string

// String returns an elided version.  It is safe to call for logging.
func (SecureString) String() string {
	return "[SECRET]"
}

// SecureValue returns the actual value of s as a string.
func (s SecureString) SecureValue() string {
	return string(s)
}

type Logging struct {
	Format        string   `mapstructure:"format"`
	Level         string   `mapstructure:"level"`
	Output        []string `mapstructure:"output"`
	FileMaxSizeMB int      `mapstructure:"file_max_size_mb"`
	FilesKeep     int      `mapstructure:"files_keep"`
}

type Postgres struct {
	ConnectionString      SecureString  `mapstructure:"connection_string"`
	MaxOpenConnections    int32         `mapstructure:"max_open_connections"`
	MaxIdleConnections    int32         `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
}

type Database struct {
	Type     string   `mapstructure:"type"`
	Postgres Postgres `mapstructure:"postgres"`
}

type Store struct {
	IDStrategy         string        `mapstructure:"id_strategy"`
	ReaderPoolCapacity int32         `mapstructure:"reader_pool_capacity"`
	WriterPoolCapacity int32         `mapstructure:"writer_pool_capacity"`
	KeepAlivePeriod    time.Duration `mapstructure:"keep_alive_period"`
	DropAllOnActivate  bool          `mapstructure:"drop_all_on_activate"`
}

type LocalIndex struct {
	Path           string        `mapstructure:"path"`
	SyncWrites     bool          `mapstructure:"sync_writes"`
	GCInterval     time.Duration `mapstructure:"gc_interval"`
	GCDiscardRatio float64       `mapstructure:"gc_discard_ratio"`
	EncodeWorkers  int           `mapstructure:"encode_workers"`
}

type Index struct {
	Type  string     `mapstructure:"type"`
	Local LocalIndex `mapstructure:"local"`
}

type Cache struct {
	Size   int           `mapstructure:"size"`
	Expiry time.Duration `mapstructure:"expiry"`
	Jitter time.Duration `mapstructure:"jitter"`
}

type Metrics struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// Config is the full configuration of a termstore process
type Config struct {
	Logging  Logging  `mapstructure:"logging"`
	Database Database `mapstructure:"database"`
	Store    Store    `mapstructure:"store"`
	Index    Index    `mapstructure:"index"`
	Cache    Cache    `mapstructure:"cache"`
	Metrics  Metrics  `mapstructure:"metrics"`
}

const EnvPrefix = "TERMSTORE"

// SetupEnv lets environment variables override configuration keys: store.id_strategy is
// read from TERMSTORE_STORE_ID_STRATEGY.
func SetupEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func NewConfig() (*Config, error) {
	c := &Config{}

	// Inform viper of all expected fields.  Otherwise, it fails to deserialize from the
	// environment.
	for _, key := range structKeys(reflect.TypeOf(*c), "mapstructure", nil) {
		viper.SetDefault(key, nil)
	}
	setDefaults()

	err := viper.UnmarshalExact(c, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","))))
	if err != nil {
		return nil, err
	}
	if err := c.setupLogger(); err != nil {
		return nil, err
	}
	return c, nil
}

// structKeys lists the dotted keys of every leaf field in typ, named by tag.
func structKeys(typ reflect.Type, tag string, prefix []string) []string {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return []string{strings.Join(prefix, ".")}
	}
	var keys []string
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name, ok := field.Tag.Lookup(tag)
		if !ok {
			name = field.Name
		}
		path := append(append([]string{}, prefix...), name)
		keys = append(keys, structKeys(field.Type, tag, path)...)
	}
	return keys
}

func (c *Config) setupLogger() error {
	logging.SetOutputFormat(c.Logging.Format)
	if err := logging.SetOutputs(c.Logging.Output, c.Logging.FileMaxSizeMB, c.Logging.FilesKeep); err != nil {
		return err
	}
	logging.SetLevel(c.Logging.Level)
	return nil
}

func (c *Config) Validate() error {
	var missing []string
	switch c.Database.Type {
	case DatabaseTypePostgres:
		if c.Database.Postgres.ConnectionString == "" {
			missing = append(missing, DatabasePostgresConnectionStringKey)
		}
	case DatabaseTypeMem:
	default:
		return fmt.Errorf("%w: database type %q", ErrBadConfiguration, c.Database.Type)
	}
	switch c.Index.Type {
	case IndexTypeLocal:
		if c.Index.Local.Path == "" {
			missing = append(missing, IndexLocalPathKey)
		}
	case IndexTypeMem:
	default:
		return fmt.Errorf("%w: index type %q", ErrBadConfiguration, c.Index.Type)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequiredKeys, strings.Join(missing, ", "))
	}
	switch c.Store.IDStrategy {
	case IDStrategyLong, IDStrategyString, IDStrategyUUID:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIDStrategy, c.Store.IDStrategy)
	}
	if c.Store.WriterPoolCapacity < 1 || c.Store.ReaderPoolCapacity <= c.Store.WriterPoolCapacity {
		return ErrBadPoolCapacity
	}
	return nil
}

// ToLoggerFields returns the settings as log fields, secrets elided.
func (c *Config) ToLoggerFields() logging.Fields {
	return logging.Fields{
		"database_type":        c.Database.Type,
		"id_strategy":          c.Store.IDStrategy,
		"reader_pool_capacity": c.Store.ReaderPoolCapacity,
		"writer_pool_capacity": c.Store.WriterPoolCapacity,
		"keep_alive_period":    c.Store.KeepAlivePeriod,
		"index_type":           c.Index.Type,
		"index_local_path":     c.Index.Local.Path,
	}
}

// ToYAML dumps all settings known to viper, secrets elided.
func ToYAML() ([]byte, error) {
	settings := viper.AllSettings()
	if db, ok := settings["database"].(map[string]interface{}); ok {
		if pg, ok := db["postgres"].(map[string]interface{}); ok {
			if s, ok := pg["connection_string"].(string); ok && s != "" {
				pg["connection_string"] = SecureString(s).String()
			}
		}
	}
	return yaml.Marshal(settings)
}

// DatabaseParams returns the postgres connection settings.
func (c *Config) DatabaseParams() params.Database {
	return params.Database{
		ConnectionString:      c.Database.Postgres.ConnectionString.SecureValue(),
		MaxOpenConnections:    c.Database.Postgres.MaxOpenConnections,
		MaxIdleConnections:    c.Database.Postgres.MaxIdleConnections,
		ConnectionMaxLifetime: c.Database.Postgres.ConnectionMaxLifetime,
	}
}

func (c *Config) IndexLocalParams() index.LocalParams {
	return index.LocalParams{
		Path:           c.Index.Local.Path,
		SyncWrites:     c.Index.Local.SyncWrites,
		GCInterval:     c.Index.Local.GCInterval,
		GCDiscardRatio: c.Index.Local.GCDiscardRatio,
		EncodeWorkers:  c.Index.Local.EncodeWorkers,
	}
}
