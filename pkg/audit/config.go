package audit

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// AuditConfig controls the exercise audit trail.
type AuditConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Driver        string `mapstructure:"driver" yaml:"driver"`
	DSN           string `mapstructure:"dsn" yaml:"dsn"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"` // Default 90
}

// DefaultAuditConfig returns the default configuration: a SQLite file next
// to the process working directory.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:       true,
		Driver:        DriverSQLite,
		DSN:           "exstore-audit.db",
		RetentionDays: 90,
	}
}
