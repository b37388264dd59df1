package startup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"media-catalog/internal/logging"

	"github.com/gorilla/mux"
	"github.com/spf13/viper"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration.
type Config struct {
	Port            string
	DataDir         string
	LogHealthChecks bool
	MetricsEnabled  bool

	// Derived paths
	DatabasePath string
	StorageDir   string
	ThumbnailDir string
}

// LoadConfig reads configuration from an optional config file and the
// environment (environment wins), validates it, and prepares the data
// directories.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("data_dir", "/data")
	v.SetDefault("log_health_checks", false)
	v.SetDefault("metrics_enabled", true)

	v.SetConfigName("media-catalog")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/media-catalog")
	v.AddConfigPath(".")

	v.SetEnvPrefix("catalog")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		logging.Info("Loaded config file: %s", v.ConfigFileUsed())
	}

	config := &Config{
		Port:            v.GetString("port"),
		DataDir:         v.GetString("data_dir"),
		LogHealthChecks: v.GetBool("log_health_checks"),
		MetricsEnabled:  v.GetBool("metrics_enabled"),
	}

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  CATALOG_PORT:              %s", config.Port)
	logging.Info("  CATALOG_DATA_DIR:          %s", config.DataDir)
	logging.Info("  CATALOG_LOG_HEALTH_CHECKS: %v", config.LogHealthChecks)
	logging.Info("  CATALOG_METRICS_ENABLED:   %v", config.MetricsEnabled)
	logging.Info("  LOG_LEVEL:                 %s", logging.GetLevel())

	dataDir, err := filepath.Abs(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	config.DataDir = dataDir
	config.DatabasePath = filepath.Join(dataDir, "catalog.db")
	config.StorageDir = filepath.Join(dataDir, "media")
	config.ThumbnailDir = filepath.Join(dataDir, "thumbnails")

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Data directory (absolute): %s", dataDir)

	for _, dir := range []string{dataDir, config.StorageDir, config.ThumbnailDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	logging.Info("  Storage directory:   %s", config.StorageDir)
	logging.Info("  Thumbnail directory: %s", config.ThumbnailDir)

	return config, nil
}

// LogDatabaseInit reports how long the schema setup took.
func LogDatabaseInit(elapsed time.Duration) {
	logging.Info("Database ready in %s", elapsed.Round(time.Millisecond))
}

// LogServerStarted reports the final startup line.
func LogServerStarted(port string, elapsed time.Duration) {
	logging.Info("------------------------------------------------------------")
	logging.Info("Listening on :%s (started in %s)", port, elapsed.Round(time.Millisecond))
	logging.Info("------------------------------------------------------------")
}

// LogHTTPRoutes walks the router and logs every registered route.
func LogHTTPRoutes(router *mux.Router) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP ROUTES")
	logging.Info("------------------------------------------------------------")

	var routes []string
	_ = router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}
		routes = append(routes, fmt.Sprintf("  %-7s %s", strings.Join(methods, ","), path))
		return nil
	})
	sort.Strings(routes)
	for _, r := range routes {
		logging.Info("%s", r)
	}
}

// LogFatal logs a startup failure and exits.
func LogFatal(format string, args ...interface{}) {
	logging.Error(format, args...)
	os.Exit(1)
}

func printBanner() {
	logging.Info("============================================================")
	logging.Info("  media-catalog %s (%s)", Version, Commit)
	logging.Info("============================================================")
}

func logSystemInfo() {
	logging.Info("Go %s on %s/%s, %d CPUs",
		runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
}
