package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/watchsync/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
	usage        string
}

var (
	secret = configVar[string]{
		envKey:       "SERVER_SECRET",
		flagKey:      "secret",
		defaultValue: "",
		usage:        "Key signing session admin tokens",
	}
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 80,
		usage:        "Server port",
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
		usage:        "Server host",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
		usage:        "Logging level",
	}
	membersLimit = configVar[int]{
		envKey:       "SERVER_MEMBERS_LIMIT",
		flagKey:      "members-limit",
		defaultValue: 9,
		usage:        "Maximum number of presences in a session",
	}
	rateLimit = configVar[int]{
		envKey:       "SERVER_RATE_LIMIT",
		flagKey:      "rate-limit",
		defaultValue: 60,
		usage:        "Session API requests per minute and IP, 0 disables",
	}
	sessionTTL = configVar[time.Duration]{
		envKey:       "SERVER_SESSION_TTL",
		flagKey:      "session-ttl",
		defaultValue: 14 * 24 * time.Hour,
		usage:        "Expiration of persisted session state",
	}
	persistInterval = configVar[time.Duration]{
		envKey:       "SERVER_PERSIST_INTERVAL",
		flagKey:      "persist-interval",
		defaultValue: 10 * time.Second,
		usage:        "Period of metrics persistence, 0 disables",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
		usage:        "Redis port",
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
		usage:        "Redis host",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
		usage:        "Redis password",
	}
	redisDB = configVar[int]{
		envKey:       "REDIS_DB",
		flagKey:      "redis-db",
		defaultValue: 0,
		usage:        "Redis database",
	}
	goodTolerance = configVar[time.Duration]{
		envKey:       "SYNC_GOOD_TOLERANCE",
		flagKey:      "good-tolerance",
		defaultValue: 500 * time.Millisecond,
		usage:        "Drift tolerated for viewers on a good network",
	}
	fairTolerance = configVar[time.Duration]{
		envKey:       "SYNC_FAIR_TOLERANCE",
		flagKey:      "fair-tolerance",
		defaultValue: time.Second,
		usage:        "Drift tolerated for viewers on a fair network",
	}
	poorTolerance = configVar[time.Duration]{
		envKey:       "SYNC_POOR_TOLERANCE",
		flagKey:      "poor-tolerance",
		defaultValue: 2 * time.Second,
		usage:        "Drift tolerated for viewers on a poor network",
	}
	minCorrectionInterval = configVar[time.Duration]{
		envKey:       "SYNC_MIN_CORRECTION_INTERVAL",
		flagKey:      "min-correction-interval",
		defaultValue: 2 * time.Second,
		usage:        "Minimum time between corrections of one viewer",
	}
	minSyncInterval = configVar[time.Duration]{
		envKey:       "SYNC_MIN_INTERVAL",
		flagKey:      "min-sync-interval",
		defaultValue: time.Second,
		usage:        "State push period when every viewer is on a poor network",
	}
	maxSyncInterval = configVar[time.Duration]{
		envKey:       "SYNC_MAX_INTERVAL",
		flagKey:      "max-sync-interval",
		defaultValue: 5 * time.Second,
		usage:        "State push period when every viewer is on a good network",
	}
	transferTimeout = configVar[time.Duration]{
		envKey:       "SYNC_TRANSFER_TIMEOUT",
		flagKey:      "transfer-timeout",
		defaultValue: 5 * time.Second,
		usage:        "Time a new host has to publish its first update",
	}
	hostGracePeriod = configVar[time.Duration]{
		envKey:       "SYNC_HOST_GRACE_PERIOD",
		flagKey:      "host-grace-period",
		defaultValue: 10 * time.Second,
		usage:        "Time without host before one is elected",
	}
	awayAfter = configVar[time.Duration]{
		envKey:       "SYNC_AWAY_AFTER",
		flagKey:      "away-after",
		defaultValue: 30 * time.Second,
		usage:        "Inactivity before a presence is marked away",
	}
	livenessWindow = configVar[time.Duration]{
		envKey:       "SYNC_LIVENESS_WINDOW",
		flagKey:      "liveness-window",
		defaultValue: 2 * time.Minute,
		usage:        "Inactivity before a presence is removed",
	}
)

func bindString(v configVar[string]) {
	pflag.String(v.flagKey, v.defaultValue, v.usage)
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func bindInt(v configVar[int]) {
	pflag.Int(v.flagKey, v.defaultValue, v.usage)
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func bindDuration(v configVar[time.Duration]) {
	pflag.Duration(v.flagKey, v.defaultValue, v.usage)
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func loadAppConfig() *app.AppConfig {
	for _, v := range []configVar[string]{secret, host, logLevel, redisHost, redisPassword} {
		bindString(v)
	}
	for _, v := range []configVar[int]{port, membersLimit, rateLimit, redisPort, redisDB} {
		bindInt(v)
	}
	for _, v := range []configVar[time.Duration]{
		sessionTTL, persistInterval,
		goodTolerance, fairTolerance, poorTolerance, minCorrectionInterval,
		minSyncInterval, maxSyncInterval, transferTimeout, hostGracePeriod,
		awayAfter, livenessWindow,
	} {
		bindDuration(v)
	}
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	return &app.AppConfig{
		Secret:                viper.GetString(secret.flagKey),
		Host:                  viper.GetString(host.flagKey),
		Port:                  viper.GetInt(port.flagKey),
		LogLevel:              viper.GetString(logLevel.flagKey),
		MembersLimit:          viper.GetInt(membersLimit.flagKey),
		RateLimit:             viper.GetInt(rateLimit.flagKey),
		SessionTTL:            viper.GetDuration(sessionTTL.flagKey),
		PersistInterval:       viper.GetDuration(persistInterval.flagKey),
		RedisHost:             viper.GetString(redisHost.flagKey),
		RedisPort:             viper.GetInt(redisPort.flagKey),
		RedisPassword:         viper.GetString(redisPassword.flagKey),
		RedisDB:               viper.GetInt(redisDB.flagKey),
		GoodTolerance:         viper.GetDuration(goodTolerance.flagKey),
		FairTolerance:         viper.GetDuration(fairTolerance.flagKey),
		PoorTolerance:         viper.GetDuration(poorTolerance.flagKey),
		MinCorrectionInterval: viper.GetDuration(minCorrectionInterval.flagKey),
		MinSyncInterval:       viper.GetDuration(minSyncInterval.flagKey),
		MaxSyncInterval:       viper.GetDuration(maxSyncInterval.flagKey),
		TransferTimeout:       viper.GetDuration(transferTimeout.flagKey),
		HostGracePeriod:       viper.GetDuration(hostGracePeriod.flagKey),
		AwayAfter:             viper.GetDuration(awayAfter.flagKey),
		LivenessWindow:        viper.GetDuration(livenessWindow.flagKey),
	}
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	if err := app.Run(ctx, appConfig); err != nil {
		log.Fatal(err)
	}
}
