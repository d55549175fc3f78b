package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config (dispatch claims + push throttle)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Scheduler cadences
	TickInterval      time.Duration // job registry polling tick
	DispatchInterval  time.Duration // dispatch cycle cadence
	ProactiveInterval time.Duration // proactive nudge sweep cadence
	RescheduleHourUTC int           // daily rescheduling sweep, UTC hour
	JobTimeout        time.Duration // per-callback deadline

	// Dispatch tuning
	DispatchBatchSize   int
	DispatchConcurrency int
	PushTimeout         time.Duration
	PushThrottlePerUser int           // max pushes per user per window, 0 disables
	PushThrottleWindow  time.Duration

	// AWS delivery channels
	AWSRegion    string
	SNSRegion    string // mobile push (platform endpoints)
	SESFromEmail string // email digest fallback targets

	// Push gateway (webhook targets)
	PushGatewayURL     string
	PushGatewayTimeout time.Duration

	// SQS delivery-event stream (optional)
	EventQueueURL string
	EventRegion   string

	// Proactive engine (OpenAI-compatible API, optional)
	EngineEnabled bool
	EngineAPIKey  string
	EngineModel   string
	EngineBaseURL string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "daybreak",
		DBPassword: "",
		DBName:     "daybreak",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		TickInterval:      5 * time.Second,
		DispatchInterval:  time.Minute,
		ProactiveInterval: 30 * time.Minute,
		RescheduleHourUTC: 3,
		JobTimeout:        2 * time.Minute,

		DispatchBatchSize:   100,
		DispatchConcurrency: 8,
		PushTimeout:         10 * time.Second,
		PushThrottlePerUser: 30,
		PushThrottleWindow:  time.Hour,

		AWSRegion:    "us-east-1",
		SESFromEmail: "briefings@daybreak.local",

		PushGatewayTimeout: 10 * time.Second,

		EngineModel:   "gpt-4o-mini",
		EngineBaseURL: "https://api.openai.com/v1",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Scheduler cadences
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TICK_INTERVAL: %w", err)
		}
		cfg.TickInterval = d
	}

	if v := os.Getenv("DISPATCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_INTERVAL: %w", err)
		}
		cfg.DispatchInterval = d
	}

	if v := os.Getenv("PROACTIVE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PROACTIVE_INTERVAL: %w", err)
		}
		cfg.ProactiveInterval = d
	}

	if v := os.Getenv("RESCHEDULE_HOUR_UTC"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid RESCHEDULE_HOUR_UTC: %q", v)
		}
		cfg.RescheduleHourUTC = h
	}

	if v := os.Getenv("JOB_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid JOB_TIMEOUT: %w", err)
		}
		cfg.JobTimeout = d
	}

	// Dispatch tuning
	if v := os.Getenv("DISPATCH_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_BATCH_SIZE: %w", err)
		}
		cfg.DispatchBatchSize = n
	}

	if v := os.Getenv("DISPATCH_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_CONCURRENCY: %w", err)
		}
		cfg.DispatchConcurrency = n
	}

	if v := os.Getenv("PUSH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_TIMEOUT: %w", err)
		}
		cfg.PushTimeout = d
	}

	if v := os.Getenv("PUSH_THROTTLE_PER_USER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_THROTTLE_PER_USER: %w", err)
		}
		cfg.PushThrottlePerUser = n
	}

	if v := os.Getenv("PUSH_THROTTLE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_THROTTLE_WINDOW: %w", err)
		}
		cfg.PushThrottleWindow = d
	}

	// AWS channels
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// Push gateway
	if url := os.Getenv("PUSH_GATEWAY_URL"); url != "" {
		cfg.PushGatewayURL = url
	}

	if v := os.Getenv("PUSH_GATEWAY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_GATEWAY_TIMEOUT: %w", err)
		}
		cfg.PushGatewayTimeout = d
	}

	// Event stream
	if url := os.Getenv("EVENT_QUEUE_URL"); url != "" {
		cfg.EventQueueURL = url
	}

	if region := os.Getenv("EVENT_REGION"); region != "" {
		cfg.EventRegion = region
	} else {
		cfg.EventRegion = cfg.AWSRegion
	}

	// Proactive engine
	if key := os.Getenv("ENGINE_API_KEY"); key != "" {
		cfg.EngineAPIKey = key
		cfg.EngineEnabled = true
	}
	if model := os.Getenv("ENGINE_MODEL"); model != "" {
		cfg.EngineModel = model
	}
	if url := os.Getenv("ENGINE_BASE_URL"); url != "" {
		cfg.EngineBaseURL = url
	}

	return cfg, nil
}
