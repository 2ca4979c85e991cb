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

	// Public base URL of this service. The telephony provider fetches audio
	// assets and posts status callbacks against it.
	PublicBaseURL string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Twilio config
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Audio source for outbound drops: "play" plays a stored/synthesized
	// asset, "say" reads the script in-call.
	DeliveryMode string

	// SQS callback buffer (optional — callbacks are applied inline when unset)
	SQSRegion   string
	SQSQueueURL string

	// Batch dispatch defaults
	DispatchBatchSize  int
	InterBatchDelay    time.Duration
	CallTimeoutSeconds int

	// Cost model
	CostRatePerMinuteCents int
	CostMinimumCents       int

	// TTS / OpenAI config
	OpenAIAPIKey string
	TTSModel     string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		PublicBaseURL: "http://localhost:8080",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "voxdrop",
		DBPassword: "",
		DBName:     "voxdrop",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		DeliveryMode: "play",

		DispatchBatchSize:  10,
		InterBatchDelay:    time.Second,
		CallTimeoutSeconds: 15,

		CostRatePerMinuteCents: 2,
		CostMinimumCents:       1,

		TTSModel: "gpt-4o-mini-tts",
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

	if url := os.Getenv("PUBLIC_BASE_URL"); url != "" {
		cfg.PublicBaseURL = url
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

	// Twilio config
	if sid := os.Getenv("TWILIO_ACCOUNT_SID"); sid != "" {
		cfg.TwilioAccountSID = sid
	}

	if token := os.Getenv("TWILIO_AUTH_TOKEN"); token != "" {
		cfg.TwilioAuthToken = token
	}

	if from := os.Getenv("TWILIO_FROM_NUMBER"); from != "" {
		cfg.TwilioFromNumber = from
	}

	if mode := os.Getenv("DELIVERY_MODE"); mode != "" {
		if mode != "play" && mode != "say" {
			return nil, fmt.Errorf("invalid DELIVERY_MODE: must be play or say, got %q", mode)
		}
		cfg.DeliveryMode = mode
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = "us-east-1"
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// Dispatch config
	if size := os.Getenv("DISPATCH_BATCH_SIZE"); size != "" {
		s, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_BATCH_SIZE: %w", err)
		}
		cfg.DispatchBatchSize = s
	}

	if delay := os.Getenv("INTER_BATCH_DELAY_MS"); delay != "" {
		d, err := strconv.Atoi(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid INTER_BATCH_DELAY_MS: %w", err)
		}
		cfg.InterBatchDelay = time.Duration(d) * time.Millisecond
	}

	if timeout := os.Getenv("CALL_TIMEOUT_SECONDS"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid CALL_TIMEOUT_SECONDS: %w", err)
		}
		cfg.CallTimeoutSeconds = t
	}

	// Cost config
	if rate := os.Getenv("COST_RATE_PER_MINUTE_CENTS"); rate != "" {
		r, err := strconv.Atoi(rate)
		if err != nil {
			return nil, fmt.Errorf("invalid COST_RATE_PER_MINUTE_CENTS: %w", err)
		}
		cfg.CostRatePerMinuteCents = r
	}

	if floor := os.Getenv("COST_MINIMUM_CENTS"); floor != "" {
		f, err := strconv.Atoi(floor)
		if err != nil {
			return nil, fmt.Errorf("invalid COST_MINIMUM_CENTS: %w", err)
		}
		cfg.CostMinimumCents = f
	}

	// TTS config
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAIAPIKey = key
	}
	if model := os.Getenv("TTS_MODEL"); model != "" {
		cfg.TTSModel = model
	}

	return cfg, nil
}
