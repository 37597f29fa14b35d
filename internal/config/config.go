// Package config loads runtime settings for the incident binaries. Defaults
// are overlaid by an optional YAML file named by INCIDENT_CONFIG, then by
// individual environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Reasoner backends.
const (
	BackendCodec  = "codec"
	BackendGemini = "gemini"
)

// #region types

// Config is the full runtime configuration.
type Config struct {
	DBPath       string `yaml:"db_path"`
	HTTPAddr     string `yaml:"http_addr"`
	HTTPMaxConns int    `yaml:"http_max_conns"`
	LogLevel     string `yaml:"log_level"`
	LogDev       bool   `yaml:"log_development"`

	Reasoner Reasoner  `yaml:"reasoner"`
	Pipeline Pipeline  `yaml:"pipeline"`
	Retrieve Retrieval `yaml:"retrieval"`
	Dispatch Dispatch  `yaml:"dispatch"`
}

// Reasoner selects and tunes the model backend.
type Reasoner struct {
	Backend           string        `yaml:"backend"`
	CodecAddr         string        `yaml:"codec_addr"`
	GeminiAPIKey      string        `yaml:"gemini_api_key"`
	GeminiModel       string        `yaml:"gemini_model"`
	GeminiEmbedModel  string        `yaml:"gemini_embed_model"`
	GenerateTimeout   time.Duration `yaml:"generate_timeout"`
	EmbedTimeout      time.Duration `yaml:"embed_timeout"`
	PerceptionTimeout time.Duration `yaml:"perception_timeout"`
}

// Pipeline tunes the graph engine and the video step.
type Pipeline struct {
	MaxSteps         int           `yaml:"max_steps"`
	ObserverBuffer   int           `yaml:"observer_buffer"`
	SlowStep         time.Duration `yaml:"slow_step"`
	FrameInterval    int           `yaml:"frame_interval"`
	MaxFrames        int           `yaml:"max_frames"`
	FrameConcurrency int           `yaml:"frame_concurrency"`
	FrameTimeout     time.Duration `yaml:"frame_timeout"`
}

// Retrieval tunes policy retrieval and ingestion.
type Retrieval struct {
	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	ChunkSize           int     `yaml:"chunk_size"`
	ChunkOverlap        int     `yaml:"chunk_overlap"`
}

// Dispatch holds channel credentials and the contacts file.
type Dispatch struct {
	ContactsFile   string `yaml:"contacts_file"`
	WatchContacts  bool   `yaml:"watch_contacts"`
	DefaultEmail   string `yaml:"default_email"`
	DefaultPhone   string `yaml:"default_phone"`
	SpeechKey      string `yaml:"speech_key"`
	SpeechRegion   string `yaml:"speech_region"`
	MailAPIKey     string `yaml:"mail_api_key"`
	MailFrom       string `yaml:"mail_from"`
	CallAccountSID string `yaml:"call_account_sid"`
	CallAuthToken  string `yaml:"call_auth_token"`
	CallFrom       string `yaml:"call_from"`
}

// #endregion types

// #region defaults

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBPath:       "incidents.db",
		HTTPAddr:     ":8080",
		HTTPMaxConns: 256,
		LogLevel:     "info",
		Reasoner: Reasoner{
			Backend:           BackendCodec,
			CodecAddr:         "localhost:50051",
			GeminiModel:       "gemini-2.5-flash",
			GeminiEmbedModel:  "gemini-embedding-001",
			GenerateTimeout:   60 * time.Second,
			EmbedTimeout:      10 * time.Second,
			PerceptionTimeout: 30 * time.Second,
		},
		Pipeline: Pipeline{
			MaxSteps:         10_000,
			ObserverBuffer:   4096,
			SlowStep:         5 * time.Second,
			FrameInterval:    30,
			MaxFrames:        64,
			FrameConcurrency: 4,
			FrameTimeout:     30 * time.Second,
		},
		Retrieve: Retrieval{
			TopK:         5,
			ChunkSize:    800,
			ChunkOverlap: 150,
		},
	}
}

// #endregion defaults

// #region load

// Load reads Default, the INCIDENT_CONFIG file if set, and the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("INCIDENT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.DBPath = envOr("INCIDENT_DB", c.DBPath)
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.HTTPMaxConns = envInt("HTTP_MAX_CONNS", c.HTTPMaxConns, 1)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogDev = envBool("LOG_DEVELOPMENT", c.LogDev)

	r := &c.Reasoner
	r.Backend = envOr("REASONER_BACKEND", r.Backend)
	r.CodecAddr = envOr("CODEC_ADDR", r.CodecAddr)
	r.GeminiAPIKey = envOr("GEMINI_API_KEY", r.GeminiAPIKey)
	r.GeminiModel = envOr("GEMINI_MODEL", r.GeminiModel)
	r.GeminiEmbedModel = envOr("GEMINI_EMBED_MODEL", r.GeminiEmbedModel)
	r.GenerateTimeout = envDuration("GENERATE_TIMEOUT", r.GenerateTimeout)
	r.EmbedTimeout = envDuration("EMBED_TIMEOUT", r.EmbedTimeout)
	r.PerceptionTimeout = envDuration("PERCEPTION_TIMEOUT", r.PerceptionTimeout)

	p := &c.Pipeline
	p.MaxSteps = envInt("PIPELINE_MAX_STEPS", p.MaxSteps, 1)
	p.ObserverBuffer = envInt("PIPELINE_OBS_BUFFER", p.ObserverBuffer, 1)
	p.SlowStep = envDuration("PIPELINE_SLOW_STEP", p.SlowStep)
	p.FrameInterval = envInt("VIDEO_FRAME_INTERVAL", p.FrameInterval, 1)
	p.MaxFrames = envInt("VIDEO_MAX_FRAMES", p.MaxFrames, 1)
	p.FrameConcurrency = envInt("VIDEO_FRAME_CONCURRENCY", p.FrameConcurrency, 1)
	p.FrameTimeout = envDuration("VIDEO_FRAME_TIMEOUT", p.FrameTimeout)

	rt := &c.Retrieve
	rt.TopK = envInt("RETRIEVAL_TOP_K", rt.TopK, 1)
	rt.SimilarityThreshold = envFloat("RETRIEVAL_SIMILARITY_THRESHOLD", rt.SimilarityThreshold)
	rt.ChunkSize = envInt("RETRIEVAL_CHUNK_SIZE", rt.ChunkSize, 1)
	rt.ChunkOverlap = envInt("RETRIEVAL_CHUNK_OVERLAP", rt.ChunkOverlap, 0)

	d := &c.Dispatch
	d.ContactsFile = envOr("CONTACTS_FILE", d.ContactsFile)
	d.WatchContacts = envBool("CONTACTS_WATCH", d.WatchContacts)
	d.DefaultEmail = envOr("DEFAULT_MANAGER_EMAIL", d.DefaultEmail)
	d.DefaultPhone = envOr("DEFAULT_MANAGER_PHONE", d.DefaultPhone)
	d.SpeechKey = envOr("SPEECH_KEY", d.SpeechKey)
	d.SpeechRegion = envOr("SPEECH_REGION", d.SpeechRegion)
	d.MailAPIKey = envOr("MAIL_API_KEY", d.MailAPIKey)
	d.MailFrom = envOr("MAIL_FROM", d.MailFrom)
	d.CallAccountSID = envOr("CALL_ACCOUNT_SID", d.CallAccountSID)
	d.CallAuthToken = envOr("CALL_AUTH_TOKEN", d.CallAuthToken)
	d.CallFrom = envOr("CALL_FROM", d.CallFrom)
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch c.Reasoner.Backend {
	case BackendCodec:
		if c.Reasoner.CodecAddr == "" {
			return fmt.Errorf("config: codec backend needs codec_addr")
		}
	case BackendGemini:
		if c.Reasoner.GeminiAPIKey == "" {
			return fmt.Errorf("config: gemini backend needs gemini_api_key")
		}
	default:
		return fmt.Errorf("config: unknown reasoner backend %q", c.Reasoner.Backend)
	}
	if c.Dispatch.WatchContacts && c.Dispatch.ContactsFile == "" {
		return fmt.Errorf("config: watch_contacts needs contacts_file")
	}
	if c.Retrieve.ChunkOverlap >= c.Retrieve.ChunkSize {
		return fmt.Errorf("config: chunk_overlap %d must be below chunk_size %d", c.Retrieve.ChunkOverlap, c.Retrieve.ChunkSize)
	}
	return nil
}

// #endregion load

// #region env-helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback, min int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}
	return fallback
}

// envDuration accepts Go duration strings ("45s") or whole seconds ("45").
func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if sec, err := strconv.Atoi(raw); err == nil && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return fallback
}

// #endregion env-helpers
