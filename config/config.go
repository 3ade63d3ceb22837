package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Default model and voice used for the live session when the environment
// does not override them.
const (
	DefaultLiveModel   = "gemini-2.0-flash-live-001"
	DefaultReportModel = "gemini-2.0-flash"
	DefaultVoice       = "Puck"
)

// DefaultPersona is the system instruction handed to the live voice session.
const DefaultPersona = "You are a calm, friendly symptom-recognition assistant. " +
	"Listen to the user describe how they feel, ask short clarifying questions, " +
	"and point out which symptoms are worth discussing with a doctor. " +
	"Never present yourself as a replacement for professional medical advice."

type Config struct {
	APIKey      string
	LiveModel   string
	ReportModel string
	Voice       string
	Persona     string
	BackendURL  string
	RecordPath  string
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg := &Config{
		APIKey:      os.Getenv("GEMINI_API_KEY"),
		LiveModel:   os.Getenv("LIVE_MODEL"),
		ReportModel: os.Getenv("REPORT_MODEL"),
		Voice:       os.Getenv("VOICE_NAME"),
		Persona:     os.Getenv("PERSONA"),
		BackendURL:  os.Getenv("BACKEND_URL"),
		RecordPath:  os.Getenv("RECORD_PATH"),
	}

	if cfg.LiveModel == "" {
		cfg.LiveModel = DefaultLiveModel
	}
	if cfg.ReportModel == "" {
		cfg.ReportModel = DefaultReportModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}

	return cfg, nil
}
