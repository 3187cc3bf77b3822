// Package rtvi speaks the RTVI client protocol: it answers client messages
// and reports pipeline activity to the client as JSON events.
package rtvi

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	Label           = "rtvi-ai"
	ProtocolVersion = "1.0.0"
)

// Client to server message types.
const (
	TypeClientReady   = "client-ready"
	TypeDisconnectBot = "disconnect-bot"
)

// Server to client message types.
const (
	TypeBotReady            = "bot-ready"
	TypeError               = "error"
	TypeErrorResponse       = "error-response"
	TypeUserStartedSpeaking = "user-started-speaking"
	TypeUserStoppedSpeaking = "user-stopped-speaking"
	TypeBotStartedSpeaking  = "bot-started-speaking"
	TypeBotStoppedSpeaking  = "bot-stopped-speaking"
	TypeUserTranscription   = "user-transcription"
	TypeBotLLMStarted       = "bot-llm-started"
	TypeBotLLMStopped       = "bot-llm-stopped"
	TypeBotLLMText          = "bot-llm-text"
	TypeMetrics             = "metrics"
)

// Message is the envelope of every RTVI message.
type Message struct {
	Label string `json:"label"`
	Type  string `json:"type"`
	ID    string `json:"id"`
	Data  any    `json:"data,omitempty"`
}

func NewMessage(typ string, data any) Message {
	return Message{Label: Label, Type: typ, ID: uuid.NewString(), Data: data}
}

type clientMessage struct {
	Label string          `json:"label"`
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type BotReadyData struct {
	Version string         `json:"version"`
	About   map[string]any `json:"about,omitempty"`
}

type ErrorData struct {
	Error string `json:"error"`
	Fatal bool   `json:"fatal"`
}

type TextData struct {
	Text string `json:"text"`
}

type TranscriptionData struct {
	Text      string `json:"text"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
	Final     bool   `json:"final"`
}

type MetricValue struct {
	Processor string  `json:"processor"`
	Model     string  `json:"model,omitempty"`
	Value     float64 `json:"value"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type TokenMetric struct {
	Processor string     `json:"processor"`
	Model     string     `json:"model,omitempty"`
	Value     TokenUsage `json:"value"`
}

type MetricsData struct {
	TTFB   []MetricValue `json:"ttfb,omitempty"`
	Tokens []TokenMetric `json:"tokens,omitempty"`
}
