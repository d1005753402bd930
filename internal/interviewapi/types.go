package interviewapi

import "encoding/json"

type UserProfile struct {
	FullName   string          `json:"full_name,omitempty"`
	TargetRole string          `json:"target_role,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Skills     []string        `json:"skills,omitempty"`
	Experience json.RawMessage `json:"experience,omitempty"`
}

type NewChatRequest struct {
	Email       string       `json:"email"`
	Name        string       `json:"name"`
	UserProfile *UserProfile `json:"userProfile,omitempty"`
}

type NewChatResponse struct {
	ThreadID string `json:"thread_id"`
	Response string `json:"response"`
}

type Transcription struct {
	Transcript  string `json:"transcript"`
	AudioURL    string `json:"audio_url"`
	StoragePath string `json:"storage_path"`
}

type ChatRequest struct {
	Message    string `json:"message"`
	ThreadID   string `json:"thread_id"`
	Email      string `json:"email"`
	ConfigName string `json:"config_name"`
	ConfigID   string `json:"config_id"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

type SpeechRequest struct {
	Text  string `json:"text"`
	Email string `json:"email"`
}

type Speech struct {
	AudioURL    string  `json:"audio_url"`
	StoragePath string  `json:"storage_path"`
	Duration    float64 `json:"duration"`
}

type HistoryMessage struct {
	Text     string  `json:"text"`
	Sender   string  `json:"sender"`
	AudioURL string  `json:"audioUrl,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type ChatHistoryRequest struct {
	ThreadID   string           `json:"thread_id"`
	Email      string           `json:"email"`
	Messages   []HistoryMessage `json:"messages"`
	ConfigName string           `json:"config_name"`
	ConfigID   string           `json:"config_id"`
}
