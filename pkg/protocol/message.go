// Package protocol defines the WebSocket message types exchanged between
// voicebridge and its clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Client → Server messages
	TypeSubmitAudio MessageType = "submit_audio" // Recorded utterance

	// Server → Client messages
	TypeAudioChunk MessageType = "audio_chunk" // Incremental synthesized audio
	TypeAudioEnd   MessageType = "audio_end"   // End of one synthesis stream
	TypeResult     MessageType = "result"      // Terminal pipeline outcome
	TypeBusy       MessageType = "busy"        // Utterance rejected, one already in flight

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Client → Server Message Types
// =============================================================================

// SubmitAudioData carries one recorded utterance for processing.
type SubmitAudioData struct {
	Audio string `json:"audio"`          // base64 encoded compressed audio (webm/opus)
	Lang  string `json:"lang,omitempty"` // optional language hint (e.g., "en", "hi")
	Name  string `json:"name,omitempty"` // optional display name of the speaker
}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// AudioChunkData is one fragment of synthesized reply audio.
// Chunks within a job carry strictly increasing sequence numbers.
type AudioChunkData struct {
	JobID string `json:"job_id"`
	Seq   int    `json:"seq"`
	Data  string `json:"data"` // base64 encoded audio bytes
}

// AudioEndData marks the end of one synthesis stream.
// Seq is the number of chunks that were sent for the job.
type AudioEndData struct {
	JobID string `json:"job_id"`
	Seq   int    `json:"seq"`
}

// ResultData is the single terminal event per submitted utterance.
// Either Error is set, or the success fields are.
type ResultData struct {
	Transcript string       `json:"transcript,omitempty"`
	Answer     string       `json:"answer,omitempty"`
	Audio      string       `json:"audio,omitempty"` // base64, consolidated reply audio
	Error      *ResultError `json:"error,omitempty"`
}

// ResultError is a stage-tagged, user-facing error description.
type ResultError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// BusyData explains a rejected utterance.
type BusyData struct {
	Message string `json:"message"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
