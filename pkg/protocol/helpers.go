package protocol

import (
	"encoding/base64"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewSubmitAudioMessage creates a submit_audio message from raw audio bytes
func NewSubmitAudioMessage(audio []byte, lang, name string) (*Message, error) {
	return NewMessage(TypeSubmitAudio, SubmitAudioData{
		Audio: base64.StdEncoding.EncodeToString(audio),
		Lang:  lang,
		Name:  name,
	})
}

// NewAudioChunkMessage creates an incremental audio chunk message
func NewAudioChunkMessage(jobID string, seq int, chunk []byte) (*Message, error) {
	return NewMessage(TypeAudioChunk, AudioChunkData{
		JobID: jobID,
		Seq:   seq,
		Data:  base64.StdEncoding.EncodeToString(chunk),
	})
}

// NewAudioEndMessage creates a stream-end marker message
func NewAudioEndMessage(jobID string, seq int) (*Message, error) {
	return NewMessage(TypeAudioEnd, AudioEndData{
		JobID: jobID,
		Seq:   seq,
	})
}

// NewResultMessage creates a terminal success result message
func NewResultMessage(transcript, answer string, audio []byte) (*Message, error) {
	data := ResultData{
		Transcript: transcript,
		Answer:     answer,
	}
	if len(audio) > 0 {
		data.Audio = base64.StdEncoding.EncodeToString(audio)
	}
	return NewMessage(TypeResult, data)
}

// NewErrorResultMessage creates a terminal error result message
func NewErrorResultMessage(stage, message string) (*Message, error) {
	return NewMessage(TypeResult, ResultData{
		Error: &ResultError{Stage: stage, Message: message},
	})
}

// NewBusyMessage creates a busy rejection message
func NewBusyMessage(message string) (*Message, error) {
	return NewMessage(TypeBusy, BusyData{Message: message})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: 0, // Will be set by NewMessage
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetSubmitAudioData extracts submit_audio data from a message
func (m *Message) GetSubmitAudioData() (*SubmitAudioData, error) {
	var data SubmitAudioData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeAudio decodes the base64 audio payload
func (s *SubmitAudioData) DecodeAudio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(s.Audio)
}

// GetAudioChunkData extracts audio chunk data from a message
func (m *Message) GetAudioChunkData() (*AudioChunkData, error) {
	var data AudioChunkData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeChunk decodes the base64 chunk payload
func (a *AudioChunkData) DecodeChunk() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Data)
}

// GetAudioEndData extracts stream-end data from a message
func (m *Message) GetAudioEndData() (*AudioEndData, error) {
	var data AudioEndData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetResultData extracts terminal result data from a message
func (m *Message) GetResultData() (*ResultData, error) {
	var data ResultData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeAudio decodes the base64 consolidated audio payload
func (r *ResultData) DecodeAudio() ([]byte, error) {
	if r.Audio == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(r.Audio)
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
