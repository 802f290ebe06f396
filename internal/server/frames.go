package server

import (
	"encoding/json"
	"fmt"

	"github.com/npezzotti/go-chatstream/internal/types"
)

type FrameType string

const (
	TypeConnectionReady FrameType = "connection.ready"
	TypeAuth            FrameType = "auth"
	TypeAuthSuccess     FrameType = "auth.success"
	TypeMessageSend     FrameType = "message.send"
	TypeTypingStart     FrameType = "typing.start"
	TypeTypingStop      FrameType = "typing.stop"
	TypeMessageChunk    FrameType = "message.chunk"
	TypeEmotionUpdate   FrameType = "emotion.update"
	TypeMessageComplete FrameType = "message.complete"
	TypeError           FrameType = "error"
	TypePing            FrameType = "ping"
	TypePong            FrameType = "pong"
)

// frameTypes is the closed set of frame types; routes must cover all of them.
var frameTypes = []FrameType{
	TypeConnectionReady,
	TypeAuth,
	TypeAuthSuccess,
	TypeMessageSend,
	TypeTypingStart,
	TypeTypingStop,
	TypeMessageChunk,
	TypeEmotionUpdate,
	TypeMessageComplete,
	TypeError,
	TypePing,
	TypePong,
}

// Frame is an outbound wire unit. Frames are values and are not modified
// once queued.
type Frame struct {
	Type          FrameType `json:"type"`
	Data          any       `json:"data,omitempty"`
	Timestamp     string    `json:"timestamp"`
	CorrelationId string    `json:"correlationId,omitempty"`
}

// InboundFrame is a frame as received from a client; Data is decoded by the
// handler for its type.
type InboundFrame struct {
	Type          FrameType       `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
	CorrelationId string          `json:"correlationId,omitempty"`
}

type ReadyData struct {
	ConnectionId string `json:"connectionId"`
}

type AuthData struct {
	Token string `json:"token"`
}

type AuthSuccessData struct {
	ConnectionId string `json:"connectionId"`
	SubjectId    string `json:"subjectId"`
	RoomId       string `json:"roomId"`
}

type SendData struct {
	Content  string          `json:"content"`
	Media    json.RawMessage `json:"media,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

type TypingData struct {
	SubjectId string `json:"subjectId"`
}

type ChunkData struct {
	Chunk     types.Chunk `json:"chunk"`
	MessageId string      `json:"messageId"`
}

type EmotionData struct {
	Emotion   types.EmotionalState `json:"emotion"`
	MessageId string               `json:"messageId,omitempty"`
}

type CompleteData struct {
	Message types.Message `json:"message"`
}

type ErrorData struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func newFrame(t FrameType, data any, correlationId string) Frame {
	return Frame{
		Type:          t,
		Data:          data,
		Timestamp:     timestamp(),
		CorrelationId: correlationId,
	}
}

func timestamp() string {
	return types.Now().Format("2006-01-02T15:04:05.000Z07:00")
}

func ReadyFrame(connId string) Frame {
	return newFrame(TypeConnectionReady, ReadyData{ConnectionId: connId}, "")
}

func AuthSuccessFrame(connId, subjectId, roomId, correlationId string) Frame {
	return newFrame(TypeAuthSuccess, AuthSuccessData{
		ConnectionId: connId,
		SubjectId:    subjectId,
		RoomId:       roomId,
	}, correlationId)
}

func TypingFrame(t FrameType, subjectId string) Frame {
	if subjectId == "" {
		return newFrame(t, nil, "")
	}
	return newFrame(t, TypingData{SubjectId: subjectId}, "")
}

func ChunkFrame(messageId, content string) Frame {
	return newFrame(TypeMessageChunk, ChunkData{
		Chunk: types.Chunk{
			Type:      types.ChunkTypeText,
			Content:   content,
			Timestamp: types.Now(),
		},
		MessageId: messageId,
	}, "")
}

func EmotionFrame(state types.EmotionalState, messageId string) Frame {
	return newFrame(TypeEmotionUpdate, EmotionData{Emotion: state, MessageId: messageId}, "")
}

func CompleteFrame(msg types.Message, correlationId string) Frame {
	return newFrame(TypeMessageComplete, CompleteData{Message: msg}, correlationId)
}

func PongFrame(correlationId string) Frame {
	return newFrame(TypePong, nil, correlationId)
}

// ErrFrame builds an error frame whose code is derived from err.
func ErrFrame(err error, correlationId string, details any) Frame {
	return newFrame(TypeError, ErrorData{
		Error:   err.Error(),
		Code:    CodeFor(err),
		Details: details,
	}, correlationId)
}

func serializeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func parseFrame(raw []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return InboundFrame{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if f.Type == "" {
		return InboundFrame{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return f, nil
}

// decodeData unmarshals the frame payload into v.
func decodeData(f InboundFrame, v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidMessage)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}
