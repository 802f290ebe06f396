package types

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Emotion is one of the fixed labels an EmotionalState can carry.
type Emotion string

const (
	EmotionNeutral      Emotion = "neutral"
	EmotionCalm         Emotion = "calm"
	EmotionHappy        Emotion = "happy"
	EmotionExcited      Emotion = "excited"
	EmotionSad          Emotion = "sad"
	EmotionAngry        Emotion = "angry"
	EmotionAnxious      Emotion = "anxious"
	EmotionCurious      Emotion = "curious"
	EmotionAffectionate Emotion = "affectionate"
)

type EmotionalState struct {
	Primary   Emotion   `json:"primary"`
	Intensity int       `json:"intensity"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is a finalized turn in a conversation. Messages are never
// mutated after creation.
type Message struct {
	Id        string          `json:"id"`
	RoomId    string          `json:"roomId"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Emotion   *EmotionalState `json:"emotion,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

const ChunkTypeText = "text"

// Chunk is an incremental fragment of an in-progress assistant message.
// Chunks are ordered by delivery only.
type Chunk struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
