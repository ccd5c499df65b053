package parley

import "encoding/json"

// --- Inbound pipeline types ---

// SenderRole identifies who authored an inbound message. Only RoleUser
// messages trigger the pipeline; everything else is acknowledged and skipped.
type SenderRole string

const (
	RoleUser      SenderRole = "user"
	RoleAssistant SenderRole = "assistant"
	RoleSystem    SenderRole = "system"
)

// InboundMessage is one webhook delivery, normalized by the ingress layer.
type InboundMessage struct {
	MessageID  string     `json:"message_id"`
	ChatID     string     `json:"chat_id"`
	Text       string     `json:"text"`
	SenderRole SenderRole `json:"sender_role"`
	SenderName string     `json:"sender_name,omitempty"`
	IsGroup    bool       `json:"is_group,omitempty"`
	Persona    string     `json:"persona,omitempty"`
	ReplyTo    string     `json:"reply_to,omitempty"`
	ReceivedAt int64      `json:"received_at"`
}

// TaskStatus is the lifecycle state of a Task. Transitions are
// queued → processing → exactly one of {completed, failed, superseded}.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSuperseded TaskStatus = "superseded"
)

// Task is a unit of work owned by the TaskQueue. Field mutations after
// enqueue go through the queue's terminal methods, which serialize them.
type Task struct {
	ID           string     `json:"task_id"`
	ChatID       string     `json:"chat_id"`
	UserMessage  string     `json:"user_message"`
	MessageID    string     `json:"message_id"`
	SenderName   string     `json:"sender_name,omitempty"`
	IsGroup      bool       `json:"is_group,omitempty"`
	Persona      string     `json:"persona,omitempty"`
	Continuation bool       `json:"continuation,omitempty"`
	Status       TaskStatus `json:"status"`

	// Generation is the per-chat monotonic stamp assigned by the worker
	// pool. A task may deliver its reply only while its generation equals
	// the chat's current counter.
	Generation int64 `json:"generation"`

	// Timestamps are unix milliseconds.
	CreatedAt          int64  `json:"created_at"`
	ProcessingStarted  int64  `json:"processing_started,omitempty"`
	ProcessingFinished int64  `json:"processing_finished,omitempty"`
	Response           string `json:"response,omitempty"`
	Error              string `json:"error,omitempty"`
	ProcessingTimeMS   int64  `json:"processing_time_ms,omitempty"`
}

// TaskEvent is a lifecycle transition notification, published to the
// optional event sink (status websocket, metrics).
type TaskEvent struct {
	TaskID     string     `json:"task_id"`
	ChatID     string     `json:"chat_id"`
	Status     TaskStatus `json:"status"`
	At         int64      `json:"at"`
	QueueDepth int        `json:"queue_depth"`
}

// --- Memory types ---

// MemoryRecord is a stored memory document plus its index payload.
type MemoryRecord struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Entity     string `json:"entity,omitempty"`
	Category   string `json:"category"`
	Importance int    `json:"importance"` // 1..10
	CreatedAt  int64  `json:"created_at"` // unix seconds; 0 = unknown
}

// ScoredMemory is a retrieval hit with its scoring breakdown.
type ScoredMemory struct {
	MemoryRecord
	Similarity float64 `json:"similarity"`
	Temporal   float64 `json:"temporal_score"`
	Combined   float64 `json:"combined_score"`
}

// MemoryStats summarizes the memory index for health reporting.
// Backends fill what they can; zero values mean "unknown".
type MemoryStats struct {
	Documents int64 `json:"documents"`
	SizeBytes int64 `json:"size_bytes,omitempty"`
}

// --- Knowledge graph types ---

// GraphNode is an entity row. Properties are opaque to the core.
type GraphNode struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// GraphEdge is a weighted directed relation between two named nodes.
// Repeated upserts of the same (source, target, relation) update the weight
// and append to evidence with a " | " separator.
type GraphEdge struct {
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Relation  string  `json:"relation"`
	Weight    float64 `json:"weight"`
	Evidence  string  `json:"evidence,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// --- Conversation history ---

// HistoryMessage is one stored turn of a conversation.
type HistoryMessage struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	Role      string `json:"role"` // "user" or "assistant"
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// --- Bridge message index ---

// BridgeRecord tracks one inbound channel message through the pipeline.
type BridgeRecord struct {
	MessageID      string `json:"message_id"`
	Channel        string `json:"channel"`
	FromPhone      string `json:"from_phone,omitempty"`
	ToPhone        string `json:"to_phone,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
	Status         string `json:"status"`
	TaskID         string `json:"task_id,omitempty"`
	Reply          string `json:"reply,omitempty"`
	Error          string `json:"error,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic chat completion request. Model, when
// set, overrides the provider's default; routing uses this to pick a
// flash-class or pro-class model on the same transport.
type ChatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type ChatResponse struct {
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
	Model    string `json:"model,omitempty"`
	Usage    Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Conflict types ---

// ConflictStatus is the lifecycle state of a Conflict.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// ConflictOption is one side of a detected contradiction.
type ConflictOption struct {
	Fact   string `json:"fact"`
	Source string `json:"source"`
}

// Conflict is a recorded contradiction between a stored fact and a new one.
type Conflict struct {
	ID         string         `json:"conflict_id"`
	Subject    string         `json:"subject"`
	OptionA    ConflictOption `json:"option_a"` // existing fact
	OptionB    ConflictOption `json:"option_b"` // new fact
	Timestamp  int64          `json:"timestamp"`
	Status     ConflictStatus `json:"status"`
	Resolution string         `json:"resolution,omitempty"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

// PropertiesJSON renders a node's properties as a JSON blob for storage.
// Nil properties encode as "{}".
func (n GraphNode) PropertiesJSON() string {
	if len(n.Properties) == 0 {
		return "{}"
	}
	b, err := json.Marshal(n.Properties)
	if err != nil {
		return "{}"
	}
	return string(b)
}
