package models

import (
	"time"
)

// ── Minion ───────────────────────────────────────────────────

type MinionStatus string

const (
	MinionStatusIdle     MinionStatus = "Idle"
	MinionStatusThinking MinionStatus = "Thinking"
	MinionStatusRetired  MinionStatus = "Retired"
)

// DefaultProvider is the LLM provider used when a minion does not name one.
const DefaultProvider = "google"

// DefaultTemperature is the sampling temperature for minions created without params.
const DefaultTemperature = 0.7

type MinionParams struct {
	Temperature float64 `json:"temperature"`
}

// Minion is an LLM-backed persona with persistent opinion and diary state.
// Channels reference minions by Name, not ID.
type Minion struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Provider  string       `json:"provider"`
	ModelID   string       `json:"model_id"`
	ModelName string       `json:"model_name,omitempty"`
	Persona   string       `json:"system_prompt_persona"`
	Params    MinionParams `json:"params"`

	// APIKeyID pins the minion to one credential of the pool.
	// Empty means load-balanced selection.
	APIKeyID string `json:"apiKeyId,omitempty"`

	// OpinionScores maps participant display names to a 1-100 score.
	OpinionScores map[string]int `json:"opinionScores"`

	// LastDiaryState is the plan from the last successful perception.
	LastDiaryState *PerceptionPlan `json:"lastDiaryState,omitempty"`

	Status      MinionStatus `json:"status"`
	CurrentTask string       `json:"currentTask,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MinionPayload is the create/update request body for a minion.
type MinionPayload struct {
	ID        string        `json:"id,omitempty"`
	Name      string        `json:"name"`
	Provider  string        `json:"provider,omitempty"`
	ModelID   string        `json:"model_id"`
	ModelName string        `json:"model_name,omitempty"`
	Persona   string        `json:"system_prompt_persona"`
	Params    *MinionParams `json:"params,omitempty"`
	APIKeyID  string        `json:"apiKeyId,omitempty"`
}

// ── Diary & Perception ───────────────────────────────────────

type OpinionUpdate struct {
	ParticipantName string `json:"participantName"`
	NewScore        int    `json:"newScore"`
	ReasonForChange string `json:"reasonForChange"`
}

// DiaryState is a minion's last completed reasoning. It is replaced
// wholesale every successful turn and never merged field by field.
type DiaryState struct {
	PerceptionAnalysis   string          `json:"perceptionAnalysis"`
	OpinionUpdates       []OpinionUpdate `json:"opinionUpdates"`
	FinalOpinions        map[string]int  `json:"finalOpinions"`
	SelectedResponseMode string          `json:"selectedResponseMode"`
	PersonalNotes        string          `json:"personalNotes,omitempty"`
}

type PerceptionAction string

const (
	ActionSpeak      PerceptionAction = "SPEAK"
	ActionStaySilent PerceptionAction = "STAY_SILENT"
)

// PerceptionPlan is the Stage 1 output: a diary plus the speak/silent
// decision and the predicted latency used to order speakers.
type PerceptionPlan struct {
	DiaryState
	Action                PerceptionAction `json:"action"`
	ResponsePlan          string           `json:"responsePlan"`
	PredictedResponseTime int              `json:"predictedResponseTime"` // milliseconds
}

// ── Channel ──────────────────────────────────────────────────

type ChannelType string

const (
	ChannelUserGroup ChannelType = "user_minion_group"
	ChannelSwarm     ChannelType = "minion_minion_auto"
	ChannelSystemLog ChannelType = "system_log"
)

// Valid reports whether t is one of the known channel types.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelUserGroup, ChannelSwarm, ChannelSystemLog:
		return true
	}
	return false
}

type DelayType string

const (
	DelayFixed  DelayType = "fixed"
	DelayRandom DelayType = "random"
)

// DelayRange bounds the random autopilot delay, in seconds.
type DelayRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type Channel struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Type        ChannelType `json:"type"`
	Members     []string    `json:"members"` // minion display names

	IsPrivate           bool        `json:"isPrivate"`
	IsAutoModeActive    bool        `json:"isAutoModeActive"`
	AutoModeDelayType   DelayType   `json:"autoModeDelayType"`
	AutoModeFixedDelay  int         `json:"autoModeFixedDelay"` // seconds
	AutoModeRandomDelay *DelayRange `json:"autoModeRandomDelay,omitempty"`
}

// HasMember reports whether a minion display name is listed in the channel.
func (c *Channel) HasMember(name string) bool {
	for _, m := range c.Members {
		if m == name {
			return true
		}
	}
	return false
}

// ApplyDefaults fills automation settings left empty by the caller.
func (c *Channel) ApplyDefaults() {
	if c.Members == nil {
		c.Members = []string{}
	}
	if c.AutoModeDelayType == "" {
		c.AutoModeDelayType = DelayFixed
	}
	if c.AutoModeFixedDelay <= 0 {
		c.AutoModeFixedDelay = 5
	}
	if c.AutoModeRandomDelay == nil {
		c.AutoModeRandomDelay = &DelayRange{Min: 3, Max: 10}
	}
}

// ChannelPayload is the create/update request body for a channel.
type ChannelPayload struct {
	ID          string      `json:"id,omitempty"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Type        ChannelType `json:"type"`
	Members     []string    `json:"members"`

	IsPrivate           *bool       `json:"isPrivate,omitempty"`
	IsAutoModeActive    *bool       `json:"isAutoModeActive,omitempty"`
	AutoModeDelayType   DelayType   `json:"autoModeDelayType,omitempty"`
	AutoModeFixedDelay  int         `json:"autoModeFixedDelay,omitempty"`
	AutoModeRandomDelay *DelayRange `json:"autoModeRandomDelay,omitempty"`
}

// ── Chat Message ─────────────────────────────────────────────

type SenderType string

const (
	SenderUser   SenderType = "User"
	SenderAI     SenderType = "AI"
	SenderSystem SenderType = "System"
)

// ChatMessage is immutable once created. Channel history is ordered by
// Timestamp, not by insertion.
type ChatMessage struct {
	ID         string     `json:"id"`
	ChannelID  string     `json:"channelId"`
	SenderType SenderType `json:"senderType"`
	SenderName string     `json:"senderName"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`

	// InternalDiary is attached to AI messages only.
	InternalDiary *PerceptionPlan `json:"internalDiary,omitempty"`

	IsError          bool   `json:"isError"`
	ReplyToMessageID string `json:"replyToMessageId,omitempty"`
	IsProcessing     bool   `json:"isProcessing"`
	IsAPIKeyLog      bool   `json:"isApiKeyLog"`
}

// UserMessagePayload is the request body for posting into a channel.
type UserMessagePayload struct {
	ChannelID string `json:"channelId"`
	UserInput string `json:"userInput"`
}

// ── API Keys ─────────────────────────────────────────────────

// APIKey is one credential of the shared pool.
type APIKey struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Masked returns a copy safe to return to API consumers.
func (k APIKey) Masked() APIKey {
	if len(k.Key) > 4 {
		k.Key = k.Key[:4] + "****"
	} else if k.Key != "" {
		k.Key = "****"
	}
	return k
}

type KeySelectionMethod string

const (
	KeyAssigned     KeySelectionMethod = "Assigned"
	KeyLoadBalanced KeySelectionMethod = "Load Balanced"
	KeyNone         KeySelectionMethod = "None"
)

// SelectedKey is the credential chosen for a single LLM call.
type SelectedKey struct {
	Key    string             `json:"key"`
	Name   string             `json:"name"`
	Method KeySelectionMethod `json:"method"`
}
