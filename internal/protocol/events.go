package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the closed set of inbound events. Decode is the only
// constructor; handlers switch on the concrete type.
type Message interface {
	EventName() string
	inbound()
}

// InitialState is the full snapshot sent on every (re)connect.
type InitialState struct {
	BotsStatus map[string]BotStatus `json:"botsStatus"`
	BotsConfig map[string]BotConfig `json:"botsConfig"`
	RecentLogs []LogEntry           `json:"recentLogs"`
	Monsters   []MonsterSet         `json:"monsters"`
}

type BotStatusUpdate struct {
	CharacterName string    `json:"characterName"`
	Status        BotStatus `json:"status"`
}

type BotConfigUpdate struct {
	CharacterName string    `json:"characterName"`
	Config        BotConfig `json:"config"`
}

// BotsStatus is a periodic resync of every bot's status.
type BotsStatus map[string]BotStatus

type BotLog LogEntry

type MonsterLocations MonsterSet

// Unknown carries an event name this client does not understand.
type Unknown struct {
	Event string
	Data  json.RawMessage
}

func (InitialState) EventName() string     { return EventInitialState }
func (BotStatusUpdate) EventName() string  { return EventBotStatus }
func (BotConfigUpdate) EventName() string  { return EventBotConfigUpdate }
func (BotsStatus) EventName() string       { return EventBotsStatus }
func (BotLog) EventName() string           { return EventBotLog }
func (MonsterLocations) EventName() string { return EventMonsterLocations }
func (u Unknown) EventName() string        { return u.Event }

func (InitialState) inbound()     {}
func (BotStatusUpdate) inbound()  {}
func (BotConfigUpdate) inbound()  {}
func (BotsStatus) inbound()       {}
func (BotLog) inbound()           {}
func (MonsterLocations) inbound() {}
func (Unknown) inbound()          {}

var inboundEvents = map[string]struct{}{
	EventInitialState:     {},
	EventBotStatus:        {},
	EventBotConfigUpdate:  {},
	EventBotsStatus:       {},
	EventBotLog:           {},
	EventMonsterLocations: {},
}

func IsInboundEvent(name string) bool {
	_, ok := inboundEvents[name]
	return ok
}

// Decode turns an envelope into a typed Message. Unrecognized event names
// yield Unknown and no error.
func Decode(env Envelope) (Message, error) {
	var (
		msg Message
		err error
	)
	switch env.Event {
	case EventInitialState:
		var m InitialState
		err = unmarshalData(env, &m)
		msg = m
	case EventBotStatus:
		var m BotStatusUpdate
		err = unmarshalData(env, &m)
		if err == nil && m.CharacterName == "" {
			err = fmt.Errorf("missing characterName")
		}
		msg = m
	case EventBotConfigUpdate:
		var m BotConfigUpdate
		err = unmarshalData(env, &m)
		if err == nil && m.CharacterName == "" {
			err = fmt.Errorf("missing characterName")
		}
		msg = m
	case EventBotsStatus:
		var m BotsStatus
		err = unmarshalData(env, &m)
		msg = m
	case EventBotLog:
		var m BotLog
		err = unmarshalData(env, &m)
		msg = m
	case EventMonsterLocations:
		var m MonsterLocations
		err = unmarshalData(env, &m)
		if err == nil && m.Code == "" {
			err = fmt.Errorf("missing code")
		}
		msg = m
	default:
		return Unknown{Event: env.Event, Data: env.Data}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return msg, nil
}

func unmarshalData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(env.Data, v)
}
