package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound events (authority -> client).
const (
	EventInitialState     = "initialState"
	EventBotStatus        = "botStatus"
	EventBotConfigUpdate  = "botConfigUpdate"
	EventBotsStatus       = "botsStatus"
	EventBotLog           = "botLog"
	EventMonsterLocations = "monsterLocations"
)

// Outbound intents (client -> authority).
const (
	IntentStartBot            = "startBot"
	IntentStopBot             = "stopBot"
	IntentStartAllBots        = "startAllBots"
	IntentStopAllBots         = "stopAllBots"
	IntentUpdateBotConfig     = "updateBotConfig"
	IntentUpdateCraftingCycle = "updateCraftingCycle"
	IntentRemoveCraftingCycle = "removeCraftingCycle"
	IntentGetMonsterLocations = "getMonsterLocations"
)

// Envelope is the frame carried by every websocket text message in both
// directions. Data is absent for argument-less intents.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event name")
	}
	return e, nil
}

// EncodeEnvelope marshals data (nil for none) under the given event name.
func EncodeEnvelope(event string, data any) ([]byte, error) {
	e := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		e.Data = raw
	}
	return json.Marshal(e)
}
