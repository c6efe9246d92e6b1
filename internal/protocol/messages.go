package protocol

import "maps"

// ActionType is the behavioral mode a bot runs in.
type ActionType string

const (
	ActionFight  ActionType = "fight"
	ActionGather ActionType = "gather"
	ActionCraft  ActionType = "craft"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionFight, ActionGather, ActionCraft:
		return true
	}
	return false
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Item struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

// CraftingStep is one instruction of a crafting cycle.
type CraftingStep struct {
	Type          string         `json:"type"` // "withdraw","deposit","craft","move"
	Item          string         `json:"item,omitempty"`
	Quantity      int            `json:"quantity,omitempty"`
	Location      string         `json:"location,omitempty"`
	Position      *Position      `json:"position,omitempty"`
	MaterialsUsed map[string]int `json:"materialsUsed,omitempty"`
	ItemsCrafted  map[string]int `json:"itemsCrafted,omitempty"`
}

type CraftingCycle struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Steps          []CraftingStep `json:"steps"`
	RequiredItems  []Item         `json:"requiredItems,omitempty"`
	ExpectedOutput []Item         `json:"expectedOutput,omitempty"`
}

func (c *CraftingCycle) Clone() *CraftingCycle {
	if c == nil {
		return nil
	}
	out := *c
	out.Steps = make([]CraftingStep, len(c.Steps))
	for i, s := range c.Steps {
		if s.Position != nil {
			p := *s.Position
			s.Position = &p
		}
		s.MaterialsUsed = maps.Clone(s.MaterialsUsed)
		s.ItemsCrafted = maps.Clone(s.ItemsCrafted)
		out.Steps[i] = s
	}
	out.RequiredItems = append([]Item(nil), c.RequiredItems...)
	out.ExpectedOutput = append([]Item(nil), c.ExpectedOutput...)
	return &out
}

type CraftingStats struct {
	ItemsCrafted  map[string]int `json:"itemsCrafted"`
	TotalCrafts   int            `json:"totalCrafts"`
	FailedCrafts  int            `json:"failedCrafts"`
	CurrentCycle  *string        `json:"currentCycle"`
	CycleProgress float64        `json:"cycleProgress"`
	MaterialsUsed map[string]int `json:"materialsUsed"`
}

// BotStatus is the authority's view of a running bot. LastError is reported
// by the bot itself and is informational only.
type BotStatus struct {
	IsRunning      bool           `json:"isRunning"`
	LastAction     string         `json:"lastAction"`
	TotalActions   int            `json:"totalActions"`
	TotalXP        int            `json:"totalXp"`
	TotalGold      int            `json:"totalGold"`
	ItemsCollected map[string]int `json:"itemsCollected"`
	CurrentHP      *int           `json:"currentHp,omitempty"`
	MaxHP          *int           `json:"maxHp,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	CraftingStats  *CraftingStats `json:"craftingStats,omitempty"`
}

func (s BotStatus) Clone() BotStatus {
	out := s
	out.ItemsCollected = maps.Clone(s.ItemsCollected)
	if s.CurrentHP != nil {
		v := *s.CurrentHP
		out.CurrentHP = &v
	}
	if s.MaxHP != nil {
		v := *s.MaxHP
		out.MaxHP = &v
	}
	if s.CraftingStats != nil {
		cs := *s.CraftingStats
		cs.ItemsCrafted = maps.Clone(s.CraftingStats.ItemsCrafted)
		cs.MaterialsUsed = maps.Clone(s.CraftingStats.MaterialsUsed)
		if s.CraftingStats.CurrentCycle != nil {
			v := *s.CraftingStats.CurrentCycle
			cs.CurrentCycle = &v
		}
		out.CraftingStats = &cs
	}
	return out
}

// BotConfig is the per-bot configuration held by the authority.
type BotConfig struct {
	APIToken        string         `json:"apiToken"`
	CharacterName   string         `json:"characterName"`
	ActionType      ActionType     `json:"actionType"`
	Resource        string         `json:"resource,omitempty"`
	BaseURL         string         `json:"baseUrl,omitempty"`
	CraftingCycle   *CraftingCycle `json:"craftingCycle,omitempty"`
	FightLocation   *Position      `json:"fightLocation,omitempty"`
	SelectedMonster string         `json:"selectedMonster,omitempty"`
	MonsterSkin     string         `json:"monsterSkin,omitempty"`
	ResourceSkin    string         `json:"resourceSkin,omitempty"`
}

func (c BotConfig) Clone() BotConfig {
	out := c
	out.CraftingCycle = c.CraftingCycle.Clone()
	if c.FightLocation != nil {
		p := *c.FightLocation
		out.FightLocation = &p
	}
	return out
}

// BotConfigPatch carries a partial configuration; nil fields are left to the
// authority's current value.
type BotConfigPatch struct {
	APIToken        *string        `json:"apiToken,omitempty"`
	ActionType      *ActionType    `json:"actionType,omitempty"`
	Resource        *string        `json:"resource,omitempty"`
	BaseURL         *string        `json:"baseUrl,omitempty"`
	CraftingCycle   *CraftingCycle `json:"craftingCycle,omitempty"`
	FightLocation   *Position      `json:"fightLocation,omitempty"`
	SelectedMonster *string        `json:"selectedMonster,omitempty"`
	MonsterSkin     *string        `json:"monsterSkin,omitempty"`
	ResourceSkin    *string        `json:"resourceSkin,omitempty"`
}

type LogEntry struct {
	CharacterName string `json:"characterName"`
	Message       string `json:"message"`
	Timestamp     string `json:"timestamp"`
}

type MonsterLocation struct {
	Code     string   `json:"code"`
	Skin     string   `json:"skin"`
	Position Position `json:"position"`
}

// MonsterSet groups every known spawn location of one monster code.
type MonsterSet struct {
	Code      string            `json:"code"`
	Locations []MonsterLocation `json:"locations"`
}

func (m MonsterSet) Clone() MonsterSet {
	return MonsterSet{Code: m.Code, Locations: append([]MonsterLocation(nil), m.Locations...)}
}

// Outbound payloads.

type UpdateBotConfigReq struct {
	CharacterName string         `json:"characterName"`
	Config        BotConfigPatch `json:"config"`
}

type UpdateCraftingCycleReq struct {
	CharacterName string        `json:"characterName"`
	Cycle         CraftingCycle `json:"cycle"`
}
