package protocol

// HELLO (gateway client -> server). The account id is the ledger identity;
// the display name is decoration carried through to replies and audits.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AccountID       string `json:"account_id"`
	DisplayName     string `json:"display_name,omitempty"`
}

// WELCOME (server -> client).
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	AccountID       string       `json:"account_id"`
	Params          LedgerParams `json:"ledger_params"`
}

type LedgerParams struct {
	Decimals          int      `json:"decimals"`
	ReasonMinLen      int      `json:"reason_min_len"`
	ReasonMaxLen      int      `json:"reason_max_len"`
	LeaderboardPlaces int      `json:"leaderboard_places"`
	Factions          []string `json:"factions"`
}

// CMD (client -> server): one command invocation. The id is echoed on the
// reply so clients can match concurrent commands.
type CommandMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ID              string  `json:"id,omitempty"`
	Command         string  `json:"command"`
	Target          string  `json:"target,omitempty"`
	TargetName      string  `json:"target_name,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	Faction         string  `json:"faction,omitempty"`
}

// REPLY (server -> client).
type ReplyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Headline        string `json:"headline,omitempty"`
	Body            string `json:"body"`
	Private         bool   `json:"private,omitempty"`
}
