package core

// Account holds a participant's native balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// SessionStatus is a node of the session state machine:
// open → finalized → disputed → resolved.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionFinalized SessionStatus = "finalized"
	SessionDisputed  SessionStatus = "disputed"
	SessionResolved  SessionStatus = "resolved"
)

// Session represents one match from start to settlement. Heights are block
// heights supplied by the sequencer and serve as the protocol clock.
type Session struct {
	ID           uint64        `json:"id"`
	Player       string        `json:"player"` // pubkey hex
	GameModuleID string        `json:"game_module_id,omitempty"`
	NFTTokenID   string        `json:"nft_token_id,omitempty"`
	Status       SessionStatus `json:"status"`
	StartHeight  int64         `json:"start_height"`
	EndHeight    int64         `json:"end_height,omitempty"`
	ResultHash   string        `json:"result_hash,omitempty"` // set iff settled
	Score        uint64        `json:"canonical_score,omitempty"`
	ExpGained    uint64        `json:"exp_gained,omitempty"`
	Attestor     string        `json:"attestor,omitempty"` // compressed secp256k1 key hex
	Upheld       *bool         `json:"upheld,omitempty"`   // set once resolved
}

// Settled reports whether a result has been accepted for the session.
func (s *Session) Settled() bool {
	switch s.Status {
	case SessionFinalized, SessionDisputed, SessionResolved:
		return true
	}
	return false
}

// Payable reports whether the settled outcome currently stands: finalized
// and undisputed, or disputed and upheld.
func (s *Session) Payable() bool {
	if s.Status == SessionFinalized {
		return true
	}
	return s.Status == SessionResolved && s.Upheld != nil && *s.Upheld
}

// TrustedServer is an allow-listed result attestor.
type TrustedServer struct {
	PublicKey string `json:"public_key"` // compressed secp256k1 key hex
	Enabled   bool   `json:"enabled"`
	Name      string `json:"name"`
	UpdatedAt int64  `json:"updated_at"`
}

// GameModule is a catalogued game type with its accepted score range.
type GameModule struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	OwnerContract string `json:"owner_contract"`
	MinScore      uint64 `json:"min_score"`
	MaxScore      uint64 `json:"max_score"`
	Enabled       bool   `json:"enabled"`
}

// ScoreInRange reports whether score lies within [MinScore, MaxScore].
func (g *GameModule) ScoreInRange(score uint64) bool {
	return score >= g.MinScore && score <= g.MaxScore
}

// Relay is an account allowed to act on behalf of players.
type Relay struct {
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

// PendingReward is a reward escrowed against a settled session. The amount
// is taken from Funder at setup; TokenContract empty means native currency.
type PendingReward struct {
	SessionID     uint64 `json:"session_id"`
	Player        string `json:"player"`
	TokenContract string `json:"token_contract,omitempty"`
	Amount        uint64 `json:"amount"`
	Funder        string `json:"funder"`
	Claimed       bool   `json:"claimed"`
	Voided        bool   `json:"voided"`
	CreatedAt     int64  `json:"created_at"`
	SettledAt     int64  `json:"settled_at,omitempty"` // claim or void height
}

// Progress is the cumulative progression shared by players and NFTs.
type Progress struct {
	TotalGamesPlayed uint64 `json:"total_games_played"`
	TotalScore       uint64 `json:"total_score"`
	Experience       uint64 `json:"experience"`
	Level            uint64 `json:"level"`
}

// PlayerStats is the progression of one player.
type PlayerStats struct {
	Player string `json:"player"`
	Progress
}

// NFTStats is the progression of one NFT.
type NFTStats struct {
	TokenID string `json:"token_id"`
	Progress
}

// Dispute is a challenge against a finalized session. One per session.
type Dispute struct {
	SessionID  uint64 `json:"session_id"`
	Reason     []byte `json:"reason"`
	OpenedBy   string `json:"opened_by"`
	OpenedAt   int64  `json:"opened_at"`
	Resolved   bool   `json:"resolved"`
	Upheld     *bool  `json:"upheld,omitempty"`
	ResolvedAt int64  `json:"resolved_at,omitempty"`
}

// Params are the chain-wide settlement parameters.
type Params struct {
	Admin         string `json:"admin"`          // pubkey hex
	DisputeWindow int64  `json:"dispute_window"` // in blocks
	Maintenance   bool   `json:"maintenance"`
}

// DefaultDisputeWindow is used when genesis does not set one.
const DefaultDisputeWindow int64 = 120

// State is the full world-state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error
	GetTokenBalance(contract, address string) (uint64, error)
	SetTokenBalance(contract, address string, amount uint64) error

	// Params
	GetParams() (*Params, error)
	SetParams(p *Params) error

	// Registries
	GetTrustedServer(publicKey string) (*TrustedServer, error)
	SetTrustedServer(s *TrustedServer) error
	GetGameModule(id string) (*GameModule, error)
	SetGameModule(g *GameModule) error
	GetRelay(address string) (*Relay, error)
	SetRelay(r *Relay) error

	// Sessions
	NextSessionID() (uint64, error)
	GetSession(id uint64) (*Session, error)
	SetSession(s *Session) error

	// Replay guard
	IsResultProcessed(hash string) (bool, error)
	MarkResultProcessed(hash string, sessionID uint64) error

	// Rewards and disputes
	GetReward(sessionID uint64) (*PendingReward, error)
	SetReward(r *PendingReward) error
	GetDispute(sessionID uint64) (*Dispute, error)
	SetDispute(d *Dispute) error

	// Progression
	GetPlayerStats(player string) (*PlayerStats, error)
	SetPlayerStats(s *PlayerStats) error
	GetNFTStats(tokenID string) (*NFTStats, error)
	SetNFTStats(s *NFTStats) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
