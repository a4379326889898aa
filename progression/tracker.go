package progression

import (
	"fmt"

	"github.com/tolelom/tolsettle/core"
)

// Store is the slice of state the tracker reads and writes.
type Store interface {
	GetPlayerStats(player string) (*core.PlayerStats, error)
	SetPlayerStats(s *core.PlayerStats) error
	GetNFTStats(tokenID string) (*core.NFTStats, error)
	SetNFTStats(s *core.NFTStats) error
}

// Update is the progression produced by one finalization, for events and
// receipts.
type Update struct {
	Player PlayerUpdate `json:"player"`
	NFTs   []NFTUpdate  `json:"nfts,omitempty"`
}

type PlayerUpdate struct {
	Player     string `json:"player"`
	Experience uint64 `json:"experience"`
	Level      uint64 `json:"level"`
}

type NFTUpdate struct {
	TokenID    string `json:"token_id"`
	Experience uint64 `json:"experience"`
	Level      uint64 `json:"level"`
}

// Apply records a finalized session: the player, and the session's NFT if
// any, each gain one game, the score and the experience. Meta deltas then add
// experience to the NFTs they name.
func Apply(st Store, sess *core.Session, deltas []NFTDelta) (*Update, error) {
	ps, err := st.GetPlayerStats(sess.Player)
	if err != nil {
		return nil, fmt.Errorf("load player stats: %w", err)
	}
	if err := Record(&ps.Progress, sess.Score, sess.ExpGained); err != nil {
		return nil, err
	}
	if err := st.SetPlayerStats(ps); err != nil {
		return nil, err
	}
	up := &Update{Player: PlayerUpdate{Player: ps.Player, Experience: ps.Experience, Level: ps.Level}}

	if sess.NFTTokenID != "" {
		ns, err := st.GetNFTStats(sess.NFTTokenID)
		if err != nil {
			return nil, fmt.Errorf("load nft stats: %w", err)
		}
		if err := Record(&ns.Progress, sess.Score, sess.ExpGained); err != nil {
			return nil, err
		}
		if err := st.SetNFTStats(ns); err != nil {
			return nil, err
		}
		up.NFTs = append(up.NFTs, NFTUpdate{TokenID: ns.TokenID, Experience: ns.Experience, Level: ns.Level})
	}

	for _, d := range deltas {
		ns, err := st.GetNFTStats(d.TokenID)
		if err != nil {
			return nil, fmt.Errorf("load nft stats: %w", err)
		}
		if err := AddExperience(&ns.Progress, d.Exp); err != nil {
			return nil, err
		}
		if err := st.SetNFTStats(ns); err != nil {
			return nil, err
		}
		up.NFTs = append(up.NFTs, NFTUpdate{TokenID: ns.TokenID, Experience: ns.Experience, Level: ns.Level})
	}
	return up, nil
}
