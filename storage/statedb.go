package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All prefix constants must be declared
// via this function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount   = registerPrefix("acct:")
	prefixToken     = registerPrefix("tok:")
	prefixMeta      = registerPrefix("meta:")
	prefixServer    = registerPrefix("srv:")
	prefixGame      = registerPrefix("game:")
	prefixRelay     = registerPrefix("relay:")
	prefixSession   = registerPrefix("sess:")
	prefixProcessed = registerPrefix("proc:")
	prefixReward    = registerPrefix("rwd:")
	prefixDispute   = registerPrefix("disp:")
	prefixPlayer    = registerPrefix("pstat:")
	prefixNFT       = registerPrefix("nstat:")
)

var (
	keyParams      = prefixMeta + "params"
	keyNextSession = prefixMeta + "next_session"
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation. The executor
// is the only writer; the lock lets RPC readers run alongside it.
type StateDB struct {
	mu        sync.RWMutex
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// idKey renders numeric ids zero-padded so prefix scans iterate in order.
func idKey(prefix string, id uint64) string {
	return fmt.Sprintf("%s%020d", prefix, id)
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

func (s *StateDB) GetTokenBalance(contract, address string) (uint64, error) {
	data, err := s.get(prefixToken + contract + ":" + address)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

func (s *StateDB) SetTokenBalance(contract, address string, amount uint64) error {
	s.set(prefixToken+contract+":"+address, []byte(strconv.FormatUint(amount, 10)))
	return nil
}

// ---- Params ----

// GetParams returns the stored params, or defaults for a chain without genesis.
func (s *StateDB) GetParams() (*core.Params, error) {
	var p core.Params
	err := s.getJSON(keyParams, &p)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Params{DisputeWindow: core.DefaultDisputeWindow}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetParams(p *core.Params) error {
	return s.setJSON(keyParams, p)
}

// ---- Registries ----

func (s *StateDB) GetTrustedServer(publicKey string) (*core.TrustedServer, error) {
	var srv core.TrustedServer
	if err := s.getJSON(prefixServer+publicKey, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

func (s *StateDB) SetTrustedServer(srv *core.TrustedServer) error {
	return s.setJSON(prefixServer+srv.PublicKey, srv)
}

func (s *StateDB) GetGameModule(id string) (*core.GameModule, error) {
	var g core.GameModule
	if err := s.getJSON(prefixGame+id, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *StateDB) SetGameModule(g *core.GameModule) error {
	return s.setJSON(prefixGame+g.ID, g)
}

func (s *StateDB) GetRelay(address string) (*core.Relay, error) {
	var r core.Relay
	if err := s.getJSON(prefixRelay+address, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *StateDB) SetRelay(r *core.Relay) error {
	return s.setJSON(prefixRelay+r.Address, r)
}

// ---- Sessions ----

// NextSessionID returns the next unallocated session id and advances the
// counter. The first id is 0.
func (s *StateDB) NextSessionID() (uint64, error) {
	var next uint64
	data, err := s.get(keyNextSession)
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		if next, err = strconv.ParseUint(string(data), 10, 64); err != nil {
			return 0, fmt.Errorf("decode session counter: %w", err)
		}
	}
	s.set(keyNextSession, []byte(strconv.FormatUint(next+1, 10)))
	return next, nil
}

func (s *StateDB) GetSession(id uint64) (*core.Session, error) {
	var sess core.Session
	if err := s.getJSON(idKey(prefixSession, id), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *StateDB) SetSession(sess *core.Session) error {
	return s.setJSON(idKey(prefixSession, sess.ID), sess)
}

// ---- Replay guard ----

func (s *StateDB) IsResultProcessed(hash string) (bool, error) {
	_, err := s.get(prefixProcessed + hash)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// MarkResultProcessed records hash as settled by sessionID. Entries are never
// removed.
func (s *StateDB) MarkResultProcessed(hash string, sessionID uint64) error {
	s.set(prefixProcessed+hash, []byte(strconv.FormatUint(sessionID, 10)))
	return nil
}

// ---- Rewards and disputes ----

func (s *StateDB) GetReward(sessionID uint64) (*core.PendingReward, error) {
	var r core.PendingReward
	if err := s.getJSON(idKey(prefixReward, sessionID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *StateDB) SetReward(r *core.PendingReward) error {
	return s.setJSON(idKey(prefixReward, r.SessionID), r)
}

func (s *StateDB) GetDispute(sessionID uint64) (*core.Dispute, error) {
	var d core.Dispute
	if err := s.getJSON(idKey(prefixDispute, sessionID), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *StateDB) SetDispute(d *core.Dispute) error {
	return s.setJSON(idKey(prefixDispute, d.SessionID), d)
}

// ---- Progression ----

func (s *StateDB) GetPlayerStats(player string) (*core.PlayerStats, error) {
	var st core.PlayerStats
	err := s.getJSON(prefixPlayer+player, &st)
	if errors.Is(err, core.ErrNotFound) {
		return &core.PlayerStats{Player: player}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *StateDB) SetPlayerStats(st *core.PlayerStats) error {
	return s.setJSON(prefixPlayer+st.Player, st)
}

func (s *StateDB) GetNFTStats(tokenID string) (*core.NFTStats, error) {
	var st core.NFTStats
	err := s.getJSON(prefixNFT+tokenID, &st)
	if errors.Is(err, core.ErrNotFound) {
		return &core.NFTStats{TokenID: tokenID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *StateDB) SetNFTStats(st *core.NFTStats) error {
	return s.setJSON(prefixNFT+st.TokenID, st)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := stateSnapshot{
		dirty:   copyBuffer(s.dirty),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot
// and discards it along with every later one. The snapshot maps are
// deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = copyBuffer(snap.dirty)
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

func copyBuffer(src map[string][]byte) map[string][]byte {
	dst := make(map[string][]byte, len(src))
	for k, v := range src {
		cp := make([]byte, len(v))
		copy(cp, v)
		dst[k] = cp
	}
	return dst
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding. It does NOT flush or modify state,
// so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[string(it.Key())] = v
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// batch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
