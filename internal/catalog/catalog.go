// Package catalog owns the live session registry: the in-memory map of
// multiplayer sessions keyed by session id with secondary lookup by room
// code, plus the public-room inventory invariants. Every mutation of a
// session happens under the catalog lock; the scheduler and the WebSocket
// layer re-enter through Update and hold no session pointers of their own.
package catalog

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/dicelobby/backend/internal/config"
	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/engine"
)

// Error is a catalog rejection with an HTTP status and a stable reason
// code. WebSocket paths map Status to a close code.
type Error struct {
	Status int
	Reason string
}

func (e *Error) Error() string { return e.Reason }

var (
	ErrRoomNotFound   = &Error{Status: 404, Reason: "room_not_found"}
	ErrSessionExpired = &Error{Status: 410, Reason: "session_expired"}
	ErrRoomFull       = &Error{Status: 409, Reason: "room_full"}
	ErrRoomCodeTaken  = &Error{Status: 400, Reason: "room_code_taken"}
	ErrNotParticipant = &Error{Status: 403, Reason: "not_a_participant"}
	ErrBadRequest     = &Error{Status: 400, Reason: "bad_request"}
)

// ConnectivityFunc reports whether a participant currently holds an open
// socket. Injected by the server so the catalog stays transport-free.
type ConnectivityFunc func(sessionID, playerID string) bool

// ChangeFunc is invoked outside the lock after any mutation, with the ids
// of the sessions that changed. The server uses it to reconcile the
// scheduler and enqueue a snapshot save.
type ChangeFunc func(sessionIDs ...string)

// Catalog is the single serialization domain for all room state.
type Catalog struct {
	mu  sync.Mutex
	cfg *config.Config
	eng *engine.Engine

	sessions map[string]*core.Session
	players  map[string]core.PlayerProfile
	firebase map[string]*core.FirebasePlayer

	botCursor int

	connected ConnectivityFunc
	onChange  ChangeFunc

	logger *log.Logger
}

func New(cfg *config.Config, eng *engine.Engine) *Catalog {
	return &Catalog{
		cfg:       cfg,
		eng:       eng,
		sessions:  make(map[string]*core.Session),
		players:   make(map[string]core.PlayerProfile),
		firebase:  make(map[string]*core.FirebasePlayer),
		connected: func(string, string) bool { return false },
		onChange:  func(...string) {},
		logger:    log.New(log.Writer(), "[CATALOG] ", log.LstdFlags),
	}
}

// SetConnectivity wires the socket-presence check. Must be called before
// traffic starts.
func (c *Catalog) SetConnectivity(fn ConnectivityFunc) {
	if fn != nil {
		c.connected = fn
	}
}

// SetOnChange wires the post-mutation hook.
func (c *Catalog) SetOnChange(fn ChangeFunc) {
	if fn != nil {
		c.onChange = fn
	}
}

// CreateParams are the caller-supplied fields for a new private session.
type CreateParams struct {
	PlayerID    string
	DisplayName string
	RoomCode    string
	Difficulty  core.Difficulty
	MaxBots     *int
}

// CreateSession allocates a private session seeded with the creator and a
// rotation of bot participants.
func (c *Catalog) CreateSession(p CreateParams) (*core.Session, error) {
	if p.PlayerID == "" {
		return nil, ErrBadRequest
	}

	c.mu.Lock()
	now := core.NowMs()

	code := normalizeRoomCode(p.RoomCode)
	if p.RoomCode != "" {
		if code == "" {
			c.mu.Unlock()
			return nil, ErrBadRequest
		}
		if c.codeInUseLocked(code, now) {
			c.mu.Unlock()
			return nil, ErrRoomCodeTaken
		}
	} else {
		code = c.uniqueCodeLocked("", now)
	}

	botCount := c.cfg.MaxBots
	if p.MaxBots != nil {
		botCount = *p.MaxBots
		if botCount < 0 {
			botCount = 0
		}
		if botCount > c.cfg.MaxBots {
			botCount = c.cfg.MaxBots
		}
	}

	s := &core.Session{
		SessionID:      uuid.NewString(),
		RoomCode:       code,
		RoomKind:       core.RoomPrivate,
		GameDifficulty: core.NormalizeDifficulty(p.Difficulty),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now + c.cfg.SessionIdleTTL.Milliseconds(),
		Participants:   make(map[string]*core.Participant),
	}
	// The creator asked for this game; they start ready, so a fresh room
	// has a live turn the moment they connect. Only joiners opt in.
	s.Participants[p.PlayerID] = &core.Participant{
		PlayerID:        p.PlayerID,
		DisplayName:     p.DisplayName,
		IsReady:         true,
		JoinedAt:        now,
		LastHeartbeatAt: now,
		RemainingDice:   core.StartingDice,
	}
	c.seedBotsLocked(s, botCount, now)

	c.eng.EnsureTurnState(s)
	c.sessions[s.SessionID] = s
	id := s.SessionID
	view := cloneSession(s)
	c.mu.Unlock()

	c.logger.Printf("created session %s code=%s bots=%d", id, code, botCount)
	c.onChange(id)
	return view, nil
}

// seedBotsLocked appends n bots from the roster rotation. Join times are
// staggered so join order stays deterministic.
func (c *Catalog) seedBotsLocked(s *core.Session, n int, now int64) {
	roster := c.cfg.BotRoster
	if len(roster) == 0 {
		return
	}
	for i := 0; i < n; i++ {
		spec := roster[c.botCursor%len(roster)]
		c.botCursor++
		id := fmt.Sprintf("bot-%s", uuid.NewString()[:8])
		s.Participants[id] = &core.Participant{
			PlayerID:        id,
			DisplayName:     spec.Name,
			JoinedAt:        now + int64(i) + 1,
			LastHeartbeatAt: now,
			IsBot:           true,
			BotProfile:      core.NormalizeBotProfile(spec.Profile),
			IsReady:         true,
			RemainingDice:   core.StartingDice,
		}
	}
}

// JoinParams are the caller-supplied fields for joining a session.
type JoinParams struct {
	PlayerID    string
	DisplayName string
}

// JoinBySessionID upserts a participant into a live session. Returning
// participants keep their join time, score, and dice and do not count
// against the human cap.
func (c *Catalog) JoinBySessionID(sessionID string, p JoinParams) (*core.Session, error) {
	if p.PlayerID == "" {
		return nil, ErrBadRequest
	}

	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	now := core.NowMs()
	if s.IsExpired(now) {
		c.mu.Unlock()
		return nil, ErrSessionExpired
	}

	if err := c.joinLocked(s, p, now); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	changed := c.reconcileLocked(now)
	view := cloneSession(s)
	c.mu.Unlock()

	c.onChange(append(changed, sessionID)...)
	return view, nil
}

// JoinByRoomCode resolves a room code to a live session — private rooms
// first, then public overflow, then public default, tie-broken by most
// recent activity and then by creation time — and joins it.
func (c *Catalog) JoinByRoomCode(code string, p JoinParams) (*core.Session, error) {
	if p.PlayerID == "" {
		return nil, ErrBadRequest
	}
	code = normalizeRoomCode(code)
	if code == "" {
		return nil, ErrBadRequest
	}

	c.mu.Lock()
	now := core.NowMs()
	s := c.resolveCodeLocked(code, now)
	if s == nil {
		c.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if err := c.joinLocked(s, p, now); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	changed := c.reconcileLocked(now)
	id := s.SessionID
	view := cloneSession(s)
	c.mu.Unlock()

	c.onChange(append(changed, id)...)
	return view, nil
}

func kindPriority(k core.RoomKind) int {
	switch k {
	case core.RoomPrivate:
		return 0
	case core.RoomPublicOverflow:
		return 1
	default:
		return 2
	}
}

func (c *Catalog) resolveCodeLocked(code string, now int64) *core.Session {
	var best *core.Session
	for _, s := range c.sessions {
		if s.RoomCode != code || s.IsExpired(now) {
			continue
		}
		if best == nil {
			best = s
			continue
		}
		bp, sp := kindPriority(best.RoomKind), kindPriority(s.RoomKind)
		switch {
		case sp < bp:
			best = s
		case sp == bp && s.LastActivityAt > best.LastActivityAt:
			best = s
		case sp == bp && s.LastActivityAt == best.LastActivityAt && s.CreatedAt < best.CreatedAt:
			best = s
		}
	}
	return best
}

func (c *Catalog) joinLocked(s *core.Session, p JoinParams, now int64) error {
	existing := s.Participants[p.PlayerID]
	if existing == nil && s.HumanCount() >= c.cfg.MaxHumanPlayers {
		return ErrRoomFull
	}

	if existing != nil {
		// Returning participant: keep progress, reset readiness.
		existing.LastHeartbeatAt = now
		existing.IsReady = false
		if p.DisplayName != "" {
			existing.DisplayName = p.DisplayName
		}
	} else {
		s.Participants[p.PlayerID] = &core.Participant{
			PlayerID:        p.PlayerID,
			DisplayName:     p.DisplayName,
			JoinedAt:        now,
			LastHeartbeatAt: now,
			RemainingDice:   core.StartingDice,
		}
	}
	s.LastActivityAt = now
	s.ExpiresAt = now + c.cfg.SessionIdleTTL.Milliseconds()
	c.eng.EnsureTurnState(s)
	return nil
}

// Leave removes a participant. Private rooms with no humans left are
// destroyed; public rooms are reset in place by reconciliation.
func (c *Catalog) Leave(sessionID, playerID string) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrRoomNotFound
	}
	if _, ok := s.Participants[playerID]; !ok {
		c.mu.Unlock()
		return ErrNotParticipant
	}

	now := core.NowMs()
	wasActive := s.TurnState != nil && s.TurnState.ActiveTurnPlayerID == playerID
	delete(s.Participants, playerID)
	s.LastActivityAt = now

	if s.RoomKind == core.RoomPrivate && s.HumanCount() == 0 {
		delete(c.sessions, sessionID)
		c.logger.Printf("destroyed session %s (last human left)", sessionID)
	} else {
		if wasActive && s.TurnState.ActiveTurnPlayerID == playerID {
			// Ensure will reassign, but force a clean rotation so the
			// departing player never stays "active".
			s.TurnState.ActiveTurnPlayerID = ""
		}
		c.eng.EnsureTurnState(s)
	}
	changed := c.reconcileLocked(now)
	c.mu.Unlock()

	c.onChange(append(changed, sessionID)...)
	return nil
}

// Heartbeat refreshes participant liveness and extends the session TTL.
func (c *Catalog) Heartbeat(sessionID, playerID string) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrRoomNotFound
	}
	now := core.NowMs()
	if s.IsExpired(now) {
		c.mu.Unlock()
		return ErrSessionExpired
	}
	p, ok := s.Participants[playerID]
	if !ok {
		c.mu.Unlock()
		return ErrNotParticipant
	}
	p.LastHeartbeatAt = now
	s.LastActivityAt = now
	s.ExpiresAt = now + c.cfg.SessionIdleTTL.Milliseconds()
	c.mu.Unlock()

	c.onChange(sessionID)
	return nil
}

// SetReady flips a participant's ready flag and re-ensures turn state.
func (c *Catalog) SetReady(sessionID, playerID string, ready bool) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrRoomNotFound
	}
	p, ok := s.Participants[playerID]
	if !ok {
		c.mu.Unlock()
		return ErrNotParticipant
	}
	p.IsReady = ready
	s.LastActivityAt = core.NowMs()
	c.eng.EnsureTurnState(s)
	c.mu.Unlock()

	c.onChange(sessionID)
	return nil
}

// Update runs fn on a live session under the catalog lock. When fn returns
// nil the turn state is re-ensured and the change hook fires. Timer
// callbacks and WebSocket handlers re-enter the serialization domain
// through here.
func (c *Catalog) Update(sessionID string, fn func(s *core.Session) error) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrRoomNotFound
	}
	if err := fn(s); err != nil {
		c.mu.Unlock()
		return err
	}
	c.eng.EnsureTurnState(s)
	c.mu.Unlock()

	c.onChange(sessionID)
	return nil
}

// View runs fn on a read-only deep copy of a live session.
func (c *Catalog) View(sessionID string) (*core.Session, error) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	c.eng.EnsureTurnState(s)
	view := cloneSession(s)
	c.mu.Unlock()
	return view, nil
}

// IsParticipant reports whether a player belongs to a live session.
func (c *Catalog) IsParticipant(sessionID, playerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok || s.IsExpired(core.NowMs()) {
		return false
	}
	_, ok = s.Participants[playerID]
	return ok
}

// SessionCount reports the number of live sessions.
func (c *Catalog) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// SessionIDs returns the ids of all live sessions.
func (c *Catalog) SessionIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, id)
	}
	return out
}

// cloneSession deep-copies a session so callers can read it outside the
// lock.
func cloneSession(s *core.Session) *core.Session {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("clone session: %v", err))
	}
	var out core.Session
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("clone session: %v", err))
	}
	if out.Participants == nil {
		out.Participants = make(map[string]*core.Participant)
	}
	return &out
}
