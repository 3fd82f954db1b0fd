// Package flow tracks multi-step chat prompts that are waiting for user
// input. Each user has at most one pending state per category, and every
// state expires on its own timer.
package flow

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ggonzalez94/swapdesk/internal/logging"
)

type Category string

const (
	ImportKey       Category = "import-key"
	Withdraw        Category = "withdraw"
	ContractAddress Category = "enter-contract-address"
	BuyAmount       Category = "enter-buy-amount"
)

// Precedence is the order in which pending categories claim free text.
var Precedence = []Category{ImportKey, Withdraw, ContractAddress, BuyAmount}

const DefaultTTL = 2 * time.Minute

type State struct {
	Category  Category
	Step      string
	Data      map[string]string
	ExpiresAt time.Time
}

func (s State) clone() State {
	data := make(map[string]string, len(s.Data))
	for k, v := range s.Data {
		data[k] = v
	}
	s.Data = data
	return s
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithExpireHook runs fn after a state expires. It runs outside the user lock.
func WithExpireHook(fn func(userID string, st State)) Option {
	return func(e *Engine) { e.onExpire = fn }
}

type Engine struct {
	ttl      time.Duration
	logger   *zap.Logger
	onExpire func(string, State)
	now      func() time.Time

	mu    sync.Mutex
	users map[string]*userFlows
}

type userFlows struct {
	mu      sync.Mutex
	pending map[Category]*entry
	// dead is set once the user is dropped from Engine.users. Holders of a
	// stale pointer must look the user up again.
	dead bool
}

type entry struct {
	state State
	timer *time.Timer
}

func New(ttl time.Duration, opts ...Option) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	e := &Engine{
		ttl:    ttl,
		logger: zap.NewNop(),
		now:    time.Now,
		users:  map[string]*userFlows{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) TTL() time.Duration { return e.ttl }

// lock returns the user's flows with u.mu held, creating them if needed.
func (e *Engine) lock(userID string) *userFlows {
	for {
		e.mu.Lock()
		u, ok := e.users[userID]
		if !ok {
			u = &userFlows{pending: map[Category]*entry{}}
			e.users[userID] = u
		}
		e.mu.Unlock()
		u.mu.Lock()
		if !u.dead {
			return u
		}
		u.mu.Unlock()
	}
}

// unlock releases u.mu and drops the user once nothing is pending. Lock
// order is e.mu before u.mu.
func (e *Engine) unlock(userID string, u *userFlows) {
	empty := len(u.pending) == 0
	u.mu.Unlock()
	if !empty {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.pending) == 0 && !u.dead && e.users[userID] == u {
		delete(e.users, userID)
		u.dead = true
	}
}

// Start replaces any pending state of the same category. The old timer is
// stopped and the new state gets a fresh window.
func (e *Engine) Start(userID string, cat Category, step string, data map[string]string) State {
	u := e.lock(userID)
	defer e.unlock(userID, u)

	if old, ok := u.pending[cat]; ok {
		old.timer.Stop()
	}
	st := State{Category: cat, Step: step, Data: data}.clone()
	u.pending[cat] = e.arm(userID, u, st)
	return st.clone()
}

// Advance moves a pending state to step, merges data into it and restarts
// its window. ok is false when nothing of that category is pending.
func (e *Engine) Advance(userID string, cat Category, step string, data map[string]string) (State, bool) {
	u := e.lock(userID)
	defer e.unlock(userID, u)

	cur, ok := u.pending[cat]
	if !ok {
		return State{}, false
	}
	cur.timer.Stop()
	st := cur.state.clone()
	st.Step = step
	for k, v := range data {
		st.Data[k] = v
	}
	u.pending[cat] = e.arm(userID, u, st)
	return st.clone(), true
}

// arm stores st in a new entry and starts its timer. Callers hold u.mu.
func (e *Engine) arm(userID string, u *userFlows, st State) *entry {
	st.ExpiresAt = e.now().Add(e.ttl)
	ent := &entry{state: st}
	ent.timer = time.AfterFunc(e.ttl, func() { e.expire(userID, u, ent) })
	return ent
}

// expire drops the state only if ent is still the pending entry of its
// category. A timer that lost the race with Stop finds another entry or
// nothing, and does nothing.
func (e *Engine) expire(userID string, u *userFlows, ent *entry) {
	cat := ent.state.Category
	u.mu.Lock()
	if u.dead || u.pending[cat] != ent {
		u.mu.Unlock()
		return
	}
	delete(u.pending, cat)
	st := ent.state.clone()
	e.unlock(userID, u)

	e.logger.Debug("pending flow expired", zap.String("user", userID), zap.String("category", string(cat)), zap.String("step", st.Step))
	if e.onExpire != nil {
		e.onExpire(userID, st)
	}
}

func (e *Engine) Get(userID string, cat Category) (State, bool) {
	u := e.lock(userID)
	defer e.unlock(userID, u)
	cur, ok := u.pending[cat]
	if !ok {
		return State{}, false
	}
	return cur.state.clone(), true
}

// Cancel is idempotent. Only the caller that actually removed the state
// sees true, so it doubles as a claim on the state.
func (e *Engine) Cancel(userID string, cat Category) bool {
	u := e.lock(userID)
	defer e.unlock(userID, u)
	cur, ok := u.pending[cat]
	if !ok {
		return false
	}
	cur.timer.Stop()
	delete(u.pending, cat)
	return true
}

// CancelAll drops every pending state of the user at once and reports how
// many there were.
func (e *Engine) CancelAll(userID string) int {
	u := e.lock(userID)
	defer e.unlock(userID, u)
	n := len(u.pending)
	for cat, cur := range u.pending {
		cur.timer.Stop()
		delete(u.pending, cat)
	}
	return n
}

// Route returns the pending state that claims a free-text message, by
// Precedence.
func (e *Engine) Route(userID string) (State, bool) {
	u := e.lock(userID)
	defer e.unlock(userID, u)
	for _, cat := range Precedence {
		if cur, ok := u.pending[cat]; ok {
			return cur.state.clone(), true
		}
	}
	return State{}, false
}

// Users reports how many users have pending states.
func (e *Engine) Users() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.users)
}

// Close stops every timer. Pending states are dropped without expiry hooks.
func (e *Engine) Close() {
	e.mu.Lock()
	users := e.users
	e.users = map[string]*userFlows{}
	e.mu.Unlock()
	for _, u := range users {
		u.mu.Lock()
		for cat, cur := range u.pending {
			cur.timer.Stop()
			delete(u.pending, cat)
		}
		u.dead = true
		u.mu.Unlock()
	}
}
