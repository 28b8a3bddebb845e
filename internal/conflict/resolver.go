package conflict

import (
	"sort"
	"sync"
	"time"

	"github.com/convoy-engine/convoy/pkg/models"
)

// Strategy selects the winning claim when concurrent mutations target the
// same versioned entity inside one resolution window.
type Strategy string

const (
	// StrategyPriority picks the claim with the highest task priority.
	StrategyPriority Strategy = "priority"
	// StrategyTimestamp picks the earliest claim.
	StrategyTimestamp Strategy = "timestamp"
	// StrategyVoting asks the active agents to vote; see VotingResolver.
	StrategyVoting Strategy = "voting"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyPriority, StrategyTimestamp, StrategyVoting:
		return true
	default:
		return false
	}
}

// Claim is one competing request to mutate a shared entity.
type Claim struct {
	// AgentID is the agent on whose behalf the mutation runs.
	AgentID string
	// Version is the entity version the claimant read.
	Version int64
	// Timestamp is when the claim was made.
	Timestamp time.Time
	// Priority is the priority of the task driving the mutation.
	Priority int
}

// Record describes one resolved conflict: the subject, the competing
// claims, the strategy used, and the winner. Records exist only for the
// life of the resolution and for metrics.
type Record struct {
	SubjectID  string
	Claims     []Claim
	Strategy   Strategy
	Winner     Claim
	ResolvedAt time.Time
}

// Electorate supplies the agents eligible to vote under StrategyVoting.
type Electorate func() []models.Agent

// Resolver picks a winner among competing claims.
type Resolver struct {
	strategy   Strategy
	electorate Electorate
}

// NewResolver creates a resolver. The electorate is only consulted for
// StrategyVoting and may be nil otherwise.
func NewResolver(strategy Strategy, electorate Electorate) *Resolver {
	if !strategy.Valid() {
		strategy = StrategyPriority
	}
	return &Resolver{strategy: strategy, electorate: electorate}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy { return r.strategy }

// Resolve picks the winning claim. With a single claim it wins outright.
func (r *Resolver) Resolve(subjectID string, claims []Claim) Record {
	rec := Record{
		SubjectID:  subjectID,
		Claims:     append([]Claim(nil), claims...),
		Strategy:   r.strategy,
		ResolvedAt: time.Now(),
	}
	if len(claims) == 0 {
		return rec
	}
	if len(claims) == 1 {
		rec.Winner = claims[0]
		return rec
	}

	switch r.strategy {
	case StrategyTimestamp:
		rec.Winner = earliest(claims)
	case StrategyVoting:
		rec.Winner = r.vote(claims)
	default:
		rec.Winner = byPriority(claims)
	}
	return rec
}

// byPriority picks the highest-priority claim; ties broken by earliest
// timestamp, then lowest agent ID for determinism.
func byPriority(claims []Claim) Claim {
	best := claims[0]
	for _, c := range claims[1:] {
		if c.Priority > best.Priority ||
			(c.Priority == best.Priority && c.Timestamp.Before(best.Timestamp)) ||
			(c.Priority == best.Priority && c.Timestamp.Equal(best.Timestamp) && c.AgentID < best.AgentID) {
			best = c
		}
	}
	return best
}

// earliest picks the oldest claim; ties broken by priority, then agent ID.
func earliest(claims []Claim) Claim {
	best := claims[0]
	for _, c := range claims[1:] {
		if c.Timestamp.Before(best.Timestamp) ||
			(c.Timestamp.Equal(best.Timestamp) && c.Priority > best.Priority) ||
			(c.Timestamp.Equal(best.Timestamp) && c.Priority == best.Priority && c.AgentID < best.AgentID) {
			best = c
		}
	}
	return best
}

// vote implements the voting strategy. The electorate is every registered
// agent whose status is idle or busy; each elector votes for the claim
// whose owning agent carries the lowest current load, breaking its own tie
// by highest claim priority. A strict majority wins; without one the
// resolver falls back to priority resolution.
func (r *Resolver) vote(claims []Claim) Claim {
	if r.electorate == nil {
		return byPriority(claims)
	}
	agents := r.electorate()
	loads := make(map[string]int, len(agents))
	var electors []models.Agent
	for _, a := range agents {
		loads[a.ID] = a.Load
		if a.Status.Assignable() {
			electors = append(electors, a)
		}
	}
	if len(electors) == 0 {
		return byPriority(claims)
	}

	// Deterministic claim ordering so every elector sees the same ballot.
	ballot := append([]Claim(nil), claims...)
	sort.Slice(ballot, func(i, j int) bool { return ballot[i].AgentID < ballot[j].AgentID })

	votes := make(map[string]int, len(ballot))
	for range electors {
		choice := ballot[0]
		for _, c := range ballot[1:] {
			cl, bl := loads[c.AgentID], loads[choice.AgentID]
			if cl < bl || (cl == bl && c.Priority > choice.Priority) {
				choice = c
			}
		}
		votes[choice.AgentID]++
	}

	for agentID, n := range votes {
		if n*2 > len(electors) {
			for _, c := range ballot {
				if c.AgentID == agentID {
					return c
				}
			}
		}
	}
	return byPriority(claims)
}

// Arbiter batches claims on the same subject inside a short resolution
// window and resolves them together. Callers block for at most the window
// length; the first claim on a subject opens its window.
type Arbiter struct {
	resolver *Resolver
	window   time.Duration

	mu      sync.Mutex
	pending map[string]*pendingSubject

	onResolved func(Record)
}

type pendingSubject struct {
	claims []Claim
	done   chan struct{}
	record Record
}

// NewArbiter creates an arbiter with the given resolution window.
func NewArbiter(resolver *Resolver, window time.Duration) *Arbiter {
	if window <= 0 {
		window = 2 * time.Millisecond
	}
	return &Arbiter{
		resolver: resolver,
		window:   window,
		pending:  make(map[string]*pendingSubject),
	}
}

// SetResolvedHook registers a callback invoked once per resolved conflict
// (only when two or more claims actually competed).
func (a *Arbiter) SetResolvedHook(fn func(Record)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onResolved = fn
}

// Arbitrate submits a claim for a subject and blocks until the subject's
// window closes. It returns true when the claim won (or was uncontested).
func (a *Arbiter) Arbitrate(subjectID string, claim Claim) (bool, Record) {
	a.mu.Lock()
	ps, ok := a.pending[subjectID]
	if !ok {
		ps = &pendingSubject{done: make(chan struct{})}
		a.pending[subjectID] = ps
		time.AfterFunc(a.window, func() { a.close(subjectID) })
	}
	ps.claims = append(ps.claims, claim)
	a.mu.Unlock()

	<-ps.done
	won := ps.record.Winner.AgentID == claim.AgentID &&
		ps.record.Winner.Timestamp.Equal(claim.Timestamp)
	return won, ps.record
}

// close resolves and publishes the window for a subject.
func (a *Arbiter) close(subjectID string) {
	a.mu.Lock()
	ps, ok := a.pending[subjectID]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.pending, subjectID)
	hook := a.onResolved
	a.mu.Unlock()

	ps.record = a.resolver.Resolve(subjectID, ps.claims)
	close(ps.done)
	if hook != nil && len(ps.claims) > 1 {
		hook(ps.record)
	}
}
