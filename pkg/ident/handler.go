package ident

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type Strategy string

const (
	StrategyLong   Strategy = "long"
	StrategyString Strategy = "string"
	StrategyUUID   Strategy = "uuid"
)

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(s)); st {
	case StrategyLong, StrategyString, StrategyUUID:
		return st, nil
	default:
		return "", fmt.Errorf("%w: strategy %q", ErrUnsupported, s)
	}
}

// Branch is the part of a branch the allocator depends on.
type Branch interface {
	IsLocal() bool
}

// Counters are the allocator state persisted across restarts.
type Counters struct {
	LastObjectID      int64
	NextLocalObjectID int64
}

// InitialCounters are the counters of a newly created store.
var InitialCounters = Counters{LastObjectID: 0, NextLocalObjectID: math.MaxInt64}

// Parser turns the external representation of an id back into an ObjectID.
type Parser interface {
	CreateID(repr string) (ObjectID, error)
}

// Handler allocates and decodes object ids for one store.  Exactly one Handler is active per
// store for its whole lifetime.
type Handler interface {
	Parser
	Strategy() Strategy
	// NextID allocates a fresh id for an object created on branch.
	NextID(branch Branch) (ObjectID, error)
	Compare(a, b ObjectID) (int, error)
	IsLocal(id ObjectID) bool
	// AdjustLastObjectID ratchets the durable counter forward past id.
	AdjustLastObjectID(id ObjectID)
	Counters() Counters
	SetCounters(c Counters)
}

func NewHandler(strategy Strategy) (Handler, error) {
	switch strategy {
	case StrategyLong:
		return newCounterHandler(StrategyLong, Long), nil
	case StrategyString:
		return newCounterHandler(StrategyString, String), nil
	case StrategyUUID:
		return &uuidHandler{}, nil
	default:
		return nil, fmt.Errorf("%w: strategy %q", ErrUnsupported, strategy)
	}
}

// counterHandler allocates durable ids counting up from LastObjectID and local ids counting
// down from NextLocalObjectID.
type counterHandler struct {
	strategy Strategy
	newID    func(int64) ObjectID

	mu       sync.Mutex
	counters Counters
}

func newCounterHandler(strategy Strategy, mk func(int64) ObjectID) *counterHandler {
	return &counterHandler{
		strategy: strategy,
		newID:    mk,
		counters: InitialCounters,
	}
}

func (h *counterHandler) Strategy() Strategy {
	return h.strategy
}

func (h *counterHandler) NextID(branch Branch) (ObjectID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.counters.LastObjectID+1 >= h.counters.NextLocalObjectID {
		return Null, ErrExhausted
	}
	if branch.IsLocal() {
		id := h.counters.NextLocalObjectID
		h.counters.NextLocalObjectID--
		return h.newID(id), nil
	}
	h.counters.LastObjectID++
	return h.newID(h.counters.LastObjectID), nil
}

func (h *counterHandler) CreateID(repr string) (ObjectID, error) {
	if repr == "" {
		return Null, nil
	}
	if !digitLeading(repr) {
		return External(repr), nil
	}
	n, err := strconv.ParseInt(repr, 10, 64)
	if err != nil {
		return Null, fmt.Errorf("%w: %q: %s", ErrInvalidID, repr, err)
	}
	return h.newID(n), nil
}

func (h *counterHandler) Compare(a, b ObjectID) (int, error) {
	if a.kind == KindExternal || b.kind == KindExternal {
		return 0, fmt.Errorf("%w: unmapped external reference", ErrUnordered)
	}
	if a.kind == KindNull || b.kind == KindNull {
		return compareNull(a, b), nil
	}
	if a.kind != b.kind {
		return 0, fmt.Errorf("%w: %s and %s", ErrIncomparable, a.kind, b.kind)
	}
	switch {
	case a.num < b.num:
		return -1, nil
	case a.num > b.num:
		return 1, nil
	default:
		return 0, nil
	}
}

func (h *counterHandler) IsLocal(id ObjectID) bool {
	seq, ok := id.Seq()
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return seq > h.counters.NextLocalObjectID
}

func (h *counterHandler) AdjustLastObjectID(id ObjectID) {
	seq, ok := id.Seq()
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if seq > h.counters.LastObjectID && seq < h.counters.NextLocalObjectID {
		h.counters.LastObjectID = seq
	}
}

func (h *counterHandler) Counters() Counters {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counters
}

func (h *counterHandler) SetCounters(c Counters) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counters = c
}

// uuidHandler only accepts externally supplied ids.
type uuidHandler struct{}

func (*uuidHandler) Strategy() Strategy {
	return StrategyUUID
}

func (*uuidHandler) NextID(Branch) (ObjectID, error) {
	return Null, fmt.Errorf("%w: uuid ids are supplied by the caller", ErrUnsupported)
}

func (*uuidHandler) CreateID(repr string) (ObjectID, error) {
	if repr == "" {
		return Null, nil
	}
	u, err := uuid.Parse(repr)
	if err == nil {
		return UUID(u), nil
	}
	if strings.Contains(repr, ":") && !digitLeading(repr) {
		return External(repr), nil
	}
	return Null, fmt.Errorf("%w: %q: %s", ErrInvalidID, repr, err)
}

func (*uuidHandler) Compare(a, b ObjectID) (int, error) {
	if a.kind == KindNull && b.kind == KindNull {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: uuid", ErrUnordered)
}

func (*uuidHandler) IsLocal(ObjectID) bool {
	return false
}

func (*uuidHandler) AdjustLastObjectID(ObjectID) {}

func (*uuidHandler) Counters() Counters {
	return Counters{}
}

func (*uuidHandler) SetCounters(Counters) {}

// compareNull orders the null id before every other id.
func compareNull(a, b ObjectID) int {
	switch {
	case a.kind == KindNull && b.kind == KindNull:
		return 0
	case a.kind == KindNull:
		return -1
	default:
		return 1
	}
}
