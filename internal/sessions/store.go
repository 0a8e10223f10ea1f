package sessions

import (
	"hash/fnv"
	"sync"
)

// shardCount balances lock granularity against footprint. Sessions hash evenly
// across shards so cross-session operations never contend on one mutex.
const shardCount = 32

// store is a sharded session map. Each shard carries its own RWMutex so
// concurrent creates and lookups on different sessions proceed in parallel;
// per-session state is still serialized by the session's own lock.
type store struct {
	shards [shardCount]shard
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newStore() *store {
	st := &store{}
	for i := range st.shards {
		st.shards[i].sessions = make(map[string]*session)
	}
	return st
}

func (st *store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &st.shards[h.Sum32()%shardCount]
}

// putIfAbsent inserts atomically and reports whether the id was free. This is
// the uniqueness check for concurrent session creation: exactly one caller
// wins, the rest observe false.
func (st *store) putIfAbsent(id string, s *session) bool {
	sh := st.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.sessions[id]; exists {
		return false
	}
	sh.sessions[id] = s
	return true
}

func (st *store) get(id string) (*session, bool) {
	sh := st.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

func (st *store) delete(id string) {
	sh := st.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.sessions, id)
}

// forEach visits every session. The shard lock is released before fn runs so
// callbacks may take session locks without holding up unrelated shards.
func (st *store) forEach(fn func(s *session)) {
	for i := range st.shards {
		sh := &st.shards[i]
		sh.mu.RLock()
		batch := make([]*session, 0, len(sh.sessions))
		for _, s := range sh.sessions {
			batch = append(batch, s)
		}
		sh.mu.RUnlock()
		for _, s := range batch {
			fn(s)
		}
	}
}

func (st *store) len() int {
	n := 0
	for i := range st.shards {
		sh := &st.shards[i]
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}
