// Package zset implements the in-memory sorted-set index of the
// store. A Set keeps its members indexed by key for lookup and
// simultaneously ordered by score for rank and range queries, with the
// semantics of the ZADD/ZRANGE/ZRANGEBYSCORE/ZINCRBY/ZREM command
// family. Sets are not safe for concurrent use; each instance belongs
// to a single worker.
package zset

import (
	"github.com/cespare/xxhash/v2"
)

// Entry is a single member of a Set: key bytes, a precomputed key hash
// and a score. Entries are linked into the set's score-ordered list,
// so an Entry belongs to exactly one Set at a time.
type Entry struct {
	key   []byte
	hash  uint64
	score float64

	prev, next *Entry
}

func newEntry(key []byte, score float64) *Entry {
	k := append([]byte(nil), key...)
	return &Entry{key: k, hash: xxhash.Sum64(k), score: score}
}

// Key returns the member key.
func (e *Entry) Key() []byte { return e.key }

// Hash returns the precomputed hash of the member key.
func (e *Entry) Hash() uint64 { return e.hash }

// Score returns the current score.
func (e *Entry) Score() float64 { return e.score }

// Set is a sorted set. The zero value is not usable; create instances
// with New.
type Set struct {
	dict map[string]*Entry
	head *Entry
	tail *Entry
}

// New creates an empty sorted set.
func New() *Set {
	return &Set{dict: make(map[string]*Entry)}
}

// Len returns the number of members.
func (s *Set) Len() int { return len(s.dict) }

// Empty reports whether the set has no members.
func (s *Set) Empty() bool { return len(s.dict) == 0 }

// Clear removes all members.
func (s *Set) Clear() {
	s.dict = make(map[string]*Entry)
	s.head, s.tail = nil, nil
}

// Insert adds a new member and returns true. It returns false without
// changes if the key already exists.
func (s *Set) Insert(key []byte, score float64) bool {
	if _, ok := s.dict[string(key)]; ok {
		return false
	}
	e := newEntry(key, score)
	s.insertOrdered(e)
	s.dict[string(e.key)] = e
	return true
}

// AddIfAbsent inserts every member whose key does not exist yet and
// returns the number of members actually added.
func (s *Set) AddIfAbsent(members map[string]float64) int {
	added := 0
	for key, score := range members {
		if s.Insert([]byte(key), score) {
			added++
		}
	}
	return added
}

// UpdateIfPresent replaces the score of every member whose key exists,
// re-ordering it in the list, and returns the number updated.
func (s *Set) UpdateIfPresent(members map[string]float64) int {
	updated := 0
	for key, score := range members {
		if e, ok := s.dict[key]; ok {
			s.reorder(e, score)
			updated++
		}
	}
	return updated
}

// Upsert inserts missing members and updates existing ones, returning
// the number of members touched.
func (s *Set) Upsert(members map[string]float64) int {
	touched := 0
	for key, score := range members {
		if e, ok := s.dict[key]; ok {
			s.reorder(e, score)
		} else {
			s.Insert([]byte(key), score)
		}
		touched++
	}
	return touched
}

// Increment adds delta to the member's score, creating the member with
// score delta if it does not exist, and returns the new score.
func (s *Set) Increment(key []byte, delta float64) float64 {
	if e, ok := s.dict[string(key)]; ok {
		s.reorder(e, e.score+delta)
		return e.score
	}
	s.Insert(key, delta)
	return delta
}

// RemoveKeys removes the members with the given keys and returns the
// number removed.
func (s *Set) RemoveKeys(keys ...[]byte) int {
	removed := 0
	for _, key := range keys {
		if e, ok := s.dict[string(key)]; ok {
			delete(s.dict, string(key))
			s.detach(e)
			removed++
		}
	}
	return removed
}

// RemoveEntries removes the given entries and returns the number
// removed. Entries that no longer belong to the set are skipped.
func (s *Set) RemoveEntries(entries ...*Entry) int {
	removed := 0
	for _, e := range entries {
		if cur, ok := s.dict[string(e.key)]; ok && cur == e {
			delete(s.dict, string(e.key))
			s.detach(e)
			removed++
		}
	}
	return removed
}

// RangeByRank returns the members with 0-based ascending ranks in
// [begin, end], both inclusive. Negative indices count from the end,
// -1 being the last member. A negative begin before the first member
// and an end past the last member are clamped; an inverted range or a
// begin past the last member yields nil.
func (s *Set) RangeByRank(begin, end int) []*Entry {
	n := len(s.dict)
	if n == 0 {
		return nil
	}

	if begin < 0 {
		begin += n
	}
	if begin < 0 {
		begin = 0
	}
	if end < 0 {
		end += n
	}
	if end < 0 || begin > end || begin >= n {
		return nil
	}
	if end >= n {
		end = n - 1
	}

	entries := make([]*Entry, 0, end-begin+1)
	rank := 0
	for e := s.head; e != nil; e, rank = e.next, rank+1 {
		if rank < begin {
			continue
		}
		if rank > end {
			break
		}
		entries = append(entries, e)
	}
	return entries
}

// RangeByScore returns up to limit members with min <= score <= max in
// score order. A limit of 0 means unlimited.
func (s *Set) RangeByScore(min, max float64, limit int) []*Entry {
	if s.head == nil || s.scoreOutOfRange(min, max) {
		return nil
	}
	if limit <= 0 {
		limit = len(s.dict)
	}

	var entries []*Entry
	for e := s.head; e != nil; e = e.next {
		if e.score < min {
			continue
		}
		if e.score > max {
			break
		}
		entries = append(entries, e)
		if len(entries) >= limit {
			break
		}
	}
	return entries
}

// CountByScore returns the number of members with min <= score <= max.
func (s *Set) CountByScore(min, max float64) int {
	if s.head == nil || s.scoreOutOfRange(min, max) {
		return 0
	}

	count := 0
	for e := s.head; e != nil; e = e.next {
		if e.score < min {
			continue
		}
		if e.score > max {
			break
		}
		count++
	}
	return count
}

// Rank returns the 0-based ascending rank of the member, or false if
// the key does not exist.
func (s *Set) Rank(key []byte) (int, bool) {
	e, ok := s.dict[string(key)]
	if !ok {
		return 0, false
	}
	rank := 0
	for cur := s.head; cur != e; cur = cur.next {
		rank++
	}
	return rank, true
}

// Score returns the member's score, or false if the key does not
// exist.
func (s *Set) Score(key []byte) (float64, bool) {
	if e, ok := s.dict[string(key)]; ok {
		return e.score, true
	}
	return 0, false
}

// Entry returns the member entry, or nil if the key does not exist.
func (s *Set) Entry(key []byte) *Entry {
	return s.dict[string(key)]
}

// reorder applies a score change: the entry is detached from the list,
// its score mutated and then re-inserted in order. Mutating the score
// of a linked entry would break the list ordering invariant.
func (s *Set) reorder(e *Entry, score float64) {
	s.detach(e)
	e.score = score
	s.insertOrdered(e)
}

// insertOrdered links the entry before the first member with a
// strictly greater score. Equal scores append after existing equals,
// keeping insertion stable.
func (s *Set) insertOrdered(e *Entry) {
	if s.head == nil || e.score < s.head.score {
		e.prev, e.next = nil, s.head
		if s.head != nil {
			s.head.prev = e
		} else {
			s.tail = e
		}
		s.head = e
		return
	}

	cur := s.head
	for cur.next != nil && cur.next.score <= e.score {
		cur = cur.next
	}
	e.prev, e.next = cur, cur.next
	if cur.next != nil {
		cur.next.prev = e
	} else {
		s.tail = e
	}
	cur.next = e
}

func (s *Set) detach(e *Entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

// scoreOutOfRange quickly rejects queries whose window cannot overlap
// the set's score range. The list is non-decreasing, so its endpoints
// are the extrema even in the presence of equal scores.
func (s *Set) scoreOutOfRange(min, max float64) bool {
	return min > s.tail.score || max < s.head.score
}
