package storage

import "github.com/RichardKnop/storagebackend/pkg/objectid"

// sessionTable is the backend-shared bookkeeping for long-lived read
// sessions: a 96-bit session id mapped to whatever frozen view that
// backend pins a session to (a *TransactionState for the file
// backend, a *Transaction for the memory/KV backends). Sessions
// outlive the call that created them and are only ever removed
// explicitly or on backend Close, per spec.md's Ownership & lifecycle
// section.
type sessionTable[T any] struct {
	byID map[objectid.ID]T
}

func newSessionTable[T any]() sessionTable[T] {
	return sessionTable[T]{byID: make(map[objectid.ID]T)}
}

func (t *sessionTable[T]) set(id objectid.ID, state T) {
	t.byID[id] = state
}

func (t *sessionTable[T]) get(id objectid.ID) (T, bool) {
	state, ok := t.byID[id]
	return state, ok
}

func (t *sessionTable[T]) remove(id objectid.ID) {
	delete(t.byID, id)
}

func (t *sessionTable[T]) len() int {
	return len(t.byID)
}

func (t *sessionTable[T]) clear() {
	t.byID = make(map[objectid.ID]T)
}
