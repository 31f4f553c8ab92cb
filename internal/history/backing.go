package history

import "sync"

// Backing is the keyed map a Store keeps its conversations in. It only needs
// to be safe for concurrent use; per-conversation consistency is handled by
// the Store.
type Backing interface {
	LoadOrStore(key string, value *Conversation) (actual *Conversation, loaded bool)
	Load(key string) (*Conversation, bool)
	Range(fn func(key string, value *Conversation) bool)
}

type syncMapBacking struct {
	m sync.Map
}

// NewSyncMapBacking returns the default Backing built on sync.Map.
func NewSyncMapBacking() Backing {
	return &syncMapBacking{}
}

func (b *syncMapBacking) LoadOrStore(key string, value *Conversation) (*Conversation, bool) {
	v, loaded := b.m.LoadOrStore(key, value)
	return v.(*Conversation), loaded
}

func (b *syncMapBacking) Load(key string) (*Conversation, bool) {
	v, ok := b.m.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Conversation), true
}

func (b *syncMapBacking) Range(fn func(key string, value *Conversation) bool) {
	b.m.Range(func(k, v any) bool {
		return fn(k.(string), v.(*Conversation))
	})
}
