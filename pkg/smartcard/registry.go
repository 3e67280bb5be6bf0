package smartcard

import "fmt"

// Reader is the application handle of a reader. The zero value is not a valid handle.
type Reader struct {
	id  ReaderID
	gen uint64
}

// ID returns the identifier issued by the secure element service.
func (r Reader) ID() ReaderID { return r.id }

func (r Reader) String() string { return fmt.Sprintf("reader#%d.%d", r.id, r.gen) }

// Session is the application handle of a session. The zero value is not a valid handle.
type Session struct {
	id  SessionID
	gen uint64
}

// ID returns the identifier issued by the secure element service.
func (s Session) ID() SessionID { return s.id }

func (s Session) String() string { return fmt.Sprintf("session#%d.%d", s.id, s.gen) }

// Channel is the application handle of a channel. The zero value is not a valid handle.
type Channel struct {
	id  ChannelID
	gen uint64
}

// ID returns the identifier issued by the secure element service.
func (c Channel) ID() ChannelID { return c.id }

func (c Channel) String() string { return fmt.Sprintf("channel#%d.%d", c.id, c.gen) }

type readerEntry struct {
	name     string
	sessions map[SessionID]struct{}
}

type sessionEntry struct {
	reader   ReaderID
	closed   bool
	channels map[ChannelID]struct{}
	// basic is the open basic channel, if any.
	basic    ChannelID
	hasBasic bool
}

type channelEntry struct {
	session        SessionID
	basic          bool
	number         uint8
	selectResponse []byte
	closed         bool
	transmitted    bool
}

type record[V any] struct {
	gen uint64
	val V
}

// table maps identifiers to generation-tagged entries.
type table[K comparable, V any] struct {
	m map[K]*record[V]
}

func (t *table[K, V]) register(id K, gen uint64, v V) *V {
	if t.m == nil {
		t.m = make(map[K]*record[V])
	}
	rec := &record[V]{gen: gen, val: v}
	t.m[id] = rec
	return &rec.val
}

func (t *table[K, V]) isMember(id K) bool {
	_, ok := t.m[id]
	return ok
}

// lookup resolves a handle. Generation 0 or an unknown id is ErrInvalidParameter,
// a generation mismatch (the id was reissued since) is ErrIllegalState.
func (t *table[K, V]) lookup(id K, gen uint64) (*V, error) {
	rec, ok := t.m[id]
	if !ok || gen == 0 {
		return nil, ErrInvalidParameter
	}
	if rec.gen != gen {
		return nil, ErrIllegalState
	}
	return &rec.val, nil
}

func (t *table[K, V]) get(id K) (*V, uint64, bool) {
	rec, ok := t.m[id]
	if !ok {
		return nil, 0, false
	}
	return &rec.val, rec.gen, true
}

// retag gives the entry of id a new generation, invalidating every handle issued for it.
func (t *table[K, V]) retag(id K, gen uint64) {
	if rec, ok := t.m[id]; ok {
		rec.gen = gen
	}
}

func (t *table[K, V]) unregister(id K) {
	delete(t.m, id)
}

func (t *table[K, V]) clear() {
	t.m = nil
}

// registry is the local knowledge of the handles issued by the backend.
// It is not safe for concurrent use; Service.mu guards it.
type registry struct {
	lastGen  uint64
	readers  table[ReaderID, readerEntry]
	sessions table[SessionID, sessionEntry]
	channels table[ChannelID, channelEntry]
}

func (r *registry) nextGen() uint64 {
	r.lastGen++
	return r.lastGen
}

// registerReader is idempotent: a known reader keeps its handle.
func (r *registry) registerReader(id ReaderID) Reader {
	if _, gen, ok := r.readers.get(id); ok {
		return Reader{id: id, gen: gen}
	}
	gen := r.nextGen()
	r.readers.register(id, gen, readerEntry{sessions: make(map[SessionID]struct{})})
	return Reader{id: id, gen: gen}
}

// registerSession records a session opened on reader. A reissued id replaces the old
// sentinel; its channels stay behind closed, under a generation no handle carries.
func (r *registry) registerSession(id SessionID, reader ReaderID) Session {
	r.dropSession(id)

	gen := r.nextGen()
	r.sessions.register(id, gen, sessionEntry{
		reader:   reader,
		channels: make(map[ChannelID]struct{}),
	})
	if re, _, ok := r.readers.get(reader); ok {
		re.sessions[id] = struct{}{}
	}
	return Session{id: id, gen: gen}
}

func (r *registry) registerChannel(id ChannelID, session SessionID, info ChannelInfo, basic bool) Channel {
	r.dropChannel(id)

	gen := r.nextGen()
	r.channels.register(id, gen, channelEntry{
		session:        session,
		basic:          basic,
		number:         info.Number,
		selectResponse: clone(info.SelectResponse),
	})
	if se, _, ok := r.sessions.get(session); ok {
		se.channels[id] = struct{}{}
		if basic {
			se.basic = id
			se.hasBasic = true
		}
	}
	return Channel{id: id, gen: gen}
}

func (r *registry) dropSession(id SessionID) {
	se, _, ok := r.sessions.get(id)
	if !ok {
		return
	}
	for ch := range se.channels {
		r.markChannelClosed(ch)
		r.channels.retag(ch, r.nextGen())
	}
	if re, _, ok := r.readers.get(se.reader); ok {
		delete(re.sessions, id)
	}
	r.sessions.unregister(id)
}

func (r *registry) dropChannel(id ChannelID) {
	ce, _, ok := r.channels.get(id)
	if !ok {
		return
	}
	r.markChannelClosed(id)
	if se, _, ok := r.sessions.get(ce.session); ok {
		delete(se.channels, id)
	}
	r.channels.unregister(id)
}

func (r *registry) markChannelClosed(id ChannelID) {
	ce, _, ok := r.channels.get(id)
	if !ok || ce.closed {
		return
	}
	ce.closed = true
	if se, _, ok := r.sessions.get(ce.session); ok && se.hasBasic && se.basic == id {
		se.hasBasic = false
	}
}

// markSessionClosed closes the session and every channel opened under it.
func (r *registry) markSessionClosed(id SessionID) {
	se, _, ok := r.sessions.get(id)
	if !ok {
		return
	}
	se.closed = true
	for ch := range se.channels {
		r.markChannelClosed(ch)
	}
}

// markReaderClosed closes every session of the reader, transitively.
func (r *registry) markReaderClosed(id ReaderID) {
	re, _, ok := r.readers.get(id)
	if !ok {
		return
	}
	for s := range re.sessions {
		r.markSessionClosed(s)
	}
}

func (r *registry) openSessions(id ReaderID) []Session {
	re, _, ok := r.readers.get(id)
	if !ok {
		return nil
	}
	var out []Session
	for s := range re.sessions {
		if se, gen, ok := r.sessions.get(s); ok && !se.closed {
			out = append(out, Session{id: s, gen: gen})
		}
	}
	return out
}

func (r *registry) openChannels(id SessionID) []Channel {
	se, _, ok := r.sessions.get(id)
	if !ok {
		return nil
	}
	var out []Channel
	for ch := range se.channels {
		if ce, gen, ok := r.channels.get(ch); ok && !ce.closed {
			out = append(out, Channel{id: ch, gen: gen})
		}
	}
	return out
}

// clear forgets every handle. The generation counter keeps running so handles issued
// before the reset can never match a later registration.
func (r *registry) clear() {
	r.readers.clear()
	r.sessions.clear()
	r.channels.clear()
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
