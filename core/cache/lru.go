package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	// Size bounds the number of entries. Defaults to 128.
	Size int
	// TTL is the default lifetime of an entry. Zero means entries do not expire.
	TTL time.Duration
}

type entry struct {
	key       string
	val       any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type getReq struct {
	key  string
	resp chan getResp
}

type getResp struct {
	val any
	ok  bool
}

type putReq struct {
	key string
	val any
	ttl time.Duration
}

// LRU is a size-bounded cache. A single goroutine owns the list and the map;
// callers talk to it over channels.
type LRU struct {
	ttl    time.Duration
	getCh  chan getReq
	putCh  chan putReq
	delCh  chan string
	lenCh  chan chan int
	closed chan struct{}
	once   sync.Once
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}

	l := &LRU{
		ttl:    opts.TTL,
		getCh:  make(chan getReq),
		putCh:  make(chan putReq),
		delCh:  make(chan string),
		lenCh:  make(chan chan int),
		closed: make(chan struct{}),
	}
	go l.run(opts.Size)
	return l
}

func (L *LRU) Get(key string) (any, bool) {
	if L.isClosed() {
		return nil, false
	}
	resp := make(chan getResp, 1)
	select {
	case L.getCh <- getReq{key: key, resp: resp}:
	case <-L.closed:
		return nil, false
	}
	r := <-resp
	return r.val, r.ok
}

func (L *LRU) Put(key string, val any, opts ...PutOption) {
	ttl := newPutOptions(opts...).TTL
	if ttl == 0 {
		ttl = L.ttl
	}
	select {
	case L.putCh <- putReq{key: key, val: val, ttl: ttl}:
	case <-L.closed:
	}
}

func (L *LRU) Delete(key string) {
	select {
	case L.delCh <- key:
	case <-L.closed:
	}
}

func (L *LRU) Len() int {
	if L.isClosed() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case L.lenCh <- resp:
		return <-resp
	case <-L.closed:
		return 0
	}
}

// Close stops the cache goroutine. Later calls are no-ops and Get misses.
func (L *LRU) Close() {
	L.once.Do(func() { close(L.closed) })
}

func (L *LRU) isClosed() bool {
	select {
	case <-L.closed:
		return true
	default:
		return false
	}
}

func (L *LRU) run(size int) {
	var (
		ll    = list.New()
		index = make(map[string]*list.Element)
	)

	remove := func(ele *list.Element) {
		ll.Remove(ele)
		delete(index, ele.Value.(*entry).key)
	}

	for {
		select {
		case <-L.closed:
			return

		case req := <-L.getCh:
			ele, ok := index[req.key]
			if ok && ele.Value.(*entry).expired(time.Now()) {
				remove(ele)
				ok = false
			}
			if !ok {
				req.resp <- getResp{}
				continue
			}
			ll.MoveToFront(ele)
			req.resp <- getResp{val: ele.Value.(*entry).val, ok: true}

		case req := <-L.putCh:
			var expiresAt time.Time
			if req.ttl > 0 {
				expiresAt = time.Now().Add(req.ttl)
			}
			if ele, ok := index[req.key]; ok {
				ll.MoveToFront(ele)
				e := ele.Value.(*entry)
				e.val, e.expiresAt = req.val, expiresAt
				continue
			}
			index[req.key] = ll.PushFront(&entry{key: req.key, val: req.val, expiresAt: expiresAt})
			if ll.Len() > size {
				remove(ll.Back())
			}

		case key := <-L.delCh:
			if ele, ok := index[key]; ok {
				remove(ele)
			}

		case resp := <-L.lenCh:
			resp <- ll.Len()
		}
	}
}

var _ Cache = (*LRU)(nil)
