package cache

type nop struct{}

// NewNop returns a Cache that stores nothing.
func NewNop() Cache { return nop{} }

func (nop) Get(string) (any, bool)         { return nil, false }
func (nop) Put(string, any, ...PutOption) {}
func (nop) Delete(string)                  {}
func (nop) Len() int                       { return 0 }
