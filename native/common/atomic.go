package common

// Snapshotter is implemented by journaled state backends. RevertToSnapshot
// discards every write performed after the matching Snapshot call.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

// Atomic runs fn against s and reverts every write fn performed when it
// returns an error or panics. A nil snapshotter runs fn unguarded.
func Atomic(s Snapshotter, fn func() error) (err error) {
	if s == nil {
		return fn()
	}
	id := s.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.RevertToSnapshot(id)
			panic(r)
		}
		if err != nil {
			s.RevertToSnapshot(id)
		}
	}()
	return fn()
}
