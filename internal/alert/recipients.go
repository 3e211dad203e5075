package alert

import "sync"

// Recipients is the active chat set. Chats join through the bot command
// surface and leave when they block the bot.
type Recipients struct {
	mu  sync.Mutex
	set map[int64]struct{}
}

func NewRecipients() *Recipients {
	return &Recipients{set: make(map[int64]struct{})}
}

func (r *Recipients) Add(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set[chatID] = struct{}{}
}

func (r *Recipients) Remove(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.set, chatID)
}

func (r *Recipients) Contains(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[chatID]
	return ok
}

// List returns a copy of the active chat ids.
func (r *Recipients) List() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.set))
	for id := range r.set {
		out = append(out, id)
	}
	return out
}

func (r *Recipients) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.set)
}
