package crawler

// Frontier is the FIFO queue of URLs still to crawl plus the visited set.
// It is owned by a single engine loop and is not safe for concurrent use.
type Frontier struct {
	queue   []FrontierEntry
	head    int
	queued  map[string]struct{}
	visited map[string]struct{}
}

// NewFrontier returns an empty Frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
}

// RestoreFrontier rebuilds a Frontier from a persisted snapshot.
func RestoreFrontier(state FrontierState) *Frontier {
	f := NewFrontier()
	for _, v := range state.Visited {
		f.visited[Normalize(v)] = struct{}{}
	}
	for _, e := range state.Queue {
		f.Enqueue(e.URL, e.Depth)
	}
	return f
}

// Enqueue normalizes url and appends it unless it is already visited or
// queued. It reports whether the URL was added.
func (f *Frontier) Enqueue(url string, depth int) bool {
	key := Normalize(url)
	if key == "" {
		return false
	}
	if _, ok := f.visited[key]; ok {
		return false
	}
	if _, ok := f.queued[key]; ok {
		return false
	}
	f.queued[key] = struct{}{}
	f.queue = append(f.queue, FrontierEntry{URL: key, Depth: depth})
	return true
}

// Dequeue pops the oldest entry.
func (f *Frontier) Dequeue() (FrontierEntry, bool) {
	if f.head >= len(f.queue) {
		return FrontierEntry{}, false
	}
	entry := f.queue[f.head]
	f.queue[f.head] = FrontierEntry{}
	f.head++
	delete(f.queued, entry.URL)
	if f.head > 1024 && f.head*2 > len(f.queue) {
		f.queue = append([]FrontierEntry(nil), f.queue[f.head:]...)
		f.head = 0
	}
	return entry, true
}

// MarkVisited records url as processed for the rest of the run.
func (f *Frontier) MarkVisited(url string) {
	f.visited[Normalize(url)] = struct{}{}
}

// IsVisited reports whether url was already processed.
func (f *Frontier) IsVisited(url string) bool {
	_, ok := f.visited[Normalize(url)]
	return ok
}

// IsQueued reports whether url is waiting in the queue.
func (f *Frontier) IsQueued(url string) bool {
	_, ok := f.queued[Normalize(url)]
	return ok
}

// Len returns the number of queued entries.
func (f *Frontier) Len() int {
	return len(f.queue) - f.head
}

// VisitedCount returns the size of the visited set.
func (f *Frontier) VisitedCount() int {
	return len(f.visited)
}

// Snapshot captures the queue and visited set for persistence.
func (f *Frontier) Snapshot() FrontierState {
	state := FrontierState{
		Queue:   append([]FrontierEntry(nil), f.queue[f.head:]...),
		Visited: make([]string, 0, len(f.visited)),
	}
	for k := range f.visited {
		state.Visited = append(state.Visited, k)
	}
	return state
}

// Requeue puts an entry that was dequeued but never processed back at the
// front of the queue and clears its visited mark.
func (f *Frontier) Requeue(entry FrontierEntry) {
	key := Normalize(entry.URL)
	delete(f.visited, key)
	if _, ok := f.queued[key]; ok {
		return
	}
	entry.URL = key
	f.queued[key] = struct{}{}
	if f.head > 0 {
		f.head--
		f.queue[f.head] = entry
		return
	}
	f.queue = append([]FrontierEntry{entry}, f.queue...)
}

// RebuildFrontier reconstructs a frontier from recorded pages when a paused
// run carries no snapshot. Recorded URLs count as visited and their internal
// links are re-enqueued within maxDepth.
func RebuildFrontier(run AuditRun, maxDepth int) *Frontier {
	f := NewFrontier()
	for _, p := range run.Pages {
		f.MarkVisited(p.URL)
	}
	f.Enqueue(run.BaseURL, 0)
	for _, p := range run.Pages {
		if maxDepth > 0 && p.CrawlDepth >= maxDepth {
			continue
		}
		for _, link := range p.InternalLinks {
			f.Enqueue(link.URL, p.CrawlDepth+1)
		}
	}
	return f
}
