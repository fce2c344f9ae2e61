// Package leaderboard tracks durable per-council, per-backend performance
// records updated after each deliberation: win counts, participation
// counts, a bounded window of recent finishing positions, and per-criterion
// score windows.
package leaderboard

import (
	"sort"
	"sync"
)

const positionWindowCapacity = 50

// Entry is one (council, backend) performance record.
type Entry struct {
	BackendID        string
	Wins             int
	Participations   int
	CumulativeScore  float64
	Positions        []int
	RubricScores     map[string][]float64
}

// clone deep-copies an Entry so snapshots can't be mutated by a caller.
func (e Entry) clone() Entry {
	out := e
	out.Positions = append([]int(nil), e.Positions...)
	if e.RubricScores != nil {
		out.RubricScores = make(map[string][]float64, len(e.RubricScores))
		for k, v := range e.RubricScores {
			out.RubricScores[k] = append([]float64(nil), v...)
		}
	}
	return out
}

// AvgPosition is the mean of the bounded position window.
func (e Entry) AvgPosition() float64 {
	if len(e.Positions) == 0 {
		return 0
	}
	sum := 0
	for _, p := range e.Positions {
		sum += p
	}
	return float64(sum) / float64(len(e.Positions))
}

// WinRate is wins/participations * 100.
func (e Entry) WinRate() float64 {
	if e.Participations == 0 {
		return 0
	}
	return float64(e.Wins) / float64(e.Participations) * 100
}

// AvgScore is cumulative_score/participations.
func (e Entry) AvgScore() float64 {
	if e.Participations == 0 {
		return 0
	}
	return e.CumulativeScore / float64(e.Participations)
}

// AvgRubricScores is the mean of each criterion's bounded window.
func (e Entry) AvgRubricScores() map[string]float64 {
	out := make(map[string]float64, len(e.RubricScores))
	for criterion, scores := range e.RubricScores {
		if len(scores) == 0 {
			continue
		}
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		out[criterion] = sum / float64(len(scores))
	}
	return out
}

// Snapshot is an immutable, per-council copy of the leaderboard, passed by
// value into the Router so it can read standings without a live dependency
// on the Leaderboard itself.
type Snapshot struct {
	CouncilID string
	Entries   map[string]Entry // backend id -> entry
}

// Entry looks up one backend's entry within the snapshot.
func (s Snapshot) Entry(backendID string) (Entry, bool) {
	e, ok := s.Entries[backendID]
	return e, ok
}

// Leaderboard is the in-memory cache of every council's entries, guarded by
// one mutex for the duration of a write, backed by a Store for durable,
// last-writer-wins persistence.
type Leaderboard struct {
	mu    sync.Mutex
	store *Store
	data  map[string]map[string]*Entry // council id -> backend id -> entry
}

// New creates a Leaderboard backed by store. It reads nothing itself: a
// council's records are loaded by Load or on that council's first use.
func New(store *Store) *Leaderboard {
	return &Leaderboard{store: store, data: make(map[string]map[string]*Entry)}
}

// Load hydrates the in-memory cache for one council from the store; call
// once per council before its first Router/RecordResult use, or lazily on
// first touch.
func (l *Leaderboard) Load(councilID string) error {
	entries, err := l.store.LoadCouncil(councilID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	council := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		ec := e
		council[e.BackendID] = &ec
	}
	l.data[councilID] = council
	return nil
}

// ensureLoaded lazily loads a council's entries on first touch, so callers
// don't have to sequence an explicit Load before RecordResult/Snapshot.
func (l *Leaderboard) ensureLoaded(councilID string) {
	if _, ok := l.data[councilID]; ok {
		return
	}
	entries, err := l.store.LoadCouncil(councilID)
	if err != nil {
		// A transient load failure degrades to an empty leaderboard for
		// this council rather than failing the whole request.
		l.data[councilID] = make(map[string]*Entry)
		return
	}
	council := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		ec := e
		council[e.BackendID] = &ec
	}
	l.data[councilID] = council
}

// RecordResult applies the per-record update protocol for one finished
// deliberation: sort by score descending for positions,
// increment participations/cumulative_score/wins, append to the bounded
// windows, and persist via the store. rubricScores is optional
// backend->criterion->score, recorded only for backends it names.
func (l *Leaderboard) RecordResult(councilID string, scores map[string]float64, winnerBackendID string, rubricScores map[string]map[string]float64) error {
	l.mu.Lock()
	l.ensureLoaded(councilID)
	council := l.data[councilID]

	type scored struct {
		backendID string
		score     float64
	}
	ranked := make([]scored, 0, len(scores))
	for backendID, score := range scores {
		ranked = append(ranked, scored{backendID, score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var toPersist []Entry
	for position, r := range ranked {
		e, ok := council[r.backendID]
		if !ok {
			e = &Entry{BackendID: r.backendID, RubricScores: make(map[string][]float64)}
			council[r.backendID] = e
		}
		e.Participations++
		e.CumulativeScore += r.score
		e.Positions = append(e.Positions, position+1)
		if len(e.Positions) > positionWindowCapacity {
			e.Positions = e.Positions[len(e.Positions)-positionWindowCapacity:]
		}
		if r.backendID == winnerBackendID {
			e.Wins++
		}
		if criteria, ok := rubricScores[r.backendID]; ok {
			if e.RubricScores == nil {
				e.RubricScores = make(map[string][]float64)
			}
			for criterion, score := range criteria {
				e.RubricScores[criterion] = append(e.RubricScores[criterion], score)
				if len(e.RubricScores[criterion]) > positionWindowCapacity {
					e.RubricScores[criterion] = e.RubricScores[criterion][len(e.RubricScores[criterion])-positionWindowCapacity:]
				}
			}
		}
		toPersist = append(toPersist, e.clone())
	}
	l.mu.Unlock()

	return l.store.Upsert(councilID, toPersist)
}

// Snapshot returns an immutable copy of one council's standings, safe to
// pass to the Router without holding the leaderboard's mutex.
func (l *Leaderboard) Snapshot(councilID string) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded(councilID)

	entries := make(map[string]Entry, len(l.data[councilID]))
	for backendID, e := range l.data[councilID] {
		entries[backendID] = e.clone()
	}
	return Snapshot{CouncilID: councilID, Entries: entries}
}

// Rankings returns one council's entries sorted by win rate descending.
func (l *Leaderboard) Rankings(councilID string) []Entry {
	snap := l.Snapshot(councilID)
	out := make([]Entry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].WinRate() > out[j].WinRate() })
	return out
}
