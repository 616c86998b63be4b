package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

type tagRow struct {
	domain.Tag
	seq    int64
	unique bool
}

// TagStore implements tagging.Store.
type TagStore struct {
	mu   sync.RWMutex
	rows map[string][]tagRow
	seq  int64
}

func NewTagStore() *TagStore {
	return &TagStore{rows: make(map[string][]tagRow)}
}

func (s *TagStore) Upsert(_ context.Context, tag domain.Tag) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[tag.SubjectID]
	for i := range rows {
		if rows[i].unique && rows[i].Label == tag.Label {
			if rows[i].Value == tag.Value {
				return false, nil
			}
			s.seq++
			rows[i].Value = tag.Value
			rows[i].CreatedAt = tag.CreatedAt
			rows[i].seq = s.seq
			return true, nil
		}
	}
	s.seq++
	s.rows[tag.SubjectID] = append(rows, tagRow{Tag: tag, seq: s.seq, unique: true})
	return true, nil
}

func (s *TagStore) Append(_ context.Context, tag domain.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.rows[tag.SubjectID] = append(s.rows[tag.SubjectID], tagRow{Tag: tag, seq: s.seq})
	return nil
}

func (s *TagStore) Current(_ context.Context, subjectID, label string) (*domain.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *tagRow
	for i, r := range s.rows[subjectID] {
		if r.Label != label {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) ||
			(r.CreatedAt.Equal(best.CreatedAt) && r.seq > best.seq) {
			best = &s.rows[subjectID][i]
		}
	}
	if best == nil {
		return nil, nil
	}
	t := best.Tag
	return &t, nil
}

func (s *TagStore) ForSubject(_ context.Context, subjectID string) ([]domain.Tag, error) {
	s.mu.RLock()
	rows := append([]tagRow(nil), s.rows[subjectID]...)
	s.mu.RUnlock()
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].seq < rows[j].seq
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	out := make([]domain.Tag, len(rows))
	for i, r := range rows {
		out[i] = r.Tag
	}
	return out, nil
}

func (s *TagStore) SubjectsWithTag(_ context.Context, label string, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for subject, rows := range s.rows {
		for _, r := range rows {
			if r.Label == label && !r.CreatedAt.Before(since) {
				out = append(out, subject)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *TagStore) Remove(_ context.Context, subjectID, label string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[subjectID]
	kept := rows[:0]
	removed := 0
	for _, r := range rows {
		if r.Label == label {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.rows[subjectID] = kept
	return removed, nil
}
