package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"homesched/internal/codec"
)

type feedDoc struct {
	Schedules []Schedule `json:"schedules"`
}

// LoadFeed reads a schedule feed file. The file holds either a top-level
// list or an object with a "schedules" list, in YAML or JSON.
func LoadFeed(path string) ([]Schedule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFeed(path, b)
}

// ParseFeed decodes feed bytes; path only selects the format.
func ParseFeed(path string, data []byte) ([]Schedule, error) {
	jb, err := codec.ToJSON(path, data)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(jb)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var list []Schedule
	if trimmed[0] == '[' {
		if err := codec.DecodeStrict(".json", trimmed, &list); err != nil {
			return nil, fmt.Errorf("schedule feed: %w", err)
		}
	} else {
		var doc feedDoc
		if err := codec.DecodeStrict(".json", trimmed, &doc); err != nil {
			return nil, fmt.Errorf("schedule feed: %w", err)
		}
		list = doc.Schedules
	}

	seen := make(map[ID]struct{}, len(list))
	for _, s := range list {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("schedule feed: %w", err)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("schedule feed: duplicate id %s", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return list, nil
}

// Changes is the difference between two feed snapshots.
type Changes struct {
	// Upserted holds schedules that are new or whose record changed.
	Upserted []Schedule
	// Removed holds ids no longer present.
	Removed []ID
}

func (c Changes) Empty() bool { return len(c.Upserted) == 0 && len(c.Removed) == 0 }

// Diff compares two feed snapshots. Output order follows next for upserts
// and is sorted for removals.
func Diff(prev, next []Schedule) Changes {
	old := make(map[ID]Schedule, len(prev))
	for _, s := range prev {
		old[s.ID] = s
	}
	var ch Changes
	present := make(map[ID]struct{}, len(next))
	for _, s := range next {
		present[s.ID] = struct{}{}
		if o, ok := old[s.ID]; ok && o == s {
			continue
		}
		ch.Upserted = append(ch.Upserted, s)
	}
	for id := range old {
		if _, ok := present[id]; !ok {
			ch.Removed = append(ch.Removed, id)
		}
	}
	sort.Slice(ch.Removed, func(i, j int) bool { return ch.Removed[i] < ch.Removed[j] })
	return ch
}

// Hash returns a content hash used to skip no-op reloads.
func Hash(list []Schedule) uint64 {
	b, err := json.Marshal(list)
	if err != nil {
		return 0
	}
	return fnv64a(b)
}
