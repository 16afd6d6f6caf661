package memory

// Index is the set of shortcodes still retained in SentPosts. It only covers
// the last MaxSentPosts sends; the checkpoint is what bounds a resume walk.
type Index map[string]struct{}

func NewIndex(record *SyncRecord) Index {
	idx := make(Index, len(record.SentPosts))
	for _, entry := range record.SentPosts {
		idx[entry.Shortcode] = struct{}{}
	}
	return idx
}

func (idx Index) Contains(shortcode string) bool {
	_, ok := idx[shortcode]
	return ok
}

// SentShortcodes returns the index for entity.
func (s *Store) SentShortcodes(entity string) (Index, error) {
	record, err := s.Load(entity)
	if err != nil {
		return nil, err
	}
	return NewIndex(record), nil
}
