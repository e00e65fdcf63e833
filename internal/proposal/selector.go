package proposal

// SelectNext returns the newest proposal whose status is exactly pending, or
// nil when nothing is eligible. Unknown-status legacy records are never
// selected: an ambiguous historical entry must not be silently re-applied.
func SelectNext(s *Store) (*Proposal, error) {
	list, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Status == StatusPending {
			return &list[i], nil
		}
	}
	return nil, nil
}

// CreateMaintenance creates an auto-generated maintenance proposal with the
// given title and payload command, unless a pending proposal already exists.
// It returns the new id and true when a proposal was created.
func CreateMaintenance(s *Store, title, command string) (string, bool, error) {
	pending, err := s.HasPending()
	if err != nil {
		return "", false, err
	}
	if pending {
		return "", false, nil
	}
	id, err := s.Create(title, command)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
