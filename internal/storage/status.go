package storage

import (
	"context"
	"errors"
)

// Status describes what a store is currently serving.
type Status struct {
	Records        int    `json:"records"`
	ActiveLink     string `json:"active_link,omitempty"`
	Kind           Kind   `json:"kind"`
	Indexed        bool   `json:"indexed"`
	DecodeFailures int64  `json:"decode_failures"`
}

type decodeCounter interface {
	DecodeFailures() int64
}

// Inspect reports record count, the active fallback link and records skipped
// as undecodable by any backend.
// An unavailable chain is reported with zero records, not as an error.
func Inspect(ctx context.Context, s Store) (Status, error) {
	st := Status{Kind: s.Kind()}
	var links []Store
	if idx, ok := s.(*IndexedStore); ok {
		st.Indexed = true
		links = append(links, idx)
		s = idx.Inner()
	}

	if c, ok := s.(*Chain); ok {
		name, active, err := c.Active(ctx)
		switch {
		case errors.Is(err, ErrStoreUnavailable):
			st.ActiveLink = "none"
		case err != nil:
			return st, err
		default:
			st.ActiveLink = name
			n, err := active.Count(ctx)
			if err != nil {
				return st, err
			}
			st.Records = n
		}
		for _, l := range c.links {
			links = append(links, l.store)
		}
	} else {
		n, err := s.Count(ctx)
		if err != nil {
			return st, err
		}
		st.Records = n
		links = append(links, s)
	}

	for _, l := range links {
		if dc, ok := l.(decodeCounter); ok {
			st.DecodeFailures += dc.DecodeFailures()
		}
	}
	return st, nil
}
