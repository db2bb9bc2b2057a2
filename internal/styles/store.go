package styles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"vibestyler/internal/kv"
	"vibestyler/internal/logging"
)

// BlobKey is the kv key holding the serialized origin→SiteEntry mapping.
const BlobKey = "vibeStylerStyles"

var (
	// ErrNotFound is returned when a referenced style id is absent.
	ErrNotFound = errors.New("style not found")
	// ErrStorage wraps every failure of the underlying persistence primitive.
	ErrStorage = errors.New("storage failure")
	// ErrIDCollision means a freshly issued id already exists for the origin.
	ErrIDCollision = errors.New("style id collision")
)

// Store is the per-origin style store.
//
// Every origin lives in one blob, and each write is a single kv.Update of
// that blob. That backend round trip is the linearization point for all
// origins, so writers in other processes sharing the backend cannot lose an
// update either. commitMu only queues this process's writers ahead of the
// backend and is never held across generation or page calls.
type Store struct {
	kv       kv.Store
	logger   *zap.Logger
	commitMu sync.Mutex
	ids      *idClock
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used to issue style ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.ids = newIDClock(now) }
}

// New creates a Store over backend.
func New(backend kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:  backend,
		ids: newIDClock(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Or(s.logger, logging.CategoryStore)
	return s
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func (s *Store) load(ctx context.Context) (map[string]*SiteEntry, error) {
	raw, found, err := s.kv.Get(ctx, BlobKey)
	if err != nil {
		return nil, storageErr("get", err)
	}
	return decode(raw, found)
}

func decode(raw []byte, found bool) (map[string]*SiteEntry, error) {
	all := make(map[string]*SiteEntry)
	if !found || len(raw) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, storageErr("decode", err)
	}
	for origin, e := range all {
		if e == nil {
			delete(all, origin)
		}
	}
	return all, nil
}

func encode(all map[string]*SiteEntry) ([]byte, error) {
	for _, e := range all {
		if e.Styles == nil {
			e.Styles = []StyleRecord{}
		}
	}
	raw, err := json.Marshal(all)
	if err != nil {
		return nil, storageErr("encode", err)
	}
	return raw, nil
}

// mutate runs fn against the mapping as read inside one kv.Update, and the
// mapping is written back only when fn reports dirty. fn may run more than
// once if the backend retries, so it must derive everything from all.
func (s *Store) mutate(ctx context.Context, fn func(all map[string]*SiteEntry) (dirty bool, err error)) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	var inner error
	err := s.kv.Update(ctx, BlobKey, func(raw []byte, found bool) ([]byte, bool, error) {
		next, write, err := apply(raw, found, fn)
		inner = err
		return next, write, err
	})
	if inner != nil {
		return inner
	}
	if err != nil {
		return storageErr("update", err)
	}
	return nil
}

func apply(raw []byte, found bool, fn func(all map[string]*SiteEntry) (bool, error)) ([]byte, bool, error) {
	all, err := decode(raw, found)
	if err != nil {
		return nil, false, err
	}
	dirty, err := fn(all)
	if err != nil || !dirty {
		return nil, false, err
	}
	next, err := encode(all)
	if err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// GetSite returns the entry for origin, or an empty entry when none exists.
func (s *Store) GetSite(ctx context.Context, origin string) (SiteEntry, error) {
	all, err := s.load(ctx)
	if err != nil {
		return SiteEntry{Styles: []StyleRecord{}}, err
	}
	e, ok := all[origin]
	if !ok {
		return SiteEntry{Styles: []StyleRecord{}}, nil
	}
	return e.clone(), nil
}

// AppendStyle records a new style for origin and makes it the active one.
func (s *Store) AppendStyle(ctx context.Context, origin, prompt, css string) (StyleRecord, error) {
	var rec StyleRecord
	err := s.mutate(ctx, func(all map[string]*SiteEntry) (bool, error) {
		e, ok := all[origin]
		if !ok {
			e = &SiteEntry{Styles: []StyleRecord{}}
			all[origin] = e
		}
		id := s.ids.next(e.maxID())
		if _, dup := e.Find(id); dup {
			return false, fmt.Errorf("%w: %d for %s", ErrIDCollision, id, origin)
		}
		rec = StyleRecord{ID: id, Prompt: prompt, CSS: css}
		e.Styles = append(e.Styles, rec)
		e.ActiveStyleID = IDPtr(id)
		return true, nil
	})
	if err != nil {
		return StyleRecord{}, err
	}
	s.logger.Debug("style appended",
		zap.String("origin", origin),
		zap.Int64("style_id", rec.ID),
		zap.Int("css_len", len(css)))
	return rec, nil
}

// SetActive marks id as the active style for origin and returns the record
// it selected, as read in the same update; nil clears it and returns the
// zero record. A non-nil id that is not among the origin's styles yields
// ErrNotFound.
func (s *Store) SetActive(ctx context.Context, origin string, id *int64) (StyleRecord, error) {
	var rec StyleRecord
	err := s.mutate(ctx, func(all map[string]*SiteEntry) (bool, error) {
		rec = StyleRecord{}
		e, ok := all[origin]
		if id == nil {
			if !ok || e.ActiveStyleID == nil {
				return false, nil
			}
			e.ActiveStyleID = nil
			return true, nil
		}
		if !ok {
			return false, fmt.Errorf("%w: %d for %s", ErrNotFound, *id, origin)
		}
		found, ok := e.Find(*id)
		if !ok {
			return false, fmt.Errorf("%w: %d for %s", ErrNotFound, *id, origin)
		}
		rec = found
		if e.ActiveStyleID != nil && *e.ActiveStyleID == *id {
			return false, nil
		}
		e.ActiveStyleID = IDPtr(*id)
		return true, nil
	})
	if err != nil {
		return StyleRecord{}, err
	}
	return rec, nil
}

// ClearActive is SetActive(origin, nil).
func (s *Store) ClearActive(ctx context.Context, origin string) error {
	_, err := s.SetActive(ctx, origin, nil)
	return err
}

// DeleteSite removes origin and all its styles. deleted is false when there
// was nothing to delete.
func (s *Store) DeleteSite(ctx context.Context, origin string) (deleted bool, err error) {
	err = s.mutate(ctx, func(all map[string]*SiteEntry) (bool, error) {
		if _, deleted = all[origin]; !deleted {
			return false, nil
		}
		delete(all, origin)
		return true, nil
	})
	return deleted, err
}

// DeleteAll removes the whole store blob.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if err := s.kv.Remove(ctx, BlobKey); err != nil {
		return storageErr("remove", err)
	}
	s.logger.Info("all styles cleared")
	return nil
}

// Sites lists every stored origin, sorted by origin.
func (s *Store) Sites(ctx context.Context) ([]Site, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	sites := make([]Site, 0, len(all))
	for origin, e := range all {
		sites = append(sites, Site{Origin: origin, Entry: e.clone()})
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Origin < sites[j].Origin })
	return sites, nil
}
