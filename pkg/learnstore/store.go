package learnstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/harun/learnstate/internal/observability"
	"github.com/harun/learnstate/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "learnstate.store"

// Options configures a Store.
type Options struct {
	// Path of the JSON document backing the store.
	Path string

	// CreateIfMissing writes an empty document when Path does not exist.
	// When false a missing file is reported as ErrStorageUnavailable.
	CreateIfMissing bool

	// SerializeWrites holds a store-wide lock across load, mutate and save.
	// Without it two concurrent mutations can both load the same state and
	// the later save silently drops the earlier change.
	SerializeWrites bool

	// ValidateSchema checks every loaded document against DocumentSchema.
	ValidateSchema bool
}

// DefaultOptions returns options for path with serialized writes and schema validation.
func DefaultOptions(path string) Options {
	return Options{
		Path:            path,
		SerializeWrites: true,
		ValidateSchema:  true,
	}
}

// Store is a session store backed by one JSON file.
type Store struct {
	path   string
	opts   Options
	schema *gojsonschema.Schema
	mu     sync.Mutex
}

// New creates a Store for opts.Path.
func New(opts Options) (*Store, error) {
	observability.EnsureRegistered()

	if opts.Path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}

	s := &Store{
		path: path,
		opts: opts,
	}

	if opts.ValidateSchema {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(DocumentSchema))
		if err != nil {
			return nil, fmt.Errorf("failed to compile document schema: %w", err)
		}
		s.schema = schema
	}

	if opts.CreateIfMissing {
		if err := s.ensureFile(); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("path", path).
		Bool("create_if_missing", opts.CreateIfMissing).
		Bool("serialize_writes", opts.SerializeWrites).
		Msg("Session store initialized")

	return s, nil
}

// Path returns the absolute path of the backing file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) ensureFile() error {
	_, err := os.Stat(s.path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return storageError("stat", s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return storageError("mkdir", s.path, err)
	}
	if err := s.write(Document{}); err != nil {
		return err
	}
	log.Info().Str("path", s.path).Msg("Created empty session store")
	return nil
}

func (s *Store) lockWrites() func() {
	if !s.opts.SerializeWrites {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) begin(ctx context.Context, op, id string) (context.Context, trace.Span, zerolog.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	attrs := []attribute.KeyValue{attribute.String("store.path", s.path)}
	if id != "" {
		ctx = tracing.WithSessionID(ctx, id)
		attrs = append(attrs, attribute.String("session_id", id))
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "store."+op, attrs...)
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("op", op).Logger()
	return ctx, span, logger
}

func (s *Store) end(span trace.Span, logger zerolog.Logger, op string, err error) {
	observability.RecordStoreOperation(op, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrStorageUnavailable) {
			logger.Warn().Err(err).Msg("Session store unavailable")
		}
	}
	span.End()
}

// read loads and parses the backing file.
func (s *Store) read() (Document, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreLoad(time.Since(start))
	}()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && s.opts.CreateIfMissing {
			return Document{}, nil
		}
		return nil, storageError("read", s.path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, storageError("parse", s.path, err)
	}
	if doc == nil {
		return nil, storageError("parse", s.path, errors.New("document is not a JSON object"))
	}
	if s.schema != nil {
		if err := s.validate(data); err != nil {
			return nil, storageError("validate", s.path, err)
		}
	}

	observability.SetSessions(len(doc))
	return doc, nil
}

func (s *Store) validate(data []byte) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("document does not match schema: %s", strings.Join(msgs, "; "))
}

// write replaces the backing file with doc through a temp file and rename.
func (s *Store) write(doc Document) error {
	start := time.Now()
	defer func() {
		observability.RecordStoreSave(time.Since(start))
	}()

	if doc == nil {
		doc = Document{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return storageError("encode", s.path, err)
	}

	// Keep the mode of an existing file; other processes read it.
	mode := fs.FileMode(0600)
	if fi, err := os.Stat(s.path); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return storageError("write", s.path, err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return storageError("chmod", s.path, err)
	}

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return storageError("write", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return storageError("sync", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return storageError("write", s.path, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return storageError("rename", s.path, err)
	}

	observability.SetSessions(len(doc))
	return nil
}

// update loads the document, applies fn and saves only when fn reports a change.
func (s *Store) update(fn func(doc Document) (bool, error)) error {
	unlock := s.lockWrites()
	defer unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	changed, err := fn(doc)
	if err != nil || !changed {
		return err
	}
	return s.write(doc)
}

// Load reads the whole document.
func (s *Store) Load() (Document, error) {
	return s.LoadWithContext(context.Background())
}

// LoadWithContext reads the whole document with tracing context.
func (s *Store) LoadWithContext(ctx context.Context) (doc Document, err error) {
	_, span, logger := s.begin(ctx, "load", "")
	defer func() { s.end(span, logger, "load", err) }()

	doc, err = s.read()
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("sessions", len(doc)).Msg("Session store loaded")
	return doc, nil
}

// Save overwrites the backing file with doc.
func (s *Store) Save(doc Document) error {
	return s.SaveWithContext(context.Background(), doc)
}

// SaveWithContext overwrites the backing file with doc with tracing context.
func (s *Store) SaveWithContext(ctx context.Context, doc Document) (err error) {
	_, span, logger := s.begin(ctx, "save", "")
	defer func() { s.end(span, logger, "save", err) }()

	unlock := s.lockWrites()
	defer unlock()

	if err := s.write(doc); err != nil {
		return err
	}
	logger.Debug().Int("sessions", len(doc)).Msg("Session store saved")
	return nil
}

// SetInfo creates the session if needed and sets its info text.
func (s *Store) SetInfo(id, info string) error {
	return s.SetInfoWithContext(context.Background(), id, info)
}

// SetInfoWithContext creates the session if needed and sets its info text with tracing context.
func (s *Store) SetInfoWithContext(ctx context.Context, id, info string) (err error) {
	_, span, logger := s.begin(ctx, "set_info", id)
	defer func() { s.end(span, logger, "set_info", err) }()

	if err := validateSessionID(id); err != nil {
		return err
	}

	created := false
	err = s.update(func(doc Document) (bool, error) {
		rec, ok := doc.Lookup(id)
		if ok && rec.Info == info {
			return false, nil
		}
		if !ok {
			rec = NewRecord()
			created = true
		}
		rec.Info = info
		doc[id] = rec
		return true, nil
	})
	if err != nil {
		return err
	}

	logger.Info().Bool("created", created).Msg("Session info set")
	return nil
}

// DeleteSession removes the session. It returns ErrSessionNotFound when id is absent.
func (s *Store) DeleteSession(id string) error {
	return s.DeleteSessionWithContext(context.Background(), id)
}

// DeleteSessionWithContext removes the session with tracing context.
func (s *Store) DeleteSessionWithContext(ctx context.Context, id string) (err error) {
	_, span, logger := s.begin(ctx, "delete", id)
	defer func() { s.end(span, logger, "delete", err) }()


	err = s.update(func(doc Document) (bool, error) {
		if _, ok := doc.Lookup(id); !ok {
			return false, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		delete(doc, id)
		return true, nil
	})
	if err != nil {
		return err
	}

	logger.Info().Msg("Session deleted")
	return nil
}

// GetInfo returns the info text of the session, or "" when it does not exist.
func (s *Store) GetInfo(id string) (string, error) {
	return s.GetInfoWithContext(context.Background(), id)
}

// GetInfoWithContext returns the info text of the session with tracing context.
func (s *Store) GetInfoWithContext(ctx context.Context, id string) (info string, err error) {
	_, span, logger := s.begin(ctx, "get_info", id)
	defer func() { s.end(span, logger, "get_info", err) }()


	doc, err := s.read()
	if err != nil {
		return "", err
	}
	return doc.Get(id).Info, nil
}

// GetSubscribers returns the subscribers of the session in insertion order.
// found is false when the session does not exist, which is distinct from an
// existing session with no subscribers.
func (s *Store) GetSubscribers(id string) (subscribers []string, found bool, err error) {
	return s.GetSubscribersWithContext(context.Background(), id)
}

// GetSubscribersWithContext returns the subscribers of the session with tracing context.
func (s *Store) GetSubscribersWithContext(ctx context.Context, id string) (subscribers []string, found bool, err error) {
	_, span, logger := s.begin(ctx, "get_subscribers", id)
	defer func() { s.end(span, logger, "get_subscribers", err) }()


	doc, err := s.read()
	if err != nil {
		return nil, false, err
	}
	rec, ok := doc.Lookup(id)
	if !ok {
		logger.Debug().Msg("Session does not exist")
		return nil, false, nil
	}
	return append([]string{}, rec.Subscribers...), true, nil
}

// Lookup returns the record of an existing session or ErrSessionNotFound.
func (s *Store) Lookup(id string) (Record, error) {
	return s.LookupWithContext(context.Background(), id)
}

// LookupWithContext returns the record of an existing session with tracing context.
func (s *Store) LookupWithContext(ctx context.Context, id string) (rec Record, err error) {
	_, span, logger := s.begin(ctx, "lookup", id)
	defer func() { s.end(span, logger, "lookup", err) }()


	doc, err := s.read()
	if err != nil {
		return Record{}, err
	}
	rec, ok := doc.Lookup(id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return rec.Clone(), nil
}

// ListSessions returns the IDs of all sessions in sorted order.
func (s *Store) ListSessions() ([]string, error) {
	return s.ListSessionsWithContext(context.Background())
}

// ListSessionsWithContext returns the IDs of all sessions with tracing context.
func (s *Store) ListSessionsWithContext(ctx context.Context) (ids []string, err error) {
	_, span, logger := s.begin(ctx, "list", "")
	defer func() { s.end(span, logger, "list", err) }()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.IDs(), nil
}

// AddSubscriber appends subscriber to the session. Unknown sessions and
// duplicate subscriptions are reported in the Result without writing.
func (s *Store) AddSubscriber(id, subscriber string) (Result, error) {
	return s.AddSubscriberWithContext(context.Background(), id, subscriber)
}

// AddSubscriberWithContext appends subscriber to the session with tracing context.
func (s *Store) AddSubscriberWithContext(ctx context.Context, id, subscriber string) (res Result, err error) {
	_, span, logger := s.begin(ctx, "add_subscriber", id)
	defer func() { s.end(span, logger, "add_subscriber", err) }()

	if err := validateSubscriber(subscriber); err != nil {
		return Result{}, err
	}

	res = Result{SessionID: id}
	err = s.update(func(doc Document) (bool, error) {
		rec, ok := doc.Lookup(id)
		switch {
		case !ok:
			res.Outcome = OutcomeSessionNotFound
			return false, nil
		case rec.HasSubscriber(subscriber):
			res.Outcome = OutcomeAlreadySubscribed
			return false, nil
		}
		rec.Subscribers = append(rec.Subscribers, subscriber)
		doc[id] = rec
		res.Outcome = OutcomeSubscribed
		return true, nil
	})
	if err != nil {
		return Result{}, err
	}

	observability.RecordSubscriptionOutcome(res.Outcome.String())
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	logger.Info().
		Str("subscriber", subscriber).
		Str("outcome", res.Outcome.String()).
		Bool("changed", res.Outcome.Changed()).
		Msg("Subscribe request handled")

	return res, nil
}

// RemoveSubscriber removes the first occurrence of subscriber from the session.
func (s *Store) RemoveSubscriber(id, subscriber string) (Result, error) {
	return s.RemoveSubscriberWithContext(context.Background(), id, subscriber)
}

// RemoveSubscriberWithContext removes subscriber from the session with tracing context.
func (s *Store) RemoveSubscriberWithContext(ctx context.Context, id, subscriber string) (res Result, err error) {
	_, span, logger := s.begin(ctx, "remove_subscriber", id)
	defer func() { s.end(span, logger, "remove_subscriber", err) }()

	if err := validateSubscriber(subscriber); err != nil {
		return Result{}, err
	}

	res = Result{SessionID: id}
	err = s.update(func(doc Document) (bool, error) {
		rec, ok := doc.Lookup(id)
		if !ok {
			res.Outcome = OutcomeSessionNotFound
			return false, nil
		}
		idx := slices.Index(rec.Subscribers, subscriber)
		if idx < 0 {
			res.Outcome = OutcomeNotSubscribed
			return false, nil
		}
		rec.Subscribers = slices.Delete(rec.Subscribers, idx, idx+1)
		doc[id] = rec
		res.Outcome = OutcomeUnsubscribed
		return true, nil
	})
	if err != nil {
		return Result{}, err
	}

	observability.RecordSubscriptionOutcome(res.Outcome.String())
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	logger.Info().
		Str("subscriber", subscriber).
		Str("outcome", res.Outcome.String()).
		Bool("changed", res.Outcome.Changed()).
		Msg("Unsubscribe request handled")

	return res, nil
}
