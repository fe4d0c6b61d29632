package tokens

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FileRepo is the bearer-token counterpart of the session store: an
// in-memory map mirrored to its own JSON file, fully independent of the
// cookie-bound store.
type FileRepo struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
	nowTime func() time.Time
}

var _ Repo = (*FileRepo)(nil)

type FileRepoOption func(*FileRepo)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) FileRepoOption {
	return func(r *FileRepo) {
		r.nowTime = nowFunc
	}
}

// NewFileRepo loads the store from path. An absent, empty or malformed file
// starts the store empty.
func NewFileRepo(path string, options ...FileRepoOption) *FileRepo {
	r := &FileRepo{
		path:    path,
		records: make(map[string]Record),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	r.load()
	return r
}

func (r *FileRepo) Create(record Record) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", errors.Wrap(err, "[FileRepo.Create] generate token")
	}
	record.Token = token

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[token] = record
	r.save()
	return token, nil
}

func (r *FileRepo) Get(token string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[token]
	if !ok {
		return Record{}, ErrNotFound
	}
	if record.Expired(r.nowTime()) {
		delete(r.records, token)
		r.save()
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (r *FileRepo) UpdateUpstream(token, sid, synoToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[token]
	if !ok {
		return ErrNotFound
	}
	record.SID = sid
	record.SynoToken = synoToken
	r.records[token] = record
	r.save()
	return nil
}

func (r *FileRepo) Delete(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[token]; !ok {
		return nil // Already gone, no error
	}
	delete(r.records, token)
	r.save()
	return nil
}

func (r *FileRepo) Sweep() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowTime()
	var removed []string
	for token, record := range r.records {
		if record.Expired(now) {
			delete(r.records, token)
			removed = append(removed, token)
		}
	}
	if len(removed) > 0 {
		r.save()
	}
	return removed
}

func (r *FileRepo) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]Record, 0, len(r.records))
	for _, record := range r.records {
		snapshot = append(snapshot, record)
	}
	return snapshot
}

func (r *FileRepo) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", r.path).Msg("could not read token store file, starting empty")
		}
		return
	}
	if len(data) == 0 {
		return
	}

	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn().Err(err).Str("file", r.path).Msg("malformed token store file, starting empty")
		return
	}
	r.records = records
	log.Info().Int("tokens", len(records)).Str("file", r.path).Msg("token store loaded")
}

// save mirrors the map to disk atomically (temp file + rename). Called with
// the lock held; failures are logged and do not roll back memory state.
func (r *FileRepo) save() {
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("could not marshal token store")
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".tmp-*")
	if err != nil {
		log.Error().Err(err).Str("file", r.path).Msg("could not create temp token store file")
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		log.Error().Err(err).Str("file", r.path).Msg("could not write token store file")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		log.Error().Err(err).Str("file", r.path).Msg("could not close token store file")
		return
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		log.Error().Err(err).Str("file", r.path).Msg("could not replace token store file")
	}
}
