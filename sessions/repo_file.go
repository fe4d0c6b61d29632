package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FileRepo is an in-memory session store mirrored to a JSON file. The map is
// authoritative for the running process; the file is best-effort durability
// so sessions survive a restart. Load failures never prevent startup.
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

func (r *FileRepo) Upsert(id string, record Record) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	record.ID = id

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[id] = record
	r.save()
	return nil
}

func (r *FileRepo) Get(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if record.Expired(r.nowTime()) {
		delete(r.records, id)
		r.save()
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (r *FileRepo) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	record.LastActivity = r.nowTime()
	r.records[id] = record
	r.save()
	return nil
}

func (r *FileRepo) UpdateUpstream(id, sid, synoToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	record.SID = sid
	record.SynoToken = synoToken
	record.LastActivity = r.nowTime()
	r.records[id] = record
	r.save()
	return nil
}

func (r *FileRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return nil // Already gone, no error
	}
	delete(r.records, id)
	r.save()
	return nil
}

func (r *FileRepo) Sweep() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowTime()
	var removed []string
	for id, record := range r.records {
		if record.Expired(now) {
			delete(r.records, id)
			removed = append(removed, id)
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
			log.Warn().Err(err).Str("file", r.path).Msg("could not read session store file, starting empty")
		}
		return
	}
	if len(data) == 0 {
		return
	}

	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn().Err(err).Str("file", r.path).Msg("malformed session store file, starting empty")
		return
	}
	r.records = records
	log.Info().Int("sessions", len(records)).Str("file", r.path).Msg("session store loaded")
}

// save writes the store atomically: marshal to a temp file in the same
// directory, then rename over the target so a crash mid-write can never
// leave a half-written file. Called with the lock held; failures are logged,
// the in-memory state stays authoritative.
func (r *FileRepo) save() {
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("could not marshal session store")
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".tmp-*")
	if err != nil {
		log.Error().Err(err).Str("file", r.path).Msg("could not create temp session store file")
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		log.Error().Err(err).Str("file", r.path).Msg("could not write session store file")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		log.Error().Err(err).Str("file", r.path).Msg("could not close session store file")
		return
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		log.Error().Err(err).Str("file", r.path).Msg("could not replace session store file")
	}
}
