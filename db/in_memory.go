package db

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// InMemoryDatabase is the materialized view of the schemas topic: a
// subject -> version -> schema index plus the global id table.
//
// All mutation happens on the replay goroutine. Reads may come from any
// goroutine; a single RWMutex guards the indexes so a reader can never
// observe a partially-applied record. The fingerprint index is kept on a
// lock-free map since it is read on the hot registration-lookup path.
type InMemoryDatabase struct {
	mu       sync.RWMutex
	subjects map[Subject]map[Version]SchemaVersion
	schemas  map[SchemaID]Schema
	configs  map[Subject]string

	globalConfig    string
	globalConfigSet bool

	fingerprints *xsync.MapOf[uint64, SchemaID]
}

func NewInMemoryDatabase() *InMemoryDatabase {
	return &InMemoryDatabase{
		subjects:     make(map[Subject]map[Version]SchemaVersion),
		schemas:      make(map[SchemaID]Schema),
		configs:      make(map[Subject]string),
		fingerprints: xsync.NewMapOf[uint64, SchemaID](),
	}
}

func fingerprint(schema string) uint64 {
	return xxhash.Sum64String(schema)
}

// InsertSchemaVersion inserts or replaces one (subject, version) entry.
// A later record for the same key supersedes the earlier one, including
// soft-delete markers arriving through compacted replays.
func (d *InMemoryDatabase) InsertSchemaVersion(sv SchemaVersion) {
	if sv.Type == "" {
		sv.Type = DefaultSchemaType
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	versions, ok := d.subjects[sv.Subject]
	if !ok {
		versions = make(map[Version]SchemaVersion)
		d.subjects[sv.Subject] = versions
	}
	versions[sv.Version] = sv

	d.schemas[sv.ID] = Schema{ID: sv.ID, Schema: sv.Schema, Type: sv.Type}
	d.fingerprints.Store(fingerprint(sv.Schema), sv.ID)
}

// HardDeleteVersion removes one (subject, version) entry entirely.
// Removing the last version of a subject removes the subject itself.
// Returns false when the entry does not exist.
func (d *InMemoryDatabase) HardDeleteVersion(subject Subject, version Version) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	versions, ok := d.subjects[subject]
	if !ok {
		return false
	}
	sv, ok := versions[version]
	if !ok {
		return false
	}

	delete(versions, version)
	if len(versions) == 0 {
		delete(d.subjects, subject)
	}
	d.maybeDropSchema(sv.ID)

	log.Debug().
		Str("subject", string(subject)).
		Int("version", int(version)).
		Msg("Hard deleted schema version")
	return true
}

// HardDeleteSubject removes a subject with all its versions and its
// compatibility override. Returns false when the subject does not exist.
func (d *InMemoryDatabase) HardDeleteSubject(subject Subject) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	versions, ok := d.subjects[subject]
	if !ok {
		return false
	}

	delete(d.subjects, subject)
	delete(d.configs, subject)
	for _, sv := range versions {
		d.maybeDropSchema(sv.ID)
	}

	log.Debug().
		Str("subject", string(subject)).
		Int("versions", len(versions)).
		Msg("Hard deleted subject")
	return true
}

// SoftDeleteSubjectVersions marks all live versions up to and including
// upTo as deleted, retaining them for id lookups. Returns the number of
// versions transitioned.
func (d *InMemoryDatabase) SoftDeleteSubjectVersions(subject Subject, upTo Version) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	versions, ok := d.subjects[subject]
	if !ok {
		return 0
	}

	deleted := 0
	for v, sv := range versions {
		if v > upTo || sv.Deleted {
			continue
		}
		sv.Deleted = true
		versions[v] = sv
		deleted++
	}
	return deleted
}

// maybeDropSchema removes id table and fingerprint entries once no
// remaining (subject, version) references the id. Caller holds d.mu.
func (d *InMemoryDatabase) maybeDropSchema(id SchemaID) {
	for _, versions := range d.subjects {
		for _, sv := range versions {
			if sv.ID == id {
				return
			}
		}
	}

	if schema, ok := d.schemas[id]; ok {
		delete(d.schemas, id)
		fp := fingerprint(schema.Schema)
		if mapped, ok := d.fingerprints.Load(fp); ok && mapped == id {
			d.fingerprints.Delete(fp)
		}
	}
}

// FindSchema returns the id table entry, including entries only
// referenced by soft-deleted versions.
func (d *InMemoryDatabase) FindSchema(id SchemaID) (Schema, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	schema, ok := d.schemas[id]
	return schema, ok
}

// FindSchemaVersion returns one (subject, version) entry, soft-deleted
// entries included.
func (d *InMemoryDatabase) FindSchemaVersion(subject Subject, version Version) (SchemaVersion, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sv, ok := d.subjects[subject][version]
	return sv, ok
}

// LatestVersion returns the highest non-deleted version of a subject.
func (d *InMemoryDatabase) LatestVersion(subject Subject) (SchemaVersion, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var latest SchemaVersion
	found := false
	for _, sv := range d.subjects[subject] {
		if sv.Deleted {
			continue
		}
		if !found || sv.Version > latest.Version {
			latest = sv
			found = true
		}
	}
	return latest, found
}

// FindSubject reports whether the subject exists at all, soft-deleted
// versions included.
func (d *InMemoryDatabase) FindSubject(subject Subject) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.subjects[subject]
	return ok
}

// FindSubjectSchemas returns the subject's versions in ascending order.
func (d *InMemoryDatabase) FindSubjectSchemas(subject Subject, includeDeleted bool) []SchemaVersion {
	d.mu.RLock()
	defer d.mu.RUnlock()

	versions := d.subjects[subject]
	out := make([]SchemaVersion, 0, len(versions))
	for _, sv := range versions {
		if sv.Deleted && !includeDeleted {
			continue
		}
		out = append(out, sv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// Subjects returns subject names in sorted order. Subjects whose versions
// are all soft-deleted only appear when includeDeleted is set.
func (d *InMemoryDatabase) Subjects(includeDeleted bool) []Subject {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Subject, 0, len(d.subjects))
	for subject, versions := range d.subjects {
		if !includeDeleted && !hasLiveVersion(versions) {
			continue
		}
		out = append(out, subject)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func hasLiveVersion(versions map[Version]SchemaVersion) bool {
	for _, sv := range versions {
		if !sv.Deleted {
			return true
		}
	}
	return false
}

// SchemaIDByFingerprint resolves a payload to its registered id, used to
// answer "is this exact schema already registered" without scanning.
func (d *InMemoryDatabase) SchemaIDByFingerprint(schema string) (SchemaID, bool) {
	return d.fingerprints.Load(fingerprint(schema))
}

// SetCompatibility stores a subject-level compatibility override.
func (d *InMemoryDatabase) SetCompatibility(subject Subject, level string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs[subject] = level
}

// DeleteCompatibility removes a subject-level override. Returns false
// when no override existed.
func (d *InMemoryDatabase) DeleteCompatibility(subject Subject) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.configs[subject]
	delete(d.configs, subject)
	return ok
}

// Compatibility returns the subject-level override, if any.
func (d *InMemoryDatabase) Compatibility(subject Subject) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	level, ok := d.configs[subject]
	return level, ok
}

// SetGlobalCompatibility stores the registry-wide compatibility level.
func (d *InMemoryDatabase) SetGlobalCompatibility(level string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.globalConfig = level
	d.globalConfigSet = true
}

// DeleteGlobalCompatibility clears the registry-wide level. Returns false
// when none was set.
func (d *InMemoryDatabase) DeleteGlobalCompatibility() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	was := d.globalConfigSet
	d.globalConfig = ""
	d.globalConfigSet = false
	return was
}

// GlobalCompatibility returns the registry-wide level, if set.
func (d *InMemoryDatabase) GlobalCompatibility() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.globalConfig, d.globalConfigSet
}

// NumSubjects counts subjects with at least one live version.
func (d *InMemoryDatabase) NumSubjects() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, versions := range d.subjects {
		if hasLiveVersion(versions) {
			n++
		}
	}
	return n
}

// NumSchemas counts entries of the global id table.
func (d *InMemoryDatabase) NumSchemas() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.schemas)
}

// NumSchemaVersions counts (subject, version) entries, soft-deleted included.
func (d *InMemoryDatabase) NumSchemaVersions() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, versions := range d.subjects {
		n += len(versions)
	}
	return n
}
