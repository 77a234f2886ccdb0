package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amstee/karapace/db"
	"github.com/amstee/karapace/notify"
)

type fixedReadiness bool

func (r fixedReadiness) Ready() bool { return bool(r) }

func newTestServer(t *testing.T, database *db.InMemoryDatabase, ready bool, hub *notify.Hub) *Server {
	t.Helper()
	s, err := New("127.0.0.1:0", database, fixedReadiness(ready), hub, 16)
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func seedDatabase() *db.InMemoryDatabase {
	database := db.NewInMemoryDatabase()
	database.InsertSchemaVersion(db.SchemaVersion{
		Subject: "test-topic-value", Version: 1, ID: 1, Schema: `"int"`, Type: db.DefaultSchemaType,
	})
	database.InsertSchemaVersion(db.SchemaVersion{
		Subject: "test-topic-value", Version: 2, ID: 2, Schema: `"string"`, Type: db.DefaultSchemaType,
	})
	database.InsertSchemaVersion(db.SchemaVersion{
		Subject: "retired-value", Version: 1, ID: 3, Schema: `"long"`, Type: db.DefaultSchemaType, Deleted: true,
	})
	return database
}

func TestHealthAndReadiness(t *testing.T) {
	database := db.NewInMemoryDatabase()

	s := newTestServer(t, database, false, nil)
	assert.Equal(t, http.StatusOK, get(t, s, "/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/ready").Code)

	s = newTestServer(t, database, true, nil)
	rec := get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.schemaregistry.v1+json", rec.Header().Get("Content-Type"))
}

func TestSubjectsExcludeSoftDeleted(t *testing.T) {
	s := newTestServer(t, seedDatabase(), true, nil)

	var names []string
	decodeBody(t, get(t, s, "/subjects"), &names)
	assert.Equal(t, []string{"test-topic-value"}, names)

	decodeBody(t, get(t, s, "/subjects?deleted=true"), &names)
	assert.ElementsMatch(t, []string{"test-topic-value", "retired-value"}, names)
}

func TestSubjectVersions(t *testing.T) {
	s := newTestServer(t, seedDatabase(), true, nil)

	var versions []int
	decodeBody(t, get(t, s, "/subjects/test-topic-value/versions"), &versions)
	assert.Equal(t, []int{1, 2}, versions)

	rec := get(t, s, "/subjects/no-such-subject/versions")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errBody map[string]any
	decodeBody(t, rec, &errBody)
	assert.EqualValues(t, errSubjectNotFound, errBody["error_code"])
}

func TestSubjectVersionLookup(t *testing.T) {
	s := newTestServer(t, seedDatabase(), true, nil)

	var body map[string]any
	decodeBody(t, get(t, s, "/subjects/test-topic-value/versions/1"), &body)
	assert.EqualValues(t, 1, body["id"])
	assert.Equal(t, `"int"`, body["schema"])
	// AVRO is implied and omitted
	assert.NotContains(t, body, "schemaType")

	decodeBody(t, get(t, s, "/subjects/test-topic-value/versions/latest"), &body)
	assert.EqualValues(t, 2, body["version"])
	assert.Equal(t, `"string"`, body["schema"])

	rec := get(t, s, "/subjects/test-topic-value/versions/17")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, s, "/subjects/test-topic-value/versions/not-a-number")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var errBody map[string]any
	decodeBody(t, rec, &errBody)
	assert.EqualValues(t, errInvalidVersion, errBody["error_code"])
}

func TestSchemaByID(t *testing.T) {
	s := newTestServer(t, seedDatabase(), true, nil)

	var body map[string]any
	decodeBody(t, get(t, s, "/schemas/ids/1"), &body)
	assert.Equal(t, `"int"`, body["schema"])

	// Soft-deleted versions stay resolvable by id
	decodeBody(t, get(t, s, "/schemas/ids/3"), &body)
	assert.Equal(t, `"long"`, body["schema"])

	assert.Equal(t, http.StatusNotFound, get(t, s, "/schemas/ids/99").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/schemas/ids/junk").Code)
}

func TestSchemaByIDCacheInvalidation(t *testing.T) {
	database := seedDatabase()
	hub := notify.NewHub()
	s := newTestServer(t, database, true, hub)

	assert.Equal(t, http.StatusOK, get(t, s, "/schemas/ids/1").Code)
	_, cached := s.cache.Get(db.SchemaID(1))
	assert.True(t, cached)

	// A compaction-driven hard delete signals the hub; the cached body
	// must not outlive the schema.
	database.HardDeleteVersion("test-topic-value", 1)
	hub.Signal("test-topic-value", 10)

	require.Eventually(t, func() bool {
		_, cached := s.cache.Get(db.SchemaID(1))
		return !cached
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/schemas/ids/1").Code)
}

func TestConfigEndpoints(t *testing.T) {
	database := seedDatabase()
	s := newTestServer(t, database, true, nil)

	var body map[string]string
	decodeBody(t, get(t, s, "/config"), &body)
	assert.Equal(t, defaultCompatibility, body["compatibilityLevel"])

	database.SetGlobalCompatibility("FULL")
	decodeBody(t, get(t, s, "/config"), &body)
	assert.Equal(t, "FULL", body["compatibilityLevel"])

	rec := get(t, s, "/config/test-topic-value")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errBody map[string]any
	decodeBody(t, rec, &errBody)
	assert.EqualValues(t, errCompatNotConfigured, errBody["error_code"])

	database.SetCompatibility("test-topic-value", "NONE")
	decodeBody(t, get(t, s, "/config/test-topic-value"), &body)
	assert.Equal(t, "NONE", body["compatibilityLevel"])
}
