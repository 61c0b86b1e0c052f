package collection_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"emberdb/collection"
	"emberdb/config"
	"emberdb/dberr"
	"emberdb/index"
	"emberdb/query"
	"emberdb/value"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataPath = t.TempDir()
	cfg.BufferPoolSize = 16
	return cfg
}

func widgetFields(price float64, name string) map[string]value.Value {
	return map[string]value.Value{
		"price": value.Float(price),
		"name":  value.String(name),
	}
}

func TestCollectionInsertGetRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	c, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Insert("w1", widgetFields(9.99, "Widget")))

	e, err := c.Get("w1")
	require.NoError(t, err)
	price, _ := e.Fields["price"].AsFloat()
	require.Equal(t, 9.99, price)

	n, err := c.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCollectionInsertDuplicateIDFails(t *testing.T) {
	cfg := testConfig(t)
	c, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Insert("w1", widgetFields(1, "a")))
	err = c.Insert("w1", widgetFields(2, "b"))
	require.ErrorIs(t, err, dberr.ErrDuplicateID)
}

func TestCollectionUpdateAndDelete(t *testing.T) {
	cfg := testConfig(t)
	c, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Insert("w1", widgetFields(1, "a")))
	require.NoError(t, c.Update("w1", widgetFields(2, "b")))

	e, err := c.Get("w1")
	require.NoError(t, err)
	price, _ := e.Fields["price"].AsFloat()
	require.Equal(t, 2.0, price)

	require.NoError(t, c.Delete("w1"))
	_, err = c.Get("w1")
	require.ErrorIs(t, err, dberr.ErrNotFound)
}

func TestCollectionLargeEntitySpansOverflowPages(t *testing.T) {
	cfg := testConfig(t)
	cfg.PageSize = 4096
	c, err := collection.Open(cfg, "blobs", "", nil)
	require.NoError(t, err)
	defer c.Close()

	big := make([]byte, 20000)
	for i := range big {
		big[i] = byte(i % 251)
	}
	require.NoError(t, c.Insert("b1", map[string]value.Value{"data": value.Blob(big)}))

	e, err := c.Get("b1")
	require.NoError(t, err)
	got, _ := e.Fields["data"].AsBlob()
	require.Equal(t, big, got)
}

func TestCollectionFindWithIndex(t *testing.T) {
	cfg := testConfig(t)
	c, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.CreateIndex("sku", index.KindHash, index.FullTextConfig{}))
	require.NoError(t, c.Insert("w1", map[string]value.Value{"sku": value.String("A"), "price": value.Float(1)}))
	require.NoError(t, c.Insert("w2", map[string]value.Value{"sku": value.String("B"), "price": value.Float(2)}))

	plan := c.Explain(query.Equals("sku", value.String("A")))
	require.Equal(t, query.StrategyIndexSeek, plan.Strategy)

	results, err := c.Find(query.Equals("sku", value.String("A")))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "w1", results[0].ID)
}

func TestCollectionFindFallsBackToScanWithoutIndex(t *testing.T) {
	cfg := testConfig(t)
	c, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Insert("w1", widgetFields(1, "alpha")))
	require.NoError(t, c.Insert("w2", widgetFields(2, "beta")))

	results, err := c.Find(query.Equals("name", value.String("beta")))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "w2", results[0].ID)
}

// Covers And(Equals, FullText): the full-text leaf drives the index
// lookup, but the equals conjunct must still be checked against every
// candidate instead of being waved through.
func TestCollectionFindAndCombinesFullTextWithResidualFilter(t *testing.T) {
	cfg := testConfig(t)
	c, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.CreateIndex("body", index.KindFullText, index.DefaultFullTextConfig()))
	require.NoError(t, c.Insert("w1", map[string]value.Value{
		"sku": value.String("A"), "body": value.String("a red widget"),
	}))
	require.NoError(t, c.Insert("w2", map[string]value.Value{
		"sku": value.String("B"), "body": value.String("a red gadget"),
	}))

	results, err := c.Find(query.And(
		query.Equals("sku", value.String("A")),
		query.FullText("body", "red"),
	))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "w1", results[0].ID)
}

func TestCollectionCountWhereAndExistsWhere(t *testing.T) {
	cfg := testConfig(t)
	c, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.CreateIndex("price", index.KindOrdered, index.FullTextConfig{}))
	require.NoError(t, c.Insert("w1", widgetFields(1, "a")))
	require.NoError(t, c.Insert("w2", widgetFields(10, "b")))

	n, err := c.CountWhere(query.GreaterThan("price", value.Float(5)))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	exists, err := c.ExistsWhere(query.GreaterThan("price", value.Float(100)))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCollectionReopenPersistsDataAndIndexes(t *testing.T) {
	cfg := testConfig(t)
	c, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	require.NoError(t, c.CreateIndex("sku", index.KindHash, index.FullTextConfig{}))
	require.NoError(t, c.Insert("w1", map[string]value.Value{"sku": value.String("A")}))
	require.NoError(t, c.Close())

	c2, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	defer c2.Close()

	n, err := c2.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	plan := c2.Explain(query.Equals("sku", value.String("A")))
	require.Equal(t, query.StrategyIndexSeek, plan.Strategy)

	results, err := c2.Find(query.Equals("sku", value.String("A")))
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestCollectionInsertExceedingMaxEntitySizeFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxEntitySize = 64
	c, err := collection.Open(cfg, "blobs", "", nil)
	require.NoError(t, err)
	defer c.Close()

	big := make([]byte, 1024)
	err = c.Insert("b1", map[string]value.Value{"data": value.Blob(big)})
	require.ErrorIs(t, err, dberr.ErrEntityTooLarge)

	_, err = c.Get("b1")
	require.ErrorIs(t, err, dberr.ErrNotFound)
}

func TestCollectionMemoryBackendSkipsDiskAndWAL(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageBackend = config.BackendMemory
	c, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Insert("w1", widgetFields(9.99, "Widget")))
	e, err := c.Get("w1")
	require.NoError(t, err)
	price, _ := e.Fields["price"].AsFloat()
	require.Equal(t, 9.99, price)

	_, statErr := os.Stat(filepath.Join(cfg.DataPath, "db", "widgets.db"))
	require.True(t, os.IsNotExist(statErr))
}

func TestCollectionReopenWithDifferentEntityTypeFails(t *testing.T) {
	cfg := testConfig(t)
	c, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = collection.Open(cfg, "widgets", "gadget", nil)
	require.ErrorIs(t, err, dberr.ErrCollectionTypeMismatch)
}

func TestCollectionCleanCloseReopenSkipsRecovery(t *testing.T) {
	cfg := testConfig(t)
	c, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	require.NoError(t, c.Insert("w1", widgetFields(1, "a")))
	require.NoError(t, c.Close())

	c2, err := collection.Open(cfg, "widgets", "widget", nil)
	require.NoError(t, err)
	defer c2.Close()
	require.False(t, c2.RecoveredFromDirtyShutdown())

	n, err := c2.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
