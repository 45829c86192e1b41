package vector

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// Set KOTAE_TEST_PG_DSN to a Postgres database with the vector extension
// available to run this test.
func TestPGVectorStore_Conformance(t *testing.T) {
	dsn := os.Getenv("KOTAE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("KOTAE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewPGVectorStore(ctx, dsn, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	name := fmt.Sprintf("conformance-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = store.db.Exec(`DROP TABLE IF EXISTS ` + pgTableName(name))
		_, _ = store.db.Exec(`DELETE FROM kotae_indexes WHERE name = $1`, name)
	})
	testStoreConformance(t, store, name)
}

func TestPGTableName(t *testing.T) {
	if got := pgTableName("dianai-prod"); got != "kotae_dianai_prod" {
		t.Errorf("pgTableName = %s", got)
	}
}
