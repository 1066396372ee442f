package blob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutThenGet(t *testing.T) {
	store := NewLocalStore(t.TempDir())

	outcome, err := store.Put("job1/abc123.html", []byte("<html></html>"), "text/html")
	require.Nil(t, err)
	require.Equal(t, PutOK, outcome)

	data, err := store.Get("job1/abc123.html")
	require.Nil(t, err)
	require.Equal(t, "<html></html>", string(data))
}

func TestLocalStore_PutIsContentAddressedDeduped(t *testing.T) {
	store := NewLocalStore(t.TempDir())

	_, err := store.Put("job1/dup.html", []byte("same bytes"), "text/html")
	require.Nil(t, err)

	outcome, err := store.Put("job1/dup.html", []byte("different bytes would be ignored"), "text/html")
	require.Nil(t, err)
	require.Equal(t, PutExists, outcome)

	data, err := store.Get("job1/dup.html")
	require.Nil(t, err)
	require.Equal(t, "same bytes", string(data))
}

func TestLocalStore_HeadReportsAbsence(t *testing.T) {
	store := NewLocalStore(t.TempDir())

	_, exists, err := store.Head("job1/missing.html")
	require.Nil(t, err)
	require.False(t, exists)
}

func TestLocalStore_GetMissingKeyReturnsNotFound(t *testing.T) {
	store := NewLocalStore(t.TempDir())

	_, err := store.Get("job1/missing.html")
	require.NotNil(t, err)

	var blobErr *BlobError
	require.ErrorAs(t, err, &blobErr)
	require.Equal(t, ErrCauseNotFound, blobErr.Cause)
}

func TestKey_DerivesContentAddressedPath(t *testing.T) {
	require.Equal(t, "job1/hash123.html", Key("job1", "hash123", "html"))
	require.Equal(t, "job1/hash123.md", Key("job1", "hash123", "md"))
	require.Equal(t, "job1/assets/hash456.png", AssetKey("job1", "hash456", "png"))
}
