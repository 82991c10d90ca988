package storedfields

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	s := New()
	s.Put(0, []document.Field{
		document.NewStringField("id", "1"),
		document.NewStoredField("country", "Netherlands"),
		document.NewTextField("contents", "Amsterdam has lots of bridges", false),
		document.NewTextField("city", "Amsterdam", true),
	})

	got, err := s.Get(0)
	require.NoError(t, err)
	want := map[string]string{"id": "1", "country": "Netherlands", "city": "Amsterdam"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored fields mismatch (-want +got):\n%s", diff)
	}
}

func TestGetMissingAndDeleted(t *testing.T) {
	s := New()
	_, err := s.Get(7)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	s.Put(7, []document.Field{document.NewStringField("id", "7")})
	s.Delete(7)
	_, err = s.Get(7)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestDocumentWithoutStoredFields(t *testing.T) {
	s := New()
	s.Put(3, []document.Field{document.NewTextField("contents", "unstored", false)})
	got, err := s.Get(3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepeatedFieldValues(t *testing.T) {
	s := New()
	s.Put(1, []document.Field{
		document.NewStoredField("tag", "a"),
		document.NewStoredField("tag", "b"),
	})
	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "a", got["tag"])
	assert.Equal(t, []string{"a", "b"}, s.Values(1, "tag"))
}

func TestRecordsRoundTrip(t *testing.T) {
	s := New()
	s.Put(2, []document.Field{document.NewStoredField("n", "two")})
	s.Put(0, []document.Field{document.NewStoredField("n", "zero")})

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, uint32(0), records[0].DocID)
	assert.Equal(t, uint32(2), records[1].DocID)

	restored := FromRecords(records)
	got, err := restored.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "two", got["n"])
}
