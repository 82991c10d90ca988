package loader

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/generation"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/memory"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

func openWriter(t *testing.T) (*generation.Manager, *indexer.Writer) {
	t.Helper()
	ctx := context.Background()
	mgr, err := generation.Open(ctx, memory.New())
	require.NoError(t, err)
	w, err := indexer.OpenWriter(ctx, mgr, indexer.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = w.Close(ctx, true)
		_ = mgr.Close()
	})
	return mgr, w
}

func liveDocs(t *testing.T, mgr *generation.Manager) int {
	t.Helper()
	snap, err := mgr.Acquire()
	require.NoError(t, err)
	defer mgr.Release(snap)
	return snap.LiveDocs()
}

const cities = `
{"op":"add","fields":[{"name":"id","value":"1","stored":true,"indexed":true},{"name":"city","value":"Amsterdam","stored":true,"indexed":true,"tokenized":true}]}
{"op":"add","fields":[{"name":"id","value":"2","stored":true,"indexed":true},{"name":"city","value":"Venice","stored":true,"indexed":true,"tokenized":true}]}
{"op":"commit"}
{"op":"update","term":{"field":"id","text":"2"},"fields":[{"name":"id","value":"2","stored":true,"indexed":true},{"name":"city","value":"Rome","stored":true,"indexed":true,"tokenized":true}]}
{"op":"delete","term":{"field":"city","text":"Amsterdam"}}
`

func TestLoad(t *testing.T) {
	mgr, w := openWriter(t)

	stats, err := New(w, Options{CommitAtEnd: true}).Load(context.Background(), strings.NewReader(cities))
	require.NoError(t, err)
	assert.Equal(t, Stats{Lines: 5, Added: 2, Updated: 1, Deleted: 1, Commits: 2, Generation: 2}, stats)
	assert.Equal(t, 1, liveDocs(t, mgr))
}

func TestLoadCommitEvery(t *testing.T) {
	mgr, w := openWriter(t)
	input := strings.Repeat(`{"op":"add","fields":[{"name":"id","value":"x","indexed":true}]}`+"\n", 5)

	stats, err := New(w, Options{CommitEvery: 2}).Load(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Commits)
	assert.Equal(t, 4, liveDocs(t, mgr))
	assert.Equal(t, 1, w.BufferedDocs())
}

func TestLoadDeleteAll(t *testing.T) {
	mgr, w := openWriter(t)
	input := cities + `{"op":"commit"}` + "\n" + `{"op":"delete_all"}` + "\n"

	stats, err := New(w, Options{CommitAtEnd: true}).Load(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeleteAlls)
	assert.Equal(t, 0, liveDocs(t, mgr))
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"malformed json", `{"op":"add"`, apperrors.ErrInvalidInput},
		{"unknown op", `{"op":"upsert"}`, apperrors.ErrInvalidInput},
		{"unknown attribute", `{"op":"commit","force":true}`, apperrors.ErrInvalidInput},
		{"delete without term", `{"op":"delete"}`, apperrors.ErrInvalidInput},
		{"add without fields", `{"op":"add"}`, apperrors.ErrInvalidInput},
		{"invalid field config", `{"op":"add","fields":[{"name":"a","value":"b","tokenized":true}]}`, apperrors.ErrInvalidFieldConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, w := openWriter(t)
			_, err := New(w, Options{}).Load(context.Background(), strings.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidationErrorLists(t *testing.T) {
	op := Op{Op: "update"}
	err := op.Validate(7)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 7, verr.Line)
	assert.Equal(t, "line 7: fields: at least one field is required; term: term with a field is required", err.Error())
}
