package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct{ seq int64 }

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []*row{{1}, {2}, {3}}

	page, info, err := BuildCursorPageInfo(rows, 2, func(r *row) Cursor { return Cursor{Sequence: r.seq} })
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	require.Equal(t, int64(2), cursor.Sequence)

	page, info, err = BuildCursorPageInfo(rows[2:], 2, func(r *row) Cursor { return Cursor{Sequence: r.seq} })
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextPageToken)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.ErrorIs(t, err, ErrInvalidPageToken)

	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	require.Zero(t, cursor.Sequence)
}

func TestLimit(t *testing.T) {
	require.Equal(t, DefaultPageSize, Pagination{}.Limit())
	require.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	require.Equal(t, 7, Pagination{PageSize: 7}.Limit())
}
