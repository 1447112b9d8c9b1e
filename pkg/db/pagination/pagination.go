package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=50" validate:"gte=1,lte=250"`
}

// Cursor points past the last row of a page. Ledger pages key on the
// per-customer sequence, other lists on id.
type Cursor struct {
	ID       string `json:"id,omitempty"`
	Sequence int64  `json:"seq,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

// Limit clamps the requested page size.
func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	if data == "" {
		return &Cursor{}, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, ErrInvalidPageToken
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, ErrInvalidPageToken
	}

	return &cursor, nil
}

// BuildCursorPageInfo expects limit+1 rows and trims the probe row.
func BuildCursorPageInfo[T any](data []*T, limit int, extractCursor func(*T) Cursor) ([]*T, *PageInfo, error) {
	if len(data) <= limit {
		return data, &PageInfo{HasMore: false}, nil
	}

	data = data[:limit]
	token, err := EncodeCursor(extractCursor(data[len(data)-1]))
	if err != nil {
		return nil, nil, err
	}
	return data, &PageInfo{HasMore: true, NextPageToken: token}, nil
}
