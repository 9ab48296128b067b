package pagination

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID int64 `json:"id"`
}

func TestRequest_NormalizeAndApply(t *testing.T) {
	q := url.Values{}
	Request{Page: 0, PageSize: -3}.Apply(q)

	assert.Equal(t, "1", q.Get("page"))
	assert.Equal(t, "10", q.Get("page_size"))

	q = url.Values{}
	Request{Page: 3, PageSize: 4}.Apply(q)
	assert.Equal(t, "3", q.Get("page"))
	assert.Equal(t, "4", q.Get("page_size"))
}

func TestDecode_PaginatedEnvelope(t *testing.T) {
	body := []byte(`{"count":3,"next":"http://api/blog/posts/?page=2","previous":null,"results":[{"id":1},{"id":2}]}`)

	page, err := Decode[item](body)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Count)
	assert.True(t, page.HasNext())
	assert.Nil(t, page.Previous)
	assert.Equal(t, []item{{ID: 1}, {ID: 2}}, page.Results)
}

func TestDecode_LastPage(t *testing.T) {
	page, err := Decode[item]([]byte(`{"count":3,"next":null,"previous":"p1","results":[{"id":3}]}`))
	require.NoError(t, err)
	assert.False(t, page.HasNext())
}

func TestDecode_BareArray(t *testing.T) {
	page, err := Decode[item]([]byte(` [{"id":5},{"id":6}]`))
	require.NoError(t, err)
	assert.Equal(t, 2, page.Count)
	assert.False(t, page.HasNext())
	assert.Len(t, page.Results, 2)
}

func TestDecode_DataFallback(t *testing.T) {
	page, err := Decode[item]([]byte(`{"data":[{"id":9}]}`))
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: 9}}, page.Results)
	assert.Equal(t, 1, page.Count)
}

func TestDecode_EmptyNextIsFinal(t *testing.T) {
	page, err := Decode[item]([]byte(`{"next":"","results":[]}`))
	require.NoError(t, err)
	assert.False(t, page.HasNext())
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode[item]([]byte(`{"results":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode page")

	_, err = Decode[item](nil)
	require.Error(t, err)
}
