package query

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postRules() Rules {
	return Rules{
		Sortable: []string{"id", "title", "createdAt"},
		Filters:  []string{"id", "slug"},
		Includes: []string{"author", "comments", "comments.user"},
		Fields: map[string][]string{
			"posts": {"title", "slug", "author"},
			"users": {"name"},
		},
		PageKeys: []string{"number", "size"},
	}
}

func TestParse_AllParameters(t *testing.T) {
	values, err := url.ParseQuery("include=author,comments.user&sort=-createdAt,title" +
		"&fields[posts]=title,slug&page[number]=2&page[size]=3&filter[slug]=hello")
	require.NoError(t, err)

	q, err := Parse(values)
	require.NoError(t, err)

	assert.Equal(t, []string{"author", "comments.user"}, q.IncludePaths)
	require.NotNil(t, q.Sort)
	assert.Equal(t, "-createdAt,title", q.Sort.String())
	assert.Equal(t, map[string][]string{"posts": {"title", "slug"}}, q.FieldSets)
	assert.Equal(t, map[string]string{"number": "2", "size": "3"}, q.Page)
	assert.Equal(t, map[string]string{"slug": "hello"}, q.Filter)
}

func TestParse_Absent(t *testing.T) {
	q, err := Parse(url.Values{})
	require.NoError(t, err)

	assert.Nil(t, q.IncludePaths)
	assert.Nil(t, q.Sort)
	assert.Nil(t, q.Page)
	assert.True(t, q.SortFields().IsEmpty())
}

func TestParse_MalformedKeys(t *testing.T) {
	for _, raw := range []string{"fields=title", "page=1", "filter=x", "fields[]=a", "unknown=1"} {
		t.Run(raw, func(t *testing.T) {
			values, err := url.ParseQuery(raw)
			require.NoError(t, err)

			_, err = Parse(values)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestParse_ImplementationParametersAllowed(t *testing.T) {
	values := url.Values{"withCount": {"comments"}, "x-debug": {"1"}, "pageSize": {"5"}, "fields_v2": {"a"}, "filterMode": {"any"}}
	q, err := Parse(values)
	require.NoError(t, err)
	assert.Nil(t, q.Page)
	assert.Nil(t, q.FieldSets)
	assert.Nil(t, q.Filter)

	_, err = Parse(url.Values{"pages": {"1"}})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestQueryMany_Validation(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		parameter string
	}{
		{"unknown sort", "sort=body", "sort"},
		{"empty sort", "sort=", "sort"},
		{"unknown filter", "filter[title]=x", "filter[title]"},
		{"unknown include", "include=tags", "include"},
		{"unknown fieldset type", "fields[tags]=name", "fields[tags]"},
		{"unknown fieldset field", "fields[users]=email", "fields[users]"},
		{"unknown page key", "page[offset]=1", "page[offset]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.raw)
			require.NoError(t, err)

			_, err = QueryMany(values, postRules())
			require.Error(t, err)

			var qErr *Error
			require.ErrorAs(t, err, &qErr)
			assert.Equal(t, tt.parameter, qErr.Parameter)
		})
	}
}

func TestQueryMany_Valid(t *testing.T) {
	values, err := url.ParseQuery("sort=-createdAt&include=comments.user&page[size]=10&filter[id]=1,2")
	require.NoError(t, err)

	q, err := QueryMany(values, postRules())
	require.NoError(t, err)
	assert.Equal(t, "-createdAt", q.SortFields().String())
	assert.True(t, q.Includes("comments"))
	assert.True(t, q.Includes("comments.user"))
	assert.False(t, q.Includes("author"))
}

func TestQueryOne_RejectsSortAndPage(t *testing.T) {
	_, err := QueryOne(url.Values{"sort": {"title"}}, postRules())
	var qErr *Error
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "sort", qErr.Parameter)

	_, err = QueryOne(url.Values{"page[number]": {"1"}}, postRules())
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "page", qErr.Parameter)

	q, err := QueryOne(url.Values{"include": {"author"}}, postRules())
	require.NoError(t, err)
	assert.True(t, q.Includes("author"))
}

func TestResourceQuery_Fields(t *testing.T) {
	q := &ResourceQuery{FieldSets: map[string][]string{"posts": {"title"}}}

	fields, ok := q.Fields("posts")
	assert.True(t, ok)
	assert.Equal(t, []string{"title"}, fields)

	_, ok = q.Fields("users")
	assert.False(t, ok)

	var nilQuery *ResourceQuery
	_, ok = nilQuery.Fields("posts")
	assert.False(t, ok)
}
