package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowsOf(xs ...any) []map[string]any {
	out := make([]map[string]any, len(xs))
	for i, x := range xs {
		out[i] = map[string]any{"x": x}
	}
	return out
}

func asQueryError(t *testing.T, err error) *Error {
	t.Helper()
	var qe *Error
	require.True(t, errors.As(err, &qe), "expected *query.Error, got %v", err)
	return qe
}

func TestFilterData_Basic(t *testing.T) {
	page, err := FilterData(rowsOf(1, 2, 3), []string{"x>1"}, []string{"+x"}, 1, -1)
	require.NoError(t, err)
	assert.Equal(t, rowsOf(2, 3), page.Result)
	assert.Equal(t, 2, page.Meta.TotalCount)
	assert.Equal(t, 1, page.Meta.TotalPages)
	assert.Equal(t, 2, page.Meta.PerPage)
	assert.Equal(t, 1, page.Meta.CurrentPage)
}

func TestFilterData_UnknownFilterColumn(t *testing.T) {
	_, err := FilterData(rowsOf(1), []string{"y>1"}, nil, 1, -1)
	qe := asQueryError(t, err)
	assert.Equal(t, 400, qe.Code)
	assert.Equal(t, FieldFiltering, qe.Fields)
}

func TestFilterData_MalformedFilter(t *testing.T) {
	_, err := FilterData(rowsOf(1), []string{"x=1"}, nil, 1, -1)
	qe := asQueryError(t, err)
	assert.Equal(t, FieldFiltering, qe.Fields)
}

func TestFilterData_SortNeedsSign(t *testing.T) {
	_, err := FilterData(rowsOf(1), nil, []string{"x"}, 1, -1)
	qe := asQueryError(t, err)
	assert.Equal(t, 400, qe.Code)
	assert.Equal(t, FieldSorting, qe.Fields)

	_, err = FilterData(rowsOf(1), nil, []string{"-nope"}, 1, -1)
	assert.Equal(t, FieldSorting, asQueryError(t, err).Fields)
}

func TestFilterData_NumericStrings(t *testing.T) {
	page, err := FilterData(rowsOf("9", "10", "100"), []string{"x>=10"}, []string{"-x"}, 1, -1)
	require.NoError(t, err)
	assert.Equal(t, rowsOf("100", "10"), page.Result)
}

func TestFilterData_TextIsLexicographic(t *testing.T) {
	page, err := FilterData(rowsOf("KRAS", "EGFR", "TP53"), []string{"x!=EGFR"}, []string{"+x"}, 1, -1)
	require.NoError(t, err)
	assert.Equal(t, rowsOf("KRAS", "TP53"), page.Result)
}

func TestFilterData_NonNumericValueForNumericColumn(t *testing.T) {
	_, err := FilterData(rowsOf(1, 2), []string{"x>abc"}, nil, 1, -1)
	assert.Equal(t, FieldFiltering, asQueryError(t, err).Fields)
}

func TestFilterData_FirstSortIsPrimary(t *testing.T) {
	rows := []map[string]any{
		{"gene": "B", "score": 1},
		{"gene": "A", "score": 2},
		{"gene": "B", "score": 3},
		{"gene": "A", "score": 1},
	}
	page, err := FilterData(rows, []string{"none"}, []string{"+gene", "-score"}, 1, -1)
	require.NoError(t, err)
	got := make([]any, 0, 4)
	for _, r := range page.Result {
		got = append(got, r["gene"], r["score"])
	}
	assert.Equal(t, []any{"A", 2, "A", 1, "B", 3, "B", 1}, got)
}

func TestFilterData_Paging(t *testing.T) {
	rows := rowsOf(1, 2, 3, 4, 5)
	page, err := FilterData(rows, nil, nil, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, rowsOf(3, 4), page.Result)
	assert.Equal(t, 3, page.Meta.TotalPages)

	page, err = FilterData(rows, nil, nil, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, rowsOf(5), page.Result)

	page, err = FilterData(rows, nil, nil, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Result)
	assert.NotNil(t, page.Result)

	page, err = FilterData(rows, nil, nil, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Meta.TotalPages)
	assert.Empty(t, page.Result)
}

func TestFilterData_Empty(t *testing.T) {
	page, err := FilterData(nil, []string{"whatever>1"}, []string{"x"}, 1, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Meta.TotalCount)
	assert.Equal(t, 0, page.Meta.TotalPages)
	assert.NotNil(t, page.Result)
}

func TestFilterData_BlankFiltersSkipped(t *testing.T) {
	page, err := FilterData(rowsOf(1, 2), []string{"x<2", "  "}, nil, 1, -1)
	require.NoError(t, err)
	assert.Equal(t, rowsOf(1), page.Result)
}

func TestFilterData_BooleansCompareAsText(t *testing.T) {
	rows := []map[string]any{{"v": true}, {"v": false}}
	page, err := FilterData(rows, []string{"v==true"}, nil, 1, -1)
	require.NoError(t, err)
	require.Len(t, page.Result, 1)
	assert.Equal(t, true, page.Result[0]["v"])
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"x>1", "y==2"}, ParseList(" x>1 ,, y==2"))
	assert.Nil(t, ParseList(""))
}
