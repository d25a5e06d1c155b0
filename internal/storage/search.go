package storage

import (
	"context"
	"strings"
)

// queryBuilder composes a SELECT statement clause by clause, mirroring the
// builder-style SQL composition in
// original_source/src/storage/query_builder.rs.
type queryBuilder struct {
	selectCols string
	fromTable  string
	whereCond  string
	orderBy    string
	limit      int
}

func newQuery() *queryBuilder { return &queryBuilder{selectCols: "*"} }

func (q *queryBuilder) Select(cols string) *queryBuilder { q.selectCols = cols; return q }
func (q *queryBuilder) From(table string) *queryBuilder  { q.fromTable = table; return q }
func (q *queryBuilder) Where(cond string) *queryBuilder   { q.whereCond = cond; return q }
func (q *queryBuilder) OrderBy(clause string) *queryBuilder {
	q.orderBy = clause
	return q
}
func (q *queryBuilder) Limit(n int) *queryBuilder { q.limit = n; return q }

func (q *queryBuilder) Build() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(q.selectCols)
	b.WriteString(" FROM ")
	b.WriteString(q.fromTable)
	if q.whereCond != "" {
		b.WriteString(" WHERE ")
		b.WriteString(q.whereCond)
	}
	if q.orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.orderBy)
	}
	if q.limit > 0 {
		b.WriteString(" LIMIT ?")
	}
	return b.String()
}

// SearchResult is one ranked hit from SearchStories.
type SearchResult struct {
	Story Story
	Score int
}

// SearchStories performs a case-insensitive substring search over
// name+header+body, scoring each match by a weighted count of hits per
// field: 3 per hit in name, 2 per hit in header, 1 per hit in body
// (original_source/tests/search_tests.rs). Results are sorted by score
// descending, ties broken newest-first.
func (d *DB) SearchStories(ctx context.Context, query string) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	q := newQuery().
		Select("id, name, header, body, public, channel, created_at").
		From("stories").
		Where("LOWER(name) LIKE ? OR LOWER(header) LIKE ? OR LOWER(body) LIKE ?").
		OrderBy("created_at DESC, id DESC").
		Build()

	like := "%" + strings.ToLower(query) + "%"
	rows, err := d.sql.QueryContext(ctx, q, like, like, like)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stories, err := scanStories(rows)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	results := make([]SearchResult, 0, len(stories))
	for _, s := range stories {
		score := 3*countHits(s.Name, needle) + 2*countHits(s.Header, needle) + countHits(s.Body, needle)
		if score == 0 {
			continue
		}
		results = append(results, SearchResult{Story: s, Score: score})
	}

	sortResultsByScoreDesc(results)
	return results, nil
}

func countHits(haystack, needle string) int {
	if needle == "" {
		return 0
	}
	lower := strings.ToLower(haystack)
	count := 0
	for {
		idx := strings.Index(lower, needle)
		if idx < 0 {
			break
		}
		count++
		lower = lower[idx+len(needle):]
	}
	return count
}

func sortResultsByScoreDesc(results []SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
