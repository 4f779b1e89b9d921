package store

import (
	"context"
	"fmt"
	"strings"
)

// keywordResultCap bounds one lexical query.
const keywordResultCap = 50

// SearchKeyword runs a weighted full-text query over the files in the given
// visibility scope. Filename matches weigh 10x, tag matches 5x, content
// matches 1x. Relevance is the negated bm25 score, so higher means a better
// match.
func (s *Store) SearchKeyword(ctx context.Context, callerID, query string, scope VisibilityScope) ([]KeywordHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	cond, condArgs := scopeCondition("f.", callerID, scope)
	args := append([]any{match}, condArgs...)
	args = append(args, keywordResultCap)

	rows, err := s.db.QueryContext(ctx,
		`SELECT fts.file_id, -bm25(files_fts, 10.0, 5.0, 1.0) AS relevance
		 FROM files_fts fts
		 JOIN files f ON f.id = fts.file_id
		 WHERE files_fts MATCH ? AND `+cond+`
		 ORDER BY relevance DESC
		 LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var hit KeywordHit
		if err := rows.Scan(&hit.FileID, &hit.Relevance); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ftsQuery converts free text into an FTS5 match expression. Each term is
// quoted to neutralize query syntax and suffixed with * for prefix matching.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ReplaceAll(term, `"`, "")
		if term == "" {
			continue
		}
		quoted = append(quoted, `"`+term+`"*`)
	}
	return strings.Join(quoted, " ")
}
