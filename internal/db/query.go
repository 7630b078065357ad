package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/hazyhaar/dbmcp/internal/errs"
)

// Row is one result row, columns in select-list order.
type Row = *orderedmap.OrderedMap[string, any]

// ExecuteQuery runs a single read-only SELECT and returns its rows in order.
// Anything other than one SELECT statement is a ValidationError and never
// reaches the database. An empty result is an empty, non-nil slice.
func (s *Store) ExecuteQuery(ctx context.Context, query string, params ...any) ([]Row, error) {
	if err := ValidateSelect(query); err != nil {
		return nil, err
	}
	if err := validateParams(params); err != nil {
		return nil, err
	}
	var out []Row
	err := s.withConn(ctx, true, func(c *conn) error {
		rows, err := c.query(ctx, query, params...)
		if err != nil {
			return errs.Storage("query", err)
		}
		defer rows.Close()
		out, err = scanRows(rows)
		return errs.Storage("query", err)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QueryJSON is ExecuteQuery rendered as an indented JSON array.
func (s *Store) QueryJSON(ctx context.Context, query string, params ...any) (string, error) {
	rows, err := s.ExecuteQuery(ctx, query, params...)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encoding rows")
	}
	return string(data), nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := orderedmap.New[string, any]()
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row.Set(col, string(b))
			} else {
				row.Set(col, values[i])
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func validateParams(params []any) error {
	for i, p := range params {
		switch p.(type) {
		case nil, string, bool, float64, float32, int, int32, int64:
		default:
			return errs.InvalidField("params", "parameter %d has unsupported type %T", i+1, p)
		}
	}
	return nil
}

// ValidateSelect accepts exactly one statement whose first keyword, after
// whitespace and comments, is SELECT.
func ValidateSelect(query string) error {
	body := stripLeadingComments(query)
	if body == "" {
		return errs.InvalidField("sql", "query is empty")
	}
	kw := leadingKeyword(body)
	if !strings.EqualFold(kw, "SELECT") {
		return errs.InvalidField("sql", "only SELECT statements are allowed")
	}
	if hasSecondStatement(body) {
		return errs.InvalidField("sql", "only a single statement is allowed")
	}
	return nil
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, "--"):
			_, rest, found := strings.Cut(s, "\n")
			if !found {
				return ""
			}
			s = rest
		case strings.HasPrefix(s, "/*"):
			_, rest, found := strings.Cut(s[2:], "*/")
			if !found {
				return ""
			}
			s = rest
		default:
			return s
		}
	}
}

func leadingKeyword(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

// hasSecondStatement reports whether anything other than whitespace,
// comments or further semicolons follows the first top-level semicolon.
// Quoted strings and identifiers are skipped.
func hasSecondStatement(s string) bool {
	terminated := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			if terminated {
				return true
			}
			j := strings.IndexByte(s[i+1:], ch)
			if j < 0 {
				return false
			}
			i += j + 1
		case ch == '[':
			if terminated {
				return true
			}
			j := strings.IndexByte(s[i+1:], ']')
			if j < 0 {
				return false
			}
			i += j + 1
		case ch == '-' && i+1 < len(s) && s[i+1] == '-':
			j := strings.IndexByte(s[i:], '\n')
			if j < 0 {
				return false
			}
			i += j
		case ch == '/' && i+1 < len(s) && s[i+1] == '*':
			j := strings.Index(s[i+2:], "*/")
			if j < 0 {
				return false
			}
			i += j + 3
		case ch == ';':
			terminated = true
		case unicode.IsSpace(rune(ch)):
		default:
			if terminated {
				return true
			}
		}
	}
	return false
}
