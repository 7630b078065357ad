package db

import (
	"regexp"
	"strings"

	"github.com/hazyhaar/dbmcp/internal/errs"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedWords are SQL keywords refused as table names even though they
// match the identifier pattern.
var reservedWords = map[string]bool{
	"abort": true, "action": true, "add": true, "after": true, "all": true, "alter": true,
	"analyze": true, "and": true, "as": true, "asc": true, "attach": true, "autoincrement": true,
	"before": true, "begin": true, "between": true, "by": true, "cascade": true, "case": true,
	"cast": true, "check": true, "collate": true, "column": true, "commit": true, "conflict": true,
	"constraint": true, "create": true, "cross": true, "current_date": true, "current_time": true,
	"current_timestamp": true, "database": true, "default": true, "deferrable": true,
	"deferred": true, "delete": true, "desc": true, "detach": true, "distinct": true, "drop": true,
	"each": true, "else": true, "end": true, "escape": true, "except": true, "exclusive": true,
	"exists": true, "explain": true, "fail": true, "for": true, "foreign": true, "from": true,
	"full": true, "glob": true, "group": true, "having": true, "if": true, "ignore": true,
	"immediate": true, "in": true, "index": true, "indexed": true, "initially": true, "inner": true,
	"insert": true, "instead": true, "intersect": true, "into": true, "is": true, "isnull": true,
	"join": true, "key": true, "left": true, "like": true, "limit": true, "match": true,
	"natural": true, "no": true, "not": true, "notnull": true, "null": true, "of": true,
	"offset": true, "on": true, "or": true, "order": true, "outer": true, "plan": true,
	"pragma": true, "primary": true, "query": true, "raise": true, "recursive": true,
	"references": true, "regexp": true, "reindex": true, "release": true, "rename": true,
	"replace": true, "restrict": true, "right": true, "rollback": true, "row": true,
	"savepoint": true, "select": true, "set": true, "table": true, "temp": true, "temporary": true,
	"then": true, "to": true, "transaction": true, "trigger": true, "union": true, "unique": true,
	"update": true, "using": true, "vacuum": true, "values": true, "view": true, "virtual": true,
	"when": true, "where": true, "with": true, "without": true,
}

// tableConstraints may open a column definition list entry instead of a
// column name.
var tableConstraints = map[string]bool{
	"constraint": true, "primary": true, "unique": true, "check": true, "foreign": true,
}

// ValidateIdentifier applies the identifier allow-list: letters, digits and
// underscore, not starting with a digit.
func ValidateIdentifier(field, name string) error {
	if name == "" {
		return errs.InvalidField(field, "must not be empty")
	}
	if !identRe.MatchString(name) {
		return errs.InvalidField(field, "%q is not a valid identifier (letters, digits and underscore, not starting with a digit)", name)
	}
	return nil
}

// ValidateTableName is ValidateIdentifier plus the reserved-name rules.
func ValidateTableName(name string) error {
	if err := ValidateIdentifier("table_name", name); err != nil {
		return err
	}
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "sqlite_") {
		return errs.InvalidField("table_name", "%q uses the reserved sqlite_ prefix", name)
	}
	if reservedWords[lower] {
		return errs.InvalidField("table_name", "%q is a reserved word", name)
	}
	return nil
}

// ValidateColumnDefs checks a column definition list such as
// "id INTEGER PRIMARY KEY, label TEXT NOT NULL". It refuses statement
// separators, comments and unbalanced parentheses, and requires each
// top-level entry to start with an identifier or a table constraint.
func ValidateColumnDefs(defs string) error {
	if strings.TrimSpace(defs) == "" {
		return errs.InvalidField("columns", "must not be empty")
	}
	if strings.Contains(defs, ";") {
		return errs.InvalidField("columns", "must not contain ';'")
	}
	if strings.Contains(defs, "--") || strings.Contains(defs, "/*") {
		return errs.InvalidField("columns", "must not contain comments")
	}
	parts, err := splitTopLevel(defs)
	if err != nil {
		return err
	}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return errs.InvalidField("columns", "definition %d is empty", i+1)
		}
		name := strings.Fields(p)[0]
		if tableConstraints[strings.ToLower(name)] {
			continue
		}
		if err := ValidateIdentifier("columns", name); err != nil {
			return errs.InvalidField("columns", "definition %d: %q is not a valid column name", i+1, name)
		}
	}
	return nil
}

func splitTopLevel(s string) ([]string, error) {
	var parts []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, errs.InvalidField("columns", "unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if quote != 0 {
		return nil, errs.InvalidField("columns", "unterminated quoted string")
	}
	if depth != 0 {
		return nil, errs.InvalidField("columns", "unbalanced parentheses")
	}
	return append(parts, s[start:]), nil
}

// quoteIdent quotes an already validated identifier.
func quoteIdent(name string) string {
	return `"` + name + `"`
}
