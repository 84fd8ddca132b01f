package sqlgen

import (
	"fmt"
	"strings"
)

// AffectedRowsKey names the column of the trailing statement of a mutation
// batch.
const AffectedRowsKey = "_affectedRows"

// SessionParamPrefix prefixes the bind name of every session field.
const SessionParamPrefix = "session_"

// Role classifies a statement within a batch.
type Role int

const (
	// RoleSetup prepares temp tables.
	RoleSetup Role = iota
	// RoleDML writes rows or captures row identity.
	RoleDML
	// RoleResponse returns one response field.
	RoleResponse
	// RoleAffectedRows returns the _affectedRows trailer.
	RoleAffectedRows
)

var roleNames = map[Role]string{
	RoleSetup:        "setup",
	RoleDML:          "dml",
	RoleResponse:     "response",
	RoleAffectedRows: "affected_rows",
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	s, ok := roleNames[r]
	if !ok {
		return nil, fmt.Errorf("unknown role %d", int(r))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	for role, name := range roleNames {
		if name == string(b) {
			*r = role
			return nil
		}
	}
	return fmt.Errorf("unknown role %q", b)
}

// Statement is one SQL statement of a batch.
type Statement struct {
	SQL string `json:"sql"`
	// Params lists the bind names the statement references, without the
	// leading $, in order of first use.
	Params []string `json:"params,omitempty"`
	// IncludeInResponse marks statements whose single row and column is
	// returned to the caller under Key.
	IncludeInResponse bool   `json:"include_in_response"`
	Role              Role   `json:"role"`
	Key               string `json:"key,omitempty"`
}

func newStatement(role Role, sql string) Statement {
	return Statement{SQL: sql, Params: bindNames(sql), Role: role}
}

func responseStatement(role Role, key, sql string) Statement {
	s := newStatement(role, sql)
	s.IncludeInResponse = true
	s.Key = key
	return s
}

// SessionParam is the bind name of a session field.
func SessionParam(field string) string {
	return SessionParamPrefix + field
}

// bindNames scans sql for $name parameters outside of string literals and
// quoted identifiers.
func bindNames(sql string) []string {
	var names []string
	seen := make(map[string]bool)
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"':
			quote = c
		case c == '$':
			j := i + 1
			for j < len(sql) && isIdentByte(sql[j], j > i+1) {
				j++
			}
			if j == i+1 {
				continue
			}
			name := sql[i+1 : j]
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
			i = j - 1
		}
	}
	return names
}

func isIdentByte(c byte, digitOK bool) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (digitOK && c >= '0' && c <= '9')
}

// Response returns the statements whose results are returned to the caller,
// excluding the _affectedRows trailer.
func Response(stmts []Statement) []Statement {
	var out []Statement
	for _, s := range stmts {
		if s.IncludeInResponse && s.Role == RoleResponse {
			out = append(out, s)
		}
	}
	return out
}

// Script renders a batch as a single SQL script, one statement per line.
func Script(stmts []Statement) string {
	var b strings.Builder
	for _, s := range stmts {
		b.WriteString(s.SQL)
		b.WriteString(";\n")
	}
	return b.String()
}
