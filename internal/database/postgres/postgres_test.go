package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	content := `
-- claims
CREATE TABLE a (id INT);

-- only a comment;
CREATE INDEX idx_a ON a (id);
`
	stmts := splitStatements(content)

	assert.Equal(t, []string{
		"CREATE TABLE a (id INT)",
		"CREATE INDEX idx_a ON a (id)",
	}, stmts)
}
