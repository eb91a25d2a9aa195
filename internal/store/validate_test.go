package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pier2pier.dev/go/pier2pier/internal/fault"
)

func TestValidateStatementAccepts(t *testing.T) {
	for _, stmt := range []string{
		"SELECT * FROM messages",
		"  select content from messages where peer = ?",
		"INSERT INTO peers (address, name) VALUES (?, ?)",
		"update peers set name = ? where address = ?",
		"DELETE FROM messages WHERE peer = ?",
		"SELECT 1;",
		"SELECT address FROM peers WHERE name = 'reunion'",
		"SELECT * FROM peers WHERE address = 'exceptional'",
	} {
		require.NoError(t, ValidateStatement(stmt), stmt)
	}
}

func TestValidateStatementRejects(t *testing.T) {
	for _, stmt := range []string{
		"",
		"DROP TABLE messages",
		"PRAGMA user_version",
		"selector",
		"SELECT 1; DROP TABLE x",
		"DELETE FROM peers; DELETE FROM messages",
		"SELECT * FROM peers -- comment",
		"SELECT /* hidden */ 1",
		"SELECT address FROM peers UNION SELECT id FROM messages",
		"SELECT address FROM peers union all select id FROM messages",
		"SELECT 1 UNION VALUES(2)",
		"SELECT content FROM messages WHERE 0 UNION VALUES ('x')",
		"SELECT address FROM peers INTERSECT SELECT peer FROM messages",
		"SELECT address FROM peers except SELECT peer FROM messages",
		"SELECT load_extension('x')",
		"SELECT readfile('/etc/passwd')",
		"SELECT * FROM peers INTO OUTFILE '/tmp/x'",
		"SELECT xp_cmdshell('dir')",
	} {
		err := ValidateStatement(stmt)
		require.ErrorIs(t, err, fault.ErrValidation, stmt)
	}
}

func TestValidateParams(t *testing.T) {
	requireT := require.New(t)

	requireT.NoError(ValidateParams(nil))
	requireT.NoError(ValidateParams([]any{"x", 1, int64(2), 3.5, nil, strings.Repeat("y", MaxParamLength)}))

	requireT.ErrorIs(ValidateParams([]any{strings.Repeat("y", MaxParamLength+1)}), fault.ErrValidation)
	requireT.ErrorIs(ValidateParams([]any{true}), fault.ErrValidation)
	requireT.ErrorIs(ValidateParams([]any{[]byte("x")}), fault.ErrValidation)
	requireT.ErrorIs(ValidateParams([]any{struct{}{}}), fault.ErrValidation)
}

func TestValidateParamsCountsCharacters(t *testing.T) {
	// Multi-byte characters count once each.
	require.NoError(t, ValidateParams([]any{strings.Repeat("é", MaxParamLength)}))
}

func TestPeerName(t *testing.T) {
	requireT := require.New(t)

	requireT.Equal("bob", peerName("bob"))
	requireT.Equal(strings.Repeat("n", MaxNameLength), peerName(strings.Repeat("n", MaxAddressLength)))
}
