package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/and161185/waitgate/migrations"
	"github.com/stretchr/testify/require"
)

func TestFiles_OrderedAndAnnotated(t *testing.T) {
	files, err := Files()
	require.NoError(t, err)
	require.Equal(t, []string{"00001_records.sql", "00002_accounts.sql", "00003_write_journal.sql"}, files)

	for _, f := range files {
		b, err := fs.ReadFile(migrations.FS, f)
		require.NoError(t, err)
		body := string(b)
		require.True(t, strings.Contains(body, "-- +goose Up"), f)
		require.True(t, strings.Contains(body, "-- +goose Down"), f)
	}
}

func TestRecordsMigration_NotifiesEveryCollection(t *testing.T) {
	b, err := fs.ReadFile(migrations.FS, "00001_records.sql")
	require.NoError(t, err)
	for _, tbl := range []string{"waitlist", "users", "legacy_approved"} {
		require.Contains(t, string(b), "ON "+tbl+"\n    FOR EACH ROW EXECUTE FUNCTION notify_record_change()")
	}
}
