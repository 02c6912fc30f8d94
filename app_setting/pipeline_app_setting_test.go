package app_setting

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setting.yaml")
	content := []byte("FOLLOWER_PAGE_SIZE: 50\nBATCH_WRITE_MAX_ATTEMPTS: 5\nFEED_TABLE_NAME: cached_feed_staging\n")
	require.NoError(t, ioutil.WriteFile(path, content, 0644))

	setting := ParsePipelineAppSetting(path)

	assert.Equal(t, 50, setting.FOLLOWER_PAGE_SIZE)
	assert.Equal(t, 5, setting.BATCH_WRITE_MAX_ATTEMPTS)
	assert.Equal(t, "cached_feed_staging", setting.FEED_TABLE_NAME)
	// Untouched keys keep their shipped values.
	assert.Equal(t, 25, setting.STORE_BATCH_LIMIT)
	assert.Equal(t, int64(1000), setting.BACKOFF_BASE_MS)
}

func TestDefaultsAreInternallyConsistent(t *testing.T) {
	setting := DefaultPipelineAppSetting()

	assert.LessOrEqual(t, setting.MAX_TARGETS_PER_MESSAGE, setting.FOLLOWER_PAGE_SIZE)
	assert.LessOrEqual(t, setting.BACKOFF_BASE_MS, setting.BACKOFF_CAP_MS)
	assert.Greater(t, setting.BATCH_WRITE_MAX_ATTEMPTS, 0)
}
