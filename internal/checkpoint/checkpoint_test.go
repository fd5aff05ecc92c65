package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var categories = []string{"goods", "construction", "services", "foreign"}

func TestDefault(t *testing.T) {
	now := time.Date(2026, 8, 23, 9, 30, 0, 0, time.UTC)
	cp := Default("goods", 2005, now)

	assert.Equal(t, "goods", cp.CurrentCategory)
	assert.Equal(t, 2005, cp.CurrentYear)
	assert.Equal(t, 1, cp.CurrentMonth)
	assert.Equal(t, 0, cp.DailyCallsUsed)
	assert.Equal(t, "2026-08-23", cp.LastResetDate)
}

func TestResetDailyCounter(t *testing.T) {
	cp := &Checkpoint{DailyCallsUsed: 480, LastResetDate: "2026-08-22"}

	sameDay := time.Date(2026, 8, 22, 23, 59, 0, 0, time.UTC)
	assert.False(t, cp.ResetDailyCounter(sameDay))
	assert.Equal(t, 480, cp.DailyCallsUsed)

	nextDay := time.Date(2026, 8, 23, 0, 1, 0, 0, time.UTC)
	assert.True(t, cp.ResetDailyCounter(nextDay))
	assert.Equal(t, 0, cp.DailyCallsUsed)
	assert.Equal(t, "2026-08-23", cp.LastResetDate)
}

func TestDecodeCurrentFormat(t *testing.T) {
	data := []byte(`{
		"current_category": "construction",
		"current_year": 2018,
		"current_month": 7,
		"daily_calls_used": 42,
		"last_reset_date": "2026-08-23",
		"last_run_date": "2026-08-23",
		"total_collected": 1234567
	}`)

	cp, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, "construction", cp.CurrentCategory)
	assert.Equal(t, 2018, cp.CurrentYear)
	assert.Equal(t, 7, cp.CurrentMonth)
	assert.Equal(t, 42, cp.DailyCallsUsed)
	assert.Equal(t, int64(1234567), cp.TotalCollected)
}

func TestDecodeLegacyFormat(t *testing.T) {
	// Two progress.json shapes exist from long-lived deployments of the
	// previous collector; they differ in the cursor key name.
	t.Run("current_job variant", func(t *testing.T) {
		data := []byte(`{
			"current_job": "물품",
			"current_year": 2011,
			"current_month": 3,
			"daily_api_calls": 107,
			"last_api_reset_date": "2026-08-20",
			"last_run_date": "2026-08-20",
			"total_collected": 555
		}`)

		cp, err := Decode(data)
		require.NoError(t, err)

		assert.Equal(t, "goods", cp.CurrentCategory)
		assert.Equal(t, 2011, cp.CurrentYear)
		assert.Equal(t, 3, cp.CurrentMonth)
		assert.Equal(t, 107, cp.DailyCallsUsed)
		assert.Equal(t, "2026-08-20", cp.LastResetDate)
	})

	t.Run("current_업무 variant", func(t *testing.T) {
		data := []byte(`{
			"current_업무": "용역",
			"current_year": 2017,
			"current_month": 11,
			"daily_api_calls": 42,
			"last_api_reset_date": "2026-08-21",
			"last_run_date": "2026-08-21",
			"total_collected": 9001
		}`)

		cp, err := Decode(data)
		require.NoError(t, err)

		assert.Equal(t, "services", cp.CurrentCategory)
		assert.Equal(t, 2017, cp.CurrentYear)
		assert.Equal(t, 11, cp.CurrentMonth)
		assert.Equal(t, 42, cp.DailyCallsUsed)
		assert.Equal(t, "2026-08-21", cp.LastResetDate)
	})
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("current_job: goods"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("unknown category is rejected", func(t *testing.T) {
		cp := &Checkpoint{CurrentCategory: "vehicles", CurrentYear: 2010, CurrentMonth: 1}
		err := cp.Validate(categories, 2005, 2025)
		require.Error(t, err)
	})

	t.Run("out-of-range month is repaired", func(t *testing.T) {
		cp := &Checkpoint{CurrentCategory: "goods", CurrentYear: 2010, CurrentMonth: 13}
		require.NoError(t, cp.Validate(categories, 2005, 2025))
		assert.Equal(t, 1, cp.CurrentMonth)
	})

	t.Run("year before range start is repaired", func(t *testing.T) {
		cp := &Checkpoint{CurrentCategory: "goods", CurrentYear: 1999, CurrentMonth: 6}
		require.NoError(t, cp.Validate(categories, 2005, 2025))
		assert.Equal(t, 2005, cp.CurrentYear)
		assert.Equal(t, 1, cp.CurrentMonth)
	})

	t.Run("negative counters are zeroed", func(t *testing.T) {
		cp := &Checkpoint{CurrentCategory: "goods", CurrentYear: 2010, CurrentMonth: 1,
			DailyCallsUsed: -3, TotalCollected: -1}
		require.NoError(t, cp.Validate(categories, 2005, 2025))
		assert.Equal(t, 0, cp.DailyCallsUsed)
		assert.Equal(t, int64(0), cp.TotalCollected)
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &Checkpoint{
		CurrentCategory: "foreign",
		CurrentYear:     2024,
		CurrentMonth:    11,
		DailyCallsUsed:  499,
		LastResetDate:   "2026-08-23",
		LastRunDate:     "2026-08-23",
		TotalCollected:  98765,
	}

	data, err := in.Encode()
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
