package simulation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeMarshalJSON(t *testing.T) {
	tm := NewTime(time.Date(2026, 8, 1, 14, 5, 9, 0, time.UTC))
	b, err := json.Marshal(tm)
	require.NoError(t, err)
	assert.Equal(t, `"14:05:09"`, string(b))

	zero := Time{}
	b, err = json.Marshal(zero)
	require.NoError(t, err)
	assert.Equal(t, `""`, string(b))
}

func TestTimeUnmarshalJSON(t *testing.T) {
	var tm Time
	require.NoError(t, json.Unmarshal([]byte(`"08:30:00"`), &tm))
	assert.Equal(t, 8, tm.Time.Hour())
	assert.Equal(t, 30, tm.Time.Minute())

	var empty Time
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	assert.True(t, empty.IsZero())

	var rfc Time
	require.NoError(t, json.Unmarshal([]byte(`"2026-08-01T08:30:00Z"`), &rfc))
	assert.Equal(t, 2026, rfc.Time.Year())

	var bad Time
	assert.Error(t, json.Unmarshal([]byte(`"not-a-time"`), &bad))
}

func TestTimeArithmetic(t *testing.T) {
	base := NewTime(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	later := base.Add(5 * time.Second)
	assert.True(t, later.After(base))
	assert.True(t, base.Before(later))
	assert.Equal(t, 5*time.Second, later.Sub(base))
}
