package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestClassOf(t *testing.T) {
	tests := []struct {
		code *string
		want int
	}{
		{nil, 0},
		{ptr(CodeNone), 0},
		{ptr("none"), 0},
		{ptr(CodeComp1), 1},
		{ptr(CodeComp2), 2},
		{ptr(CodeComp3), 3},
		{ptr(CodeComp4), 4},
	}
	for _, tt := range tests {
		got, err := ClassOf(tt.code)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestClassOf_Unknown(t *testing.T) {
	for _, code := range []string{"comp5", "COMP1", "", "0"} {
		_, err := ClassOf(ptr(code))
		assert.ErrorIs(t, err, ErrUnknownFailureCode, "code %q", code)
	}
}

func TestClassOf_Bijective(t *testing.T) {
	seen := make(map[int]string)
	for _, code := range []string{CodeNone, CodeComp1, CodeComp2, CodeComp3, CodeComp4} {
		class, err := ClassOf(ptr(code))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, class, 0)
		assert.Less(t, class, NumClasses)
		prev, dup := seen[class]
		assert.False(t, dup, "%q and %q share class %d", prev, code, class)
		seen[class] = code
	}
	assert.Len(t, seen, NumClasses)
}

func TestNewPrediction(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	dt := time.Date(2015, 12, 31, 22, 0, 0, 0, loc)

	p := NewPrediction(dt, 17, 3)
	assert.Equal(t, 2016, p.Year)
	assert.Equal(t, 1, p.Month)
	assert.Equal(t, 1, p.Day)
	assert.Equal(t, int64(17), p.MachineID)
	assert.Equal(t, 3, p.Prediction)
	assert.True(t, dt.Equal(p.Datetime))
}
