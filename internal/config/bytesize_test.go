package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"bytes", "1024", 1024, false},
		{"si_kilobytes", "5KB", 5000, false},
		{"iec_kibibytes", "5KiB", 5 * 1024, false},
		{"iec_mebibytes", "10MiB", 10 * 1024 * 1024, false},
		{"with space", "5 MiB", 5 * 1024 * 1024, false},
		{"lowercase", "5mib", 5 * 1024 * 1024, false},
		{"zero", "0", 0, false},
		{"invalid", "invalid", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size)
		})
	}
}

func TestByteSize_UnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("64KiB")))
	assert.Equal(t, ByteSize(64*1024), b)
}

func TestByteSize_JSON(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		var b ByteSize
		require.NoError(t, json.Unmarshal([]byte(`"2MiB"`), &b))
		assert.Equal(t, ByteSize(2*1024*1024), b)
	})

	t.Run("number", func(t *testing.T) {
		var b ByteSize
		require.NoError(t, json.Unmarshal([]byte(`4096`), &b))
		assert.Equal(t, ByteSize(4096), b)
	})

	t.Run("round_trip", func(t *testing.T) {
		data, err := json.Marshal(ByteSize(64 * 1024))
		require.NoError(t, err)
		assert.Equal(t, `"64 KiB"`, string(data))

		var b ByteSize
		require.NoError(t, json.Unmarshal(data, &b))
		assert.Equal(t, ByteSize(64*1024), b)
	})
}
