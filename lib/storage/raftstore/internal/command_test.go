package internal

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dHammer/lib/storage"
)

func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name:    "Insert",
			command: Command{Type: CommandTInsert, Time: time.Unix(1700000000, 123456789)},
		},
		{
			name:    "DeleteOlderThan",
			command: Command{Type: CommandTDeleteOlderThan, Time: time.Unix(1700000005, 0)},
		},
		{
			name:    "Zero time",
			command: Command{Type: CommandTInsert, Time: time.Unix(0, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()
			if len(data) != tt.command.SizeBytes() {
				t.Errorf("Expected %d bytes, got %d", tt.command.SizeBytes(), len(data))
			}

			var got Command
			if err := got.Deserialize(data); err != nil {
				t.Fatalf("Deserialize failed: %v", err)
			}
			if got.Type != tt.command.Type {
				t.Errorf("Expected type %s, got %s", tt.command.Type, got.Type)
			}
			if !got.Time.Equal(tt.command.Time) {
				t.Errorf("Expected time %v, got %v", tt.command.Time, got.Time)
			}
		})
	}
}

func TestDeserializeRejectsBadLength(t *testing.T) {
	for _, data := range [][]byte{nil, {0}, make([]byte, commandSize+1)} {
		var cmd Command
		if err := cmd.Deserialize(data); err == nil {
			t.Errorf("Expected an error for %d bytes", len(data))
		}
	}
}

func TestToFeature(t *testing.T) {
	tests := []struct {
		ct      CommandType
		feature storage.Feature
		wantErr bool
	}{
		{CommandTInsert, storage.FeatureInsert, false},
		{CommandTDeleteOlderThan, storage.FeatureDeleteOlderThan, false},
		{CommandType(42), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.ct.String(), func(t *testing.T) {
			feature, err := tt.ct.ToFeature()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if feature != tt.feature {
				t.Errorf("Expected feature %s, got %s", tt.feature, feature)
			}
		})
	}
}

func TestCountEncoding(t *testing.T) {
	for _, n := range []int{0, 1, 4096, 1 << 40} {
		got, err := DecodeCount(EncodeCount(n))
		if err != nil {
			t.Fatalf("DecodeCount failed: %v", err)
		}
		if got != n {
			t.Errorf("Expected %d, got %d", n, got)
		}
	}
	if _, err := DecodeCount([]byte{1, 2}); err == nil {
		t.Error("Expected an error for a short count")
	}
}
