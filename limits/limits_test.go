package limits

import (
	"errors"
	"math"
	"testing"
)

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"empty", 0, ErrMessageEmpty},
		{"one byte", 1, nil},
		{"at limit", MaxRecordLength, nil},
		{"over limit", MaxRecordLength + 1, ErrMessageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord(make([]byte, tt.size))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateRecord(%d bytes) = %v, want %v", tt.size, err, tt.wantErr)
			}
		})
	}
	if err := ValidateRecord(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("nil record: got %v, want ErrMessageEmpty", err)
	}
}

func TestValidateFrameLength(t *testing.T) {
	valid := []int{MinFrameLength, DefaultMaxFrameLength, MaxFrameLength}
	for _, n := range valid {
		if err := ValidateFrameLength(n); err != nil {
			t.Errorf("ValidateFrameLength(%d) = %v, want nil", n, err)
		}
	}
	invalid := []int{0, MinFrameLength - 1, MaxFrameLength + 1}
	for _, n := range invalid {
		if err := ValidateFrameLength(n); !errors.Is(err, ErrFrameLength) {
			t.Errorf("ValidateFrameLength(%d) = %v, want ErrFrameLength", n, err)
		}
	}
}

func TestValidateCapacity(t *testing.T) {
	if err := ValidateCapacity(DefaultMaxFrameLength, DefaultMaxFrameLength); err != nil {
		t.Errorf("one frame of capacity rejected: %v", err)
	}
	if err := ValidateCapacity(DefaultMaxFrameLength-1, DefaultMaxFrameLength); !errors.Is(err, ErrCapacity) {
		t.Errorf("short capacity: got %v, want ErrCapacity", err)
	}
}

func TestDefaultFrameLengthInRange(t *testing.T) {
	if DefaultMaxFrameLength < MinFrameLength || DefaultMaxFrameLength > MaxFrameLength {
		t.Errorf("DefaultMaxFrameLength %d outside [%d, %d]", DefaultMaxFrameLength, MinFrameLength, MaxFrameLength)
	}
}

func TestRecordLengthFitsLengthField(t *testing.T) {
	if MaxRecordLength > math.MaxUint16 {
		t.Errorf("MaxRecordLength %d does not fit a 16-bit length", MaxRecordLength)
	}
}
