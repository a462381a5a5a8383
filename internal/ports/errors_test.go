package ports

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"duplicate position", fmt.Errorf("open: %w", ErrDuplicatePosition), KindValidation},
		{"rate limited", fmt.Errorf("BuyMarket failed: %w: %w", ErrRateLimited, errors.New("-1003")), KindVenue},
		{"timeout", fmt.Errorf("call: %w", ErrTimeout), KindVenue},
		{"overfill", fmt.Errorf("fill: %w", ErrOverfill), KindConsistency},
		{"unknown order", fmt.Errorf("fill: %w", ErrOrderNotFound), KindConsistency},
		{"storage", fmt.Errorf("insert: %w", ErrDuplicateEntry), KindStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "venue", KindVenue.String())
	assert.Equal(t, "consistency", KindConsistency.String())
	assert.Equal(t, "storage", KindStorage.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
