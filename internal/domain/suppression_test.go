package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeSuppressionType(t *testing.T) {
	tests := []struct {
		current, next, want SuppressionType
	}{
		{SuppressionHardBounce, SuppressionUnsubscribe, SuppressionHardBounce},
		{SuppressionSpamComplaint, SuppressionHardBounce, SuppressionSpamComplaint},
		{SuppressionHardBounce, SuppressionSpamComplaint, SuppressionSpamComplaint},
		{SuppressionUnsubscribe, SuppressionHardBounce, SuppressionHardBounce},
		{SuppressionUnsubscribe, SuppressionUnsubscribe, SuppressionUnsubscribe},
		{"", SuppressionUnsubscribe, SuppressionUnsubscribe},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MergeSuppressionType(tt.current, tt.next), "%s then %s", tt.current, tt.next)
	}
}
