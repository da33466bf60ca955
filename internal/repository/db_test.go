package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestHasPQCode(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		serialization bool
		exclusion     bool
	}{
		{"シリアライズ失敗", &pq.Error{Code: "40001"}, true, false},
		{"ラップされたシリアライズ失敗", fmt.Errorf("failed to commit transaction: %w", &pq.Error{Code: "40001"}), true, false},
		{"排他制約違反", &pq.Error{Code: "23P01"}, false, true},
		{"その他のPostgreSQLエラー", &pq.Error{Code: "23505"}, false, false},
		{"PostgreSQL以外のエラー", errors.New("connection refused"), false, false},
		{"nil", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSerializationFailure(tt.err); got != tt.serialization {
				t.Errorf("isSerializationFailure() = %v, want %v", got, tt.serialization)
			}
			if got := isExclusionViolation(tt.err); got != tt.exclusion {
				t.Errorf("isExclusionViolation() = %v, want %v", got, tt.exclusion)
			}
		})
	}
}
