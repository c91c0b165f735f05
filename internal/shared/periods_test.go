package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePeriodTransition(t *testing.T) {
	cases := []struct {
		name     string
		current  string
		target   string
		override bool
		ok       bool
	}{
		{"open to closed", PeriodStatusOpen, PeriodStatusClosed, false, true},
		{"open to locked", PeriodStatusOpen, PeriodStatusLocked, false, true},
		{"closed reopen", PeriodStatusClosed, PeriodStatusOpen, false, true},
		{"closed to locked", PeriodStatusClosed, PeriodStatusLocked, false, true},
		{"locked stays locked", PeriodStatusLocked, PeriodStatusOpen, false, false},
		{"locked unlock needs override", PeriodStatusLocked, PeriodStatusClosed, false, false},
		{"locked unlock with override", PeriodStatusLocked, PeriodStatusClosed, true, true},
		{"same status", PeriodStatusOpen, PeriodStatusOpen, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePeriodTransition(tc.current, tc.target, tc.override)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidPeriodTransition)
			}
		})
	}
}
