package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutritionagent"
)

func TestRegistry_OrdersByAuthority(t *testing.T) {
	est := &fakeSource{name: "est", authority: AuthorityEstimate, steps: []fakeStep{{}}}
	off := &fakeSource{name: "off", authority: AuthorityCatalog, steps: []fakeStep{{}}}
	usda := &fakeSource{name: "usda", authority: AuthorityDatabase, steps: []fakeStep{{}}}

	r := NewRegistry(est, off, usda)
	names := []string{}
	for _, s := range r.GetSources() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"usda", "off", "est"}, names)
	assert.Equal(t, AuthorityDatabase, r.Authority())

	got, err := r.GetSource("off")
	require.NoError(t, err)
	assert.Equal(t, off, got)

	_, err = r.GetSource("missing")
	assert.Error(t, err)
}

func TestRegistry_Query(t *testing.T) {
	apple := Match{Name: "apple", Calories: 95, Authority: AuthorityDatabase}
	oat := Match{Name: "oat milk", Calories: 120, Authority: AuthorityCatalog}
	guess := Match{Name: "apple", Calories: 90, Authority: AuthorityEstimate}

	tests := []struct {
		name         string
		usda         fakeStep
		off          fakeStep
		est          fakeStep
		wantMatches  []Match
		wantErr      error
		wantEstCalls int
	}{
		{
			name:         "aggregates database and catalog, skips estimate",
			usda:         fakeStep{matches: []Match{apple}},
			off:          fakeStep{matches: []Match{oat}},
			est:          fakeStep{matches: []Match{guess}},
			wantMatches:  []Match{apple, oat},
			wantEstCalls: 0,
		},
		{
			name:         "one provider failing does not discard others",
			usda:         fakeStep{err: errors.New("boom")},
			off:          fakeStep{matches: []Match{oat}},
			est:          fakeStep{matches: []Match{guess}},
			wantMatches:  []Match{oat},
			wantEstCalls: 0,
		},
		{
			name:         "estimate used when nothing else matched",
			usda:         fakeStep{},
			off:          fakeStep{err: errors.New("down")},
			est:          fakeStep{matches: []Match{guess}},
			wantMatches:  []Match{guess},
			wantEstCalls: 1,
		},
		{
			name:         "all empty is a lookup miss",
			wantErr:      nutritionagent.ErrLookupMiss,
			wantEstCalls: 1,
		},
		{
			name:         "all failing is a provider error",
			usda:         fakeStep{err: errors.New("a")},
			off:          fakeStep{err: errors.New("b")},
			est:          fakeStep{err: errors.New("c")},
			wantErr:      nutritionagent.ErrProvider,
			wantEstCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usda := &fakeSource{name: "usda", authority: AuthorityDatabase, steps: []fakeStep{tt.usda}}
			off := &fakeSource{name: "off", authority: AuthorityCatalog, steps: []fakeStep{tt.off}}
			est := &fakeSource{name: "est", authority: AuthorityEstimate, steps: []fakeStep{tt.est}}

			matches, err := NewRegistry(usda, off, est).Query(context.Background(), "apple")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantMatches, matches)
			}
			assert.Equal(t, tt.wantEstCalls, est.Calls())
		})
	}
}
