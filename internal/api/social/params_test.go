package social

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chicify/socialgraph/internal/graph"
)

func TestStringParams(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{name: "positional", raw: `["a", "b"]`, want: []string{"a", "b"}},
		{name: "positional extra ignored", raw: `["a", "b", 10]`, want: []string{"a", "b"}},
		{name: "named", raw: `{"followerId": "a", "followeeId": "b"}`, want: []string{"a", "b"}},
		{name: "positional missing", raw: `["a"]`, wantErr: true},
		{name: "named missing", raw: `{"followerId": "a"}`, wantErr: true},
		{name: "wrong type", raw: `[1, "b"]`, wantErr: true},
		{name: "empty string", raw: `{"followerId": "", "followeeId": "b"}`, wantErr: true},
		{name: "absent", raw: ``, wantErr: true},
		{name: "scalar", raw: `"a"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := stringParams(json.RawMessage(tt.raw), "followerId", "followeeId")
			if tt.wantErr {
				assert.ErrorIs(t, err, graph.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
