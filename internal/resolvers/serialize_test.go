package resolvers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	schema "github.com/hanpama/appsynclocal/internal/schema"
)

func TestSerializeLeaf(t *testing.T) {
	sch, err := schema.BuildFromSDL(`
enum Genre { FICTION HISTORY }
type Query { genre: Genre }
`)
	require.NoError(t, err)

	title := "Dune"
	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	tests := []struct {
		typeName string
		in       any
		want     any
		err      string
	}{
		{typeName: "String", in: nil, want: nil},
		{typeName: "String", in: &title, want: "Dune"},
		{typeName: "String", in: 12, want: "12"},
		{typeName: "ID", in: int64(7), want: "7"},
		{typeName: "ID", in: true, err: "ID cannot represent bool"},
		{typeName: "Int", in: int32(5), want: int64(5)},
		{typeName: "Int", in: 3.0, want: int64(3)},
		{typeName: "Int", in: 3.5, err: "non-integer"},
		{typeName: "Int", in: json.Number("42"), want: int64(42)},
		{typeName: "Float", in: 2, want: float64(2)},
		{typeName: "Boolean", in: "yes", err: "Boolean cannot represent string"},
		{typeName: "Genre", in: "FICTION", want: "FICTION"},
		{typeName: "Genre", in: "POETRY", err: `enum Genre cannot represent value "POETRY"`},
		{typeName: "AWSTimestamp", in: at, want: at.Unix()},
		{typeName: "AWSDateTime", in: at, want: "2024-03-09T14:05:06Z"},
		{typeName: "AWSDate", in: at, want: "2024-03-09"},
		{typeName: "AWSTime", in: at, want: "14:05:06.000Z"},
		{typeName: "AWSDate", in: "2024-01-01", want: "2024-01-01"},
		{typeName: "AWSJSON", in: map[string]any{"a": 1}, want: `{"a":1}`},
		{typeName: "AWSJSON", in: `{"raw":true}`, want: `{"raw":true}`},
		{typeName: "AWSEmail", in: "a@example.com", want: "a@example.com"},
	}
	for _, tt := range tests {
		got, err := SerializeLeaf(sch, tt.typeName, tt.in)
		if tt.err != "" {
			require.ErrorContains(t, err, tt.err, "%s %v", tt.typeName, tt.in)
			continue
		}
		require.NoError(t, err, "%s %v", tt.typeName, tt.in)
		require.Equal(t, tt.want, got, "%s %v", tt.typeName, tt.in)
	}
}
