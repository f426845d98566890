package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"nodestorage/vcs/delta"
)

func TestFuncAdapter(t *testing.T) {
	f := Func(func(ctx context.Context, destination, source, merged delta.Document) (delta.Document, bool, error) {
		out := delta.Document{}
		for k, v := range merged {
			out[k] = v
		}
		out["resolved_by"] = "test"
		return out, true, nil
	})

	resolved, ok, err := f.Resolve(context.Background(), delta.Document{"a": 1}, delta.Document{"a": 2}, delta.Document{"a": 1})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "test", resolved["resolved_by"])
}

func TestExecResolverAbortsOnNonZeroExit(t *testing.T) {
	r := Exec{Binary: "false"}
	_, ok, err := r.Resolve(context.Background(), delta.Document{}, delta.Document{}, delta.Document{})
	require.NoError(t, err)
	require.False(t, ok)
}
