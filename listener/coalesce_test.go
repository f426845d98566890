package listener

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nodestorage/vcs/store"
)

func TestCoalescePrecedenceTable(t *testing.T) {
	cases := []struct {
		prior, next store.Op
		want        store.Op
		drop        bool
	}{
		{store.OpInsert, store.OpDelete, "", true},
		{store.OpInsert, store.OpUpdate, store.OpInsert, false},
		{store.OpUpdate, store.OpUpdate, store.OpUpdate, false},
		{store.OpUpdate, store.OpDelete, store.OpDelete, false},
		{store.OpDelete, store.OpInsert, store.OpUpdate, false},
	}
	for _, c := range cases {
		got, drop := coalesce(c.prior, c.next)
		require.Equal(t, c.drop, drop, "prior=%s next=%s", c.prior, c.next)
		if !drop {
			require.Equal(t, c.want, got, "prior=%s next=%s", c.prior, c.next)
		}
	}
}
