package delta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffApplyRoundTrip(t *testing.T) {
	from := Document{"name": "alice", "age": int64(30), "tags": []any{"a", "b"}}
	to := Document{"name": "alice", "age": int64(31), "tags": []any{"a", "b", "c"}, "email": "a@example.com"}

	d := Diff(from, to)
	require.NotEmpty(t, d.Ops)

	got, err := d.Apply(from)
	require.NoError(t, err)
	require.True(t, Equal(got, to), "applying the diff should reproduce `to`")
}

func TestInvertUndoesApply(t *testing.T) {
	from := Document{"x": int64(1), "nested": Document{"y": "v1"}}
	to := Document{"x": int64(2), "nested": Document{"y": "v2", "z": true}}

	d := Diff(from, to)
	forward, err := d.Apply(from)
	require.NoError(t, err)
	require.True(t, Equal(forward, to))

	back, err := d.Invert().Apply(forward)
	require.NoError(t, err)
	require.True(t, Equal(back, from), "inverting the delta should reproduce `from`")
}

func TestDiffIsEmptyForIdenticalDocuments(t *testing.T) {
	doc := Document{"a": int64(1), "b": []any{int64(1), int64(2)}}
	d := Diff(doc, Clone(doc).(Document))
	require.True(t, d.IsIdentity())
}

func TestComposeMatchesSequentialApply(t *testing.T) {
	a := Document{"v": int64(1)}
	b := Document{"v": int64(2)}
	c := Document{"v": int64(3)}

	d1 := Diff(a, b)
	d2 := Diff(b, c)

	composed := Compose(d1, d2)
	got, err := composed.Apply(a)
	require.NoError(t, err)
	require.True(t, Equal(got, c))
}

func TestComposeKeepsRemovalOfAnExplicitNullField(t *testing.T) {
	a := Document{"a": nil, "v": int64(1)}
	b := Document{"v": int64(1)} // "a" (an explicit null) removed

	composed := Compose(Diff(a, b), Diff(b, b))
	got, err := composed.Apply(a)
	require.NoError(t, err)
	require.True(t, Equal(got, b), "composing must still carry the removal through, not treat it as a no-op")
}

func TestCodecRoundTrip(t *testing.T) {
	from := Document{"name": "alice"}
	to := Document{"name": "bob", "age": int64(5)}
	d := Diff(from, to)

	data, err := Marshal(d)
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)

	got, err := back.Apply(from)
	require.NoError(t, err)
	require.True(t, Equal(got, to))
}

func TestThreeWayMergeNoConflict(t *testing.T) {
	base := Document{"a": int64(1), "b": int64(1)}
	dest := Document{"a": int64(2), "b": int64(1)}
	source := Document{"a": int64(1), "b": int64(2)}

	result := ThreeWayMerge(base, dest, source)
	require.Empty(t, result.Conflicts)
	require.Equal(t, int64(2), result.Merged["a"])
	require.Equal(t, int64(2), result.Merged["b"])
}

func TestThreeWayMergeConflict(t *testing.T) {
	base := Document{"a": int64(1)}
	dest := Document{"a": int64(2)}
	source := Document{"a": int64(3)}

	result := ThreeWayMerge(base, dest, source)
	require.Equal(t, []string{"a"}, result.Conflicts)
	require.Equal(t, int64(2), result.Merged["a"], "conflicted field keeps the dest value")
}

func TestInvertDistinguishesExplicitNullFromAbsent(t *testing.T) {
	// a: absent -> present-with-nil. Undoing it must remove the field
	// again, not leave it set to nil.
	from := Document{}
	to := Document{"a": nil}
	d := Diff(from, to)

	applied, err := d.Apply(from)
	require.NoError(t, err)
	require.True(t, Equal(applied, to))

	back, err := d.Invert().Apply(applied)
	require.NoError(t, err)
	require.True(t, Equal(back, from))
	_, present := back["a"]
	require.False(t, present, "undoing the field's introduction must remove it, not set it nil")
}

func TestInvertRestoresExplicitNullOverValue(t *testing.T) {
	// a: present-with-nil -> present-with-value. Undoing it must restore
	// the explicit nil, not remove the field.
	from := Document{"a": nil}
	to := Document{"a": "x"}
	d := Diff(from, to)

	applied, err := d.Apply(from)
	require.NoError(t, err)
	require.True(t, Equal(applied, to))

	back, err := d.Invert().Apply(applied)
	require.NoError(t, err)
	v, present := back["a"]
	require.True(t, present, "undoing must restore the field, not remove it")
	require.Nil(t, v)
}
