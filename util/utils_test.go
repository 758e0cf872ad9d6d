package util

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapN(t *testing.T) {
	out, err := MapN([]string{"1", "2", "10"}, strconv.Atoi)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 10}, out)

	out, err = MapN([]string{"1", "x", "3"}, strconv.Atoi)
	assert.Error(t, err)
	assert.Equal(t, []int{1}, out)
}

func TestFilter(t *testing.T) {
	even := Filter([]int{1, 2, 3, 4}, func(i int) bool { return i%2 == 0 })
	assert.Equal(t, []int{2, 4}, even)
	assert.Empty(t, Filter([]int{}, func(int) bool { return true }))
}

func TestChooseReverse(t *testing.T) {
	assert.Equal(t, "a", Choose(true, "a", "b"))
	assert.Equal(t, "b", Choose(false, "a", "b"))
	assert.Equal(t, []int{3, 2, 1}, Reverse([]int{1, 2, 3}))
	assert.Empty(t, Reverse([]int(nil)))

	errA := errors.New("a")
	assert.Equal(t, errA, Choose[error](true, errA, nil))
}
