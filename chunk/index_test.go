package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, size, chunkSize int64) *Index {
	layout, err := NewLayout(size, chunkSize)
	require.NoError(t, err)
	return NewIndex(layout)
}

func TestIndex_Initial(t *testing.T) {
	x := newTestIndex(t, 2_500_000, 1_000_000)

	assert.Equal(t, []int{0, 1, 2}, x.Pending())
	assert.Equal(t, 3, x.ChunksNeedSend())
	assert.Equal(t, int64(2_500_000), x.SizeNeedSend())
	assert.Empty(t, x.Skipped())
}

func TestIndex_ApplyResumeSet(t *testing.T) {
	tests := []struct {
		name          string
		confirmed     []int
		wantPending   []int
		wantChunks    int
		wantSize      int64
		wantSkippedIx []int
	}{
		{
			name:          "leading chunks uploaded",
			confirmed:     []int{0, 1},
			wantPending:   []int{2},
			wantChunks:    1,
			wantSize:      500_000,
			wantSkippedIx: []int{0, 1},
		},
		{
			name:          "last chunk uploaded",
			confirmed:     []int{2},
			wantPending:   []int{0, 1},
			wantChunks:    2,
			wantSize:      2_000_000,
			wantSkippedIx: []int{2},
		},
		{
			name:          "unsorted with duplicates and garbage",
			confirmed:     []int{2, 0, 2, 7, -1},
			wantPending:   []int{1},
			wantChunks:    1,
			wantSize:      1_000_000,
			wantSkippedIx: []int{0, 2},
		},
		{
			name:          "everything uploaded",
			confirmed:     []int{0, 1, 2},
			wantPending:   []int{},
			wantChunks:    0,
			wantSize:      0,
			wantSkippedIx: []int{0, 1, 2},
		},
		{
			name:          "nothing uploaded",
			confirmed:     nil,
			wantPending:   []int{0, 1, 2},
			wantChunks:    3,
			wantSize:      2_500_000,
			wantSkippedIx: []int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := newTestIndex(t, 2_500_000, 1_000_000)

			x.ApplyResumeSet(tt.confirmed)

			assert.Equal(t, tt.wantPending, x.Pending())
			assert.Equal(t, tt.wantChunks, x.ChunksNeedSend())
			assert.Equal(t, tt.wantSize, x.SizeNeedSend())
			assert.Equal(t, tt.wantSkippedIx, x.Skipped())
			for _, i := range tt.wantSkippedIx {
				assert.True(t, x.IsSkipped(i))
			}
		})
	}
}

func TestIndex_TakeNextPending(t *testing.T) {
	x := newTestIndex(t, 10, 1)

	assert.Equal(t, []int{0, 1, 2}, x.TakeNextPending(3))
	assert.Equal(t, []int{3}, x.TakeNextPending(1))
	assert.Nil(t, x.TakeNextPending(0))
	assert.Equal(t, []int{4, 5, 6, 7, 8, 9}, x.TakeNextPending(100))
	assert.Nil(t, x.TakeNextPending(1))
	assert.Equal(t, 0, x.PendingLen())
}

func TestIndex_Requeue(t *testing.T) {
	x := newTestIndex(t, 10, 1)
	x.ApplyResumeSet([]int{9})

	taken := x.TakeNextPending(4)
	require.Equal(t, []int{0, 1, 2, 3}, taken)

	x.Requeue(2, 0, 0, 9, 42)

	assert.Equal(t, []int{0, 2, 4, 5, 6, 7, 8}, x.Pending())
	assert.Equal(t, 9, x.ChunksNeedSend(), "requeue must not change the send counters")
}

func TestIndex_Remove(t *testing.T) {
	x := newTestIndex(t, 5, 1)

	x.Remove(0, 3)

	assert.Equal(t, []int{1, 2, 4}, x.Pending())
	assert.False(t, x.IsSkipped(0))
	assert.Equal(t, 5, x.ChunksNeedSend())
}

func TestIndex_Reset(t *testing.T) {
	x := newTestIndex(t, 2_500_000, 1_000_000)
	x.ApplyResumeSet([]int{0})
	x.TakeNextPending(2)

	x.Reset()

	assert.Equal(t, []int{0, 1, 2}, x.Pending())
	assert.Empty(t, x.Skipped())
	assert.Equal(t, 3, x.ChunksNeedSend())
	assert.Equal(t, int64(2_500_000), x.SizeNeedSend())
}

func TestStatus_Done(t *testing.T) {
	done := map[Status]bool{
		StatusPending:   false,
		StatusLoaded:    false,
		StatusInflight:  false,
		StatusConfirmed: true,
		StatusSkipped:   true,
	}
	for status, want := range done {
		assert.Equal(t, want, status.Done(), status.String())
	}
}
