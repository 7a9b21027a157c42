package pages

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/signflow/internal/pdf"
	"github.com/digitorus/signflow/internal/pdftest"
)

func seq(n int) []Page {
	out := make([]Page, n)
	for i := range out {
		out[i] = Page{Source: 0, Number: i + 1, MediaBox: pdf.Letter}
	}
	return out
}

func TestLoad(t *testing.T) {
	data := pdftest.Document(
		pdftest.Page{MediaBox: pdf.Letter},
		pdftest.Page{MediaBox: [4]float64{0, 0, 595, 842}, Rotate: 180},
	)
	got, err := Load(1, data, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Page{Source: 1, Number: 2, Rotation: 180, MediaBox: [4]float64{0, 0, 595, 842}}, got[1])
	assert.Equal(t, 612.0, got[0].Width())
}

func TestLoadRejectsBeforeParsing(t *testing.T) {
	_, err := Load(0, []byte("too large and not even a pdf"), 10)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = Load(0, nil, 10)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = Load(0, []byte("not a pdf"), 0)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCheckSize(t *testing.T) {
	assert.NoError(t, CheckSize(DefaultMaxUploadBytes, 0))
	assert.ErrorIs(t, CheckSize(DefaultMaxUploadBytes+1, 0), ErrFileTooLarge)
	assert.NoError(t, CheckSize(5, 5))
}

func TestMergeContinuesNumbering(t *testing.T) {
	base := seq(2)
	up := []Page{{Source: 1, Number: 1}, {Source: 1, Number: 2}, {Source: 1, Number: 3}}
	got := Merge(base, up)
	require.Len(t, got, 5)
	assert.Equal(t, base[1], got[1])
	assert.Equal(t, up[0], got[2])
	assert.Len(t, base, 2)
}

func TestDelete(t *testing.T) {
	s := seq(3)
	got, err := Delete(s, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, []int{got[0].Number, got[1].Number})
	assert.Len(t, s, 3, "input must not change")

	_, err = Delete(s, 4)
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	_, err = Delete(seq(1), 1)
	assert.ErrorIs(t, err, ErrLastPageUndeletable)
}

func TestRotate(t *testing.T) {
	tests := []struct {
		start, by, want int
	}{
		{0, 90, 90},
		{270, 90, 0},
		{0, -90, 270},
		{90, 180, 270},
	}
	for _, tt := range tests {
		s := seq(1)
		s[0].Rotation = tt.start
		got, err := Rotate(s, 1, tt.by)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got[0].Rotation, "%d%+d", tt.start, tt.by)
		assert.Equal(t, tt.start, s[0].Rotation, "input must not change")
	}

	for _, by := range []int{0, 45, 270, 360, -180} {
		_, err := Rotate(seq(1), 1, by)
		assert.ErrorIs(t, err, ErrInvalidRotation, "degrees %d", by)
	}
	_, err := Rotate(seq(1), 2, 90)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestRotationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("rotation stays in [0,360) and is a multiple of 90", prop.ForAll(
		func(steps []int) bool {
			turns := [...]int{-90, 90, 180}
			s := seq(1)
			var err error
			for _, st := range steps {
				if s, err = Rotate(s, 1, turns[st]); err != nil {
					return false
				}
			}
			r := s[0].Rotation
			return r >= 0 && r < 360 && r%90 == 0
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.Property("four quarter turns are the identity", prop.ForAll(
		func(start int) bool {
			s := seq(1)
			s[0].Rotation = start * 90
			orig := s[0].Rotation
			for i := 0; i < 4; i++ {
				s, _ = Rotate(s, 1, 90)
			}
			return s[0].Rotation == orig
		},
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

func TestDeleteToOnePage(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("deleting repeatedly always leaves one page", prop.ForAll(
		func(n int, picks []int) bool {
			s := seq(n)
			for _, p := range picks {
				next, err := Delete(s, p%len(s)+1)
				if len(s) == 1 {
					if !errors.Is(err, ErrLastPageUndeletable) {
						return false
					}
					continue
				}
				if err != nil {
					return false
				}
				s = next
			}
			for len(s) > 1 {
				s, _ = Delete(s, 1)
			}
			_, err := Delete(s, 1)
			return len(s) == 1 && errors.Is(err, ErrLastPageUndeletable)
		},
		gen.IntRange(1, 20),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
