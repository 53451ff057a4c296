package iq

import (
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFits writes the samples held in words to w as a 2 x N int16 image,
// I in the first column and Q in the second
func WriteFits(w io.Writer, metadata []fitsio.Card, words []uint32) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{2, len(words)})
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	buf := make([]int16, 2*len(words))
	for i, w := range words {
		s := Unpack(w)
		buf[2*i] = int16(s.I)
		buf[2*i+1] = int16(s.Q)
	}
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
