package services

import (
	"bytes"
	"io"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// EXIFService extracts capture metadata from uploaded images
type EXIFService struct{}

// NewEXIFService creates a new EXIFService
func NewEXIFService() *EXIFService {
	return &EXIFService{}
}

// DateTaken returns the capture timestamp embedded in the image, or nil
// when the image carries no usable EXIF data
func (s *EXIFService) DateTaken(data []byte) *time.Time {
	return s.dateTakenFromReader(bytes.NewReader(data))
}

func (s *EXIFService) dateTakenFromReader(r io.Reader) *time.Time {
	x, err := exif.Decode(r)
	if err != nil {
		// No EXIF data or unsupported format
		return nil
	}

	if tm, err := x.DateTime(); err == nil {
		return &tm
	}
	return nil
}
