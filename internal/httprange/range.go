package httprange

import (
	"errors"
	"strconv"
	"strings"
)

// ContentRange is the byte range a single uploaded chunk covers within the
// whole file, as declared by the Content-Range request header.
type ContentRange struct {
	Start, End, Size int64
}

// Get the length of the chunk covered by the range.
func (cr *ContentRange) Length() int64 { return cr.End - cr.Start + 1 }

// Get the 1-based part number this chunk corresponds to.
func (cr *ContentRange) CurrentPart() int64 { return (cr.Start / (cr.End - cr.Start)) + 1 }

// Get the total number of parts the file is split into.
func (cr *ContentRange) Parts() int64 {
	remainder := 0
	if cr.Size%cr.Length() > 0 {
		remainder = 1
	}
	return cr.Size/cr.Length() + int64(remainder)
}

// Determine whether the range covers the last byte of the file.
func (cr *ContentRange) IsLastByte() bool {
	return cr.End+1 >= cr.Size
}

// ParseContentRange parses a "bytes start-end/size" header value. An empty
// value yields a nil range without error.
func ParseContentRange(s string) (*ContentRange, error) {
	const b = "bytes "
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, b) {
		return nil, errors.New("invalid unit of Content-Range header")
	}
	r := strings.Split(s[len(b):], "/")
	if len(r) != 2 {
		return nil, errors.New("invalid size of Content-Range header")
	}
	size, err := strconv.ParseInt(strings.TrimSpace(r[1]), 10, 64)
	if err != nil {
		return nil, errors.New("cannot parse size of Content-Range header")
	}
	r = strings.Split(r[0], "-")
	if len(r) != 2 {
		return nil, errors.New("cannot parse Content-Range header, expected format \"start-end\"")
	}
	start, err := strconv.ParseInt(strings.TrimSpace(r[0]), 10, 64)
	if err != nil {
		return nil, errors.New("cannot parse start of Content-Range header")
	}
	end, err := strconv.ParseInt(strings.TrimSpace(r[1]), 10, 64)
	if err != nil {
		return nil, errors.New("cannot parse end of Content-Range header")
	}
	if start < 0 || end < start || size < end+1 {
		return nil, errors.New("invalid bounds of Content-Range header")
	}
	return &ContentRange{Start: start, End: end, Size: size}, nil
}
