package cog

import "fmt"

// SourceReadError reports a failure to read or reproject pixels from a
// source raster, such as a missing tile or an unsupported compression.
// Output pixels that fall outside every source's bounds are not an error;
// they stay transparent. The scheduler retries a warp once on this error
// before treating it as fatal.
type SourceReadError struct {
	Path string
	Op   string
	Err  error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("source read %s (%s): %v", e.Path, e.Op, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }
